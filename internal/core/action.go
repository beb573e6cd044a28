package core

// ActionName tags a unit of intent flowing through the dispatch system. The
// taxonomy of names and payload shapes is the public contract between this
// core and the presentation layer; payload fields are additive-only.
type ActionName string

const (
	// ActionBoot is dispatched once after the registry validates.
	ActionBoot ActionName = "boot"

	// User intents.
	ActionInstallGame   ActionName = "install-game"
	ActionUninstallCave ActionName = "uninstall-cave"
	ActionRevertCave    ActionName = "revert-cave"
	ActionHealCave      ActionName = "heal-cave"

	// Task lifecycle.
	ActionTaskStarted  ActionName = "task-started"
	ActionTaskProgress ActionName = "task-progress"
	ActionTaskEnded    ActionName = "task-ended"
	ActionAbortTask    ActionName = "abort-task"

	// Download queue operations and lifecycle.
	ActionQueueDownload      ActionName = "queue-download"
	ActionDownloadStarted    ActionName = "download-started"
	ActionDownloadProgress   ActionName = "download-progress"
	ActionDownloadEnded      ActionName = "download-ended"
	ActionPrioritizeDownload ActionName = "prioritize-download"
	ActionPauseDownloads     ActionName = "pause-downloads"
	ActionResumeDownloads    ActionName = "resume-downloads"
	ActionCancelDownload     ActionName = "cancel-download"
	ActionRetryDownload      ActionName = "retry-download"
	ActionClearFinished      ActionName = "clear-finished-downloads"

	// Cave record updates.
	ActionCaveSaved     ActionName = "cave-saved"
	ActionCaveOpChanged ActionName = "cave-op-changed"
	ActionCaveImploded  ActionName = "cave-imploded"

	// Presentation collaborator surface.
	ActionOpenModal     ActionName = "open-modal"
	ActionModalResponse ActionName = "modal-response"
	ActionNotify        ActionName = "notify"
)

// knownActions is the closed catalog the registry validates against.
var knownActions = map[ActionName]bool{
	ActionBoot:               true,
	ActionInstallGame:        true,
	ActionUninstallCave:      true,
	ActionRevertCave:         true,
	ActionHealCave:           true,
	ActionTaskStarted:        true,
	ActionTaskProgress:       true,
	ActionTaskEnded:          true,
	ActionAbortTask:          true,
	ActionQueueDownload:      true,
	ActionDownloadStarted:    true,
	ActionDownloadProgress:   true,
	ActionDownloadEnded:      true,
	ActionPrioritizeDownload: true,
	ActionPauseDownloads:     true,
	ActionResumeDownloads:    true,
	ActionCancelDownload:     true,
	ActionRetryDownload:      true,
	ActionClearFinished:      true,
	ActionCaveSaved:          true,
	ActionCaveOpChanged:      true,
	ActionCaveImploded:       true,
	ActionOpenModal:          true,
	ActionModalResponse:      true,
	ActionNotify:             true,
}

// Action is a named, payload-carrying unit of intent. Immutable once
// dispatched; identity is transient and never persisted.
type Action struct {
	Name    ActionName
	Payload any
}

// InstallGamePayload carries the install intent. PickedUpload short-circuits
// resolution when the user already chose a candidate from a prompt.
type InstallGamePayload struct {
	Game         Game
	PickedUpload *Upload
	DownloadKey  *DownloadKey
	Credentials  Credentials
}

// UninstallCavePayload asks for an installed cave to be removed.
type UninstallCavePayload struct {
	CaveID string
}

// RevertCavePayload pins a cave back to a specific build.
type RevertCavePayload struct {
	CaveID      string
	BuildID     int64
	Credentials Credentials
}

// HealCavePayload asks for a cave to be re-materialized from its current build.
type HealCavePayload struct {
	CaveID      string
	Credentials Credentials
}

// TaskStartedPayload records a freshly started tracked task.
type TaskStartedPayload struct {
	Task TaskInfo
}

// TaskProgressPayload advances a running task's progress figure.
type TaskProgressPayload struct {
	ID       string
	Progress float64
}

// TaskEndedPayload carries the single terminal report of a task. Err is nil
// on success; Aborted is set when the task observed an abort signal.
type TaskEndedPayload struct {
	ID      string
	Err     error
	Aborted bool
	Result  any
}

// AbortTaskPayload signals a running task to stop at its next checkpoint.
type AbortTaskPayload struct {
	ID string
}

// QueueDownloadPayload enqueues a new download.
type QueueDownloadPayload struct {
	Game        Game
	Upload      Upload
	BuildID     int64
	DestPath    string
	DownloadKey *DownloadKey
	// Reason distinguishes install from update, revert and heal flows.
	Reason string
}

// DownloadStartedPayload marks a queue item as actively transferring.
type DownloadStartedPayload struct {
	ID       string
	TaskID   string
	Snapshot DownloadSnapshot
}

// DownloadProgressPayload carries a periodic transfer sample.
type DownloadProgressPayload struct {
	ID        string
	BytesDone int64
	TotalSize int64
	BPS       float64
}

// DownloadEndedPayload carries a transfer's terminal outcome.
type DownloadEndedPayload struct {
	ID      string
	GameID  int64
	Err     error
	Aborted bool
}

// PrioritizeDownloadPayload moves a pending item to the front of the queue.
type PrioritizeDownloadPayload struct {
	ID string
}

// CancelDownloadPayload removes an item from the queue.
type CancelDownloadPayload struct {
	ID string
}

// RetryDownloadPayload re-enqueues a failed item with its original options.
type RetryDownloadPayload struct {
	ID string
}

// CaveSavedPayload upserts a cave record. The store enforces the single
// cave per game invariant by replacing any previous record for the game.
type CaveSavedPayload struct {
	Cave Cave
}

// CaveOpChangedPayload records a lifecycle operation entering or leaving a cave.
type CaveOpChangedPayload struct {
	CaveID string
	Op     CaveOp
}

// CaveImplodedPayload destroys a cave record after uninstall completes.
type CaveImplodedPayload struct {
	CaveID string
}

// ModalOption is one user-pickable choice; Action is re-dispatched verbatim
// when the option is selected.
type ModalOption struct {
	Label  string
	Action Action
}

// OpenModalPayload asks the presentation collaborator for a user pick. The
// core never blocks on it; the selection comes back as a modal-response.
type OpenModalPayload struct {
	Title   string
	Message string
	Options []ModalOption
}

// ModalResponsePayload carries the user's selection back into the core.
type ModalResponsePayload struct {
	Picked *ModalOption
}

// NotifyPayload surfaces a user-visible notice. Retry, when set, re-issues
// the original intent unchanged ("try again").
type NotifyPayload struct {
	Message string
	Err     error
	Retry   *Action
}
