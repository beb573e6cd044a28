// Package core provides the action dispatch system, the process-wide store
// and the task runner that the install/download orchestrator is built on.
package core

import "time"

// Game identifies an item offered by the catalog.
type Game struct {
	ID    int64
	Title string
}

// Upload describes a distributable artifact offered by the catalog for a
// game. Owned by the catalog collaborator, read-only to this core.
type Upload struct {
	ID          int64
	Filename    string
	DisplayName string
	Size        int64
	// SourceURL is where the transport fetches the artifact from.
	SourceURL string
}

// Build pins an upload to a specific published build, used by revert and
// heal which must not fetch the latest.
type Build struct {
	ID        int64
	UploadID  int64
	Version   string
	SourceURL string
}

// DownloadKey scopes access to non-public uploads.
type DownloadKey struct {
	ID     int64
	GameID int64
}

// Credentials authenticate calls into the catalog collaborator.
type Credentials struct {
	APIKey string
}

// Cave is a locally installed instance of a game. At most one Cave exists
// per game id.
type Cave struct {
	ID          string
	GameID      int64
	UploadID    int64
	BuildID     int64
	InstallPath string
	InstalledAt time.Time
	Op          CaveOp
}

// CaveOp is the lifecycle operation currently applied to an installed cave.
type CaveOp int

const (
	OpNone CaveOp = iota
	OpUpdating
	OpReverting
	OpHealing
	OpUninstalling
)

func (o CaveOp) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpUpdating:
		return "updating"
	case OpReverting:
		return "reverting"
	case OpHealing:
		return "healing"
	case OpUninstalling:
		return "uninstalling"
	default:
		return "unknown"
	}
}

// TaskStatus is the lifecycle state of a tracked task.
type TaskStatus int

const (
	TaskQueued TaskStatus = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
	TaskAborted
)

func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TaskInfo is the store's record of a tracked asynchronous unit of work.
// Progress is in [0,1] and is monotonically non-decreasing while running.
type TaskInfo struct {
	ID        string
	Name      string
	GameID    int64
	CaveID    string
	StartedAt time.Time
	Progress  float64
	Status    TaskStatus
	Err       string
}

// DownloadStatus is the lifecycle state of a queued download.
type DownloadStatus int

const (
	DownloadQueued DownloadStatus = iota
	DownloadActive
	DownloadPaused
	DownloadSucceeded
	DownloadFailed
	DownloadCancelled
)

func (s DownloadStatus) String() string {
	switch s {
	case DownloadQueued:
		return "queued"
	case DownloadActive:
		return "active"
	case DownloadPaused:
		return "paused"
	case DownloadSucceeded:
		return "succeeded"
	case DownloadFailed:
		return "failed"
	case DownloadCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadSnapshot mirrors a queue item into the store for observers. The
// queue itself stays authoritative for ordering and promotion.
type DownloadSnapshot struct {
	ID        string
	GameID    int64
	Filename  string
	Status    DownloadStatus
	BytesDone int64
	TotalSize int64
	BPS       float64
	Err       string
}

// TransferStats aggregates global transfer figures across the queue.
type TransferStats struct {
	NumActive  int
	NumQueued  int
	NumStopped int
	BPS        float64
}
