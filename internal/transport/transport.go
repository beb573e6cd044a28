// Package transport provides the download primitive the queue drains into:
// a progress-reporting, cancellable, resumable fetch of one artifact into a
// destination path.
package transport

import "context"

// Request describes one transfer.
type Request struct {
	URL      string
	DestPath string
	// ExpectedSize, when known from the catalog, seeds the total figure
	// reported before the first response arrives.
	ExpectedSize int64
	Headers      map[string]string
}

// Progress receives periodic byte counts for a transfer. total is 0 while
// unknown. Producers do not rate-limit calls; observers coalesce.
type Progress func(bytesDone, total int64)

// Transport fetches artifacts. Implementations must support cooperative
// cancellation through ctx and resume from a partial file when offered the
// same destination path again.
type Transport interface {
	Download(ctx context.Context, req Request, progress Progress) error
}

// Cleanup removes partial state for a destination path after an explicit
// cancel. Implementations that keep no partial state may ignore it.
type Cleanup interface {
	Discard(destPath string) error
}
