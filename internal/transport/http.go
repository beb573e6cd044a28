package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/publicsuffix"

	"cavern/internal/errkind"
)

// partSuffix marks in-flight files; the destination only appears once the
// transfer completed and verified its size.
const partSuffix = ".part"

const copyBufferSize = 32 * 1024

// Options tune the HTTP transport.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// MaxTries bounds silent retries of connectivity failures; other error
	// kinds surface after the first attempt.
	MaxTries  int
	RetryWait time.Duration
}

// HTTPTransport implements Transport over plain ranged HTTP requests.
type HTTPTransport struct {
	client *http.Client
	opts   Options
}

// NewHTTPTransport builds the transport with a cookie jar backed by the
// public suffix list.
func NewHTTPTransport(opts Options) (*HTTPTransport, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if opts.MaxTries < 1 {
		opts.MaxTries = 1
	}
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Jar: jar,
	}
	return &HTTPTransport{client: client, opts: opts}, nil
}

// Download fetches req.URL into req.DestPath. A partial file left by an
// earlier attempt against the same destination resumes with a Range request.
// Connectivity failures retry silently up to MaxTries; cancellation via ctx
// stops at the next read.
func (t *HTTPTransport) Download(ctx context.Context, req Request, progress Progress) error {
	var lastErr error
	for attempt := 0; attempt < t.opts.MaxTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.opts.RetryWait):
			}
		}
		err := t.attempt(ctx, req, progress)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errkind.Retryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (t *HTTPTransport) attempt(ctx context.Context, req Request, progress Progress) error {
	partPath := req.DestPath + partSuffix
	if err := os.MkdirAll(filepath.Dir(partPath), 0o755); err != nil {
		return errkind.Wrap(errkind.Filesystem, err, "create staging dir")
	}

	var resumeFrom int64
	if fi, err := os.Stat(partPath); err == nil {
		resumeFrom = fi.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return errkind.Wrap(errkind.Transport, err, "build request")
	}
	if t.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.opts.UserAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if resumeFrom > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errkind.Wrap(errkind.Network, err, "request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; start over.
		resumeFrom = 0
	case http.StatusPartialContent:
	case http.StatusUnauthorized, http.StatusForbidden:
		return errkind.Newf(errkind.Api, "server refused download: %s", resp.Status)
	case http.StatusNotFound, http.StatusGone:
		return errkind.Newf(errkind.Api, "artifact missing: %s", resp.Status)
	default:
		if resp.StatusCode >= 500 {
			return errkind.Newf(errkind.Network, "server error: %s", resp.Status)
		}
		return errkind.Newf(errkind.Transport, "unexpected status: %s", resp.Status)
	}

	total := req.ExpectedSize
	if resp.ContentLength > 0 {
		total = resumeFrom + resp.ContentLength
	}

	flags := os.O_WRONLY | os.O_CREATE
	if resumeFrom == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	file, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.Filesystem, err, "open partial file")
	}

	done, err := t.copyBody(ctx, file, resp.Body, resumeFrom, total, progress)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = errkind.Wrap(errkind.Filesystem, cerr, "close partial file")
	}
	if err != nil {
		// The partial file stays behind for the next resume attempt.
		return err
	}
	if total > 0 && done != total {
		return errkind.Newf(errkind.Transport, "size mismatch: got %d, want %d", done, total)
	}
	if err := os.Rename(partPath, req.DestPath); err != nil {
		return errkind.Wrap(errkind.Filesystem, err, "materialize download")
	}
	if progress != nil {
		progress(done, done)
	}
	return nil
}

func (t *HTTPTransport) copyBody(ctx context.Context, dst io.Writer, src io.Reader, start, total int64, progress Progress) (int64, error) {
	buf := make([]byte, copyBufferSize)
	done := start
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, errkind.Wrap(errkind.Filesystem, werr, "write partial file")
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			var nerr net.Error
			if errors.As(rerr, &nerr) {
				return done, errkind.Wrap(errkind.Network, rerr, "connection lost")
			}
			return done, errkind.Wrap(errkind.Transport, rerr, "read body")
		}
	}
}

// Discard removes the partial file for a destination after an explicit
// cancel, per the queue's cleanup contract.
func (t *HTTPTransport) Discard(destPath string) error {
	err := os.Remove(destPath + partSuffix)
	if err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.Filesystem, err, "discard partial file")
	}
	return nil
}
