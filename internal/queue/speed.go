package queue

import "time"

// speedWindow aggregates transfer samples into a rolling bytes-per-second
// figure over a fixed window.
type speedWindow struct {
	window  time.Duration
	samples []speedSample
}

type speedSample struct {
	at    time.Time
	bytes int64
}

func newSpeedWindow(window time.Duration) *speedWindow {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &speedWindow{window: window}
}

// note records the cumulative byte count at now and drops samples that fell
// out of the window.
func (w *speedWindow) note(now time.Time, bytes int64) {
	w.samples = append(w.samples, speedSample{at: now, bytes: bytes})
	cut := now.Add(-w.window)
	i := 0
	for i < len(w.samples)-1 && w.samples[i].at.Before(cut) {
		i++
	}
	w.samples = w.samples[i:]
}

// bps returns the rolling bytes-per-second over the retained samples. Two
// samples are needed before a figure exists.
func (w *speedWindow) bps() float64 {
	if len(w.samples) < 2 {
		return 0
	}
	first, last := w.samples[0], w.samples[len(w.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

func (w *speedWindow) reset() {
	w.samples = w.samples[:0]
}
