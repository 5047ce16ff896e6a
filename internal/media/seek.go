// Package media holds the pieces shared by navigator.Source
// implementations.
package media

import (
	"math"
	"sync"
)

type seekListener struct {
	ch       chan struct{}
	afterGen uint64
}

// SeekTracker numbers seeks and delivers completion to seek listeners. A
// listener fires for the first seek that started after it was registered
// and completed without being superseded.
//
// Apart from the detach funcs it hands out, SeekTracker is not locked on
// its own: callers hold the Locker passed to NewSeekTracker around every
// method call.
type SeekTracker struct {
	mu        sync.Locker
	gen       uint64
	done      uint64
	nextID    uint64
	listeners map[uint64]*seekListener
}

// NewSeekTracker creates a tracker guarded by mu.
func NewSeekTracker(mu sync.Locker) *SeekTracker {
	return &SeekTracker{
		mu:        mu,
		listeners: make(map[uint64]*seekListener),
	}
}

// Begin starts a new seek and returns its generation.
func (t *SeekTracker) Begin() uint64 {
	t.gen++
	return t.gen
}

// Latest reports whether gen is the most recent seek.
func (t *SeekTracker) Latest(gen uint64) bool {
	return gen == t.gen
}

// Complete marks gen as finished and fires the listeners waiting on it. It
// returns false, firing nothing, when a newer seek has started since.
func (t *SeekTracker) Complete(gen uint64) bool {
	if gen != t.gen {
		return false
	}
	t.done = gen
	for id, l := range t.listeners {
		if gen > l.afterGen {
			close(l.ch)
			delete(t.listeners, id)
		}
	}
	return true
}

// Listen registers a single-shot listener for the next completed seek.
func (t *SeekTracker) Listen() (<-chan struct{}, func()) {
	id := t.nextID
	t.nextID++
	l := &seekListener{ch: make(chan struct{}), afterGen: t.gen}
	t.listeners[id] = l

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Listeners returns the number of attached listeners.
func (t *SeekTracker) Listeners() int {
	return len(t.listeners)
}

// Idle reports whether the latest seek has completed.
func (t *SeekTracker) Idle() bool {
	return t.done == t.gen
}

// ClampTime bounds seconds to [0, duration]. An unknown duration only
// bounds from below.
func ClampTime(seconds, duration float64) float64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if !math.IsNaN(duration) && !math.IsInf(duration, 0) && duration >= 0 && seconds > duration {
		return duration
	}
	return seconds
}

// MaxFrameIndex caps frame numbers so they fit an int on every platform.
const MaxFrameIndex = math.MaxInt32

// FrameAt returns floor(seconds * fps), the frame displayed at seconds. It
// is 0 for non-positive or NaN positions and never exceeds MaxFrameIndex.
func FrameAt(seconds, fps float64) int {
	if math.IsNaN(seconds) || seconds <= 0 || fps <= 0 {
		return 0
	}
	f := math.Floor(seconds * fps)
	if f > MaxFrameIndex {
		return MaxFrameIndex
	}
	return int(f)
}

// FrameStart returns frame/fps, nudged up by as few ulps as it takes for
// FrameAt to map it back to frame. frame/fps alone can land a hair below the
// boundary, e.g. 299 at 30000/1001.
func FrameStart(frame int, fps float64) float64 {
	if frame <= 0 || fps <= 0 {
		return 0
	}
	t := float64(frame) / fps
	for math.Floor(t*fps) < float64(frame) && !math.IsInf(t, 1) {
		t = math.Nextafter(t, math.Inf(1))
	}
	return t
}
