// Package memory provides a synthetic video source that renders every frame
// as a solid colour. A captured still therefore identifies the frame it was
// taken from, which makes it useful for tests and demos.
package memory

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/zsiec/framestep/internal/media"
)

// Options configures a synthetic source.
type Options struct {
	Width     int
	Height    int
	FPS       float64
	Duration  float64       // seconds; NaN models metadata that never loaded
	SeekDelay time.Duration // latency before a seek completes; negative never completes
}

// DefaultOptions returns a 10 second 30 fps 320x180 clip.
func DefaultOptions() Options {
	return Options{
		Width:     320,
		Height:    180,
		FPS:       30,
		Duration:  10,
		SeekDelay: time.Millisecond,
	}
}

// Source is a synthetic navigator.Source.
type Source struct {
	opts Options

	mu      sync.Mutex
	seeks   *media.SeekTracker
	current float64
	shown   int // frame index currently displayed
	started int
	drawn   []int
}

// New creates a synthetic source positioned at 0.
func New(opts Options) *Source {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	s := &Source{opts: opts}
	s.seeks = media.NewSeekTracker(&s.mu)
	return s
}

// FrameColor returns the colour frame is rendered with.
func FrameColor(frame int) color.Color {
	hue := math.Mod(float64(frame)*7, 360)
	return colorful.Hsv(hue, 0.75, 0.9)
}

// CurrentTime implements navigator.Source.
func (s *Source) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrentTime clamps seconds to [0, duration] and completes the seek
// after the configured delay. A newer seek supersedes any pending one.
func (s *Source) SetCurrentTime(seconds float64) {
	s.mu.Lock()
	s.current = media.ClampTime(seconds, s.opts.Duration)
	s.started++
	gen := s.seeks.Begin()
	frame := media.FrameAt(s.current, s.opts.FPS)
	s.mu.Unlock()

	if s.opts.SeekDelay < 0 {
		return
	}
	go s.completeSeek(gen, frame)
}

// SetCurrentTimeRaw moves the position without clamping or seeking. It
// models a source that reports out-of-range positions.
func (s *Source) SetCurrentTimeRaw(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = seconds
}

func (s *Source) completeSeek(gen uint64, frame int) {
	if s.opts.SeekDelay > 0 {
		time.Sleep(s.opts.SeekDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeks.Latest(gen) {
		return
	}
	s.shown = frame
	s.seeks.Complete(gen)
}

// Duration implements navigator.Source.
func (s *Source) Duration() float64 {
	return s.opts.Duration
}

// Dimensions implements navigator.Source.
func (s *Source) Dimensions() (int, int) {
	return s.opts.Width, s.opts.Height
}

// OnSeeked implements navigator.Source.
func (s *Source) OnSeeked() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks.Listen()
}

// DrawFrame fills dst with the colour of the displayed frame.
func (s *Source) DrawFrame(dst draw.Image) {
	s.mu.Lock()
	frame := s.shown
	s.drawn = append(s.drawn, frame)
	s.mu.Unlock()

	draw.Draw(dst, dst.Bounds(), image.NewUniform(FrameColor(frame)), image.Point{}, draw.Src)
}

// Listeners returns the number of attached seek listeners.
func (s *Source) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks.Listeners()
}

// Seeks returns how many seeks have been started.
func (s *Source) Seeks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Drawn returns the frames DrawFrame rendered, in order.
func (s *Source) Drawn() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.drawn))
	copy(out, s.drawn)
	return out
}

// WaitIdle blocks until the latest seek completed or the timeout elapses.
func (s *Source) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		idle := s.seeks.Idle()
		s.mu.Unlock()
		if idle {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
