package navigator

import (
	"math"
	"time"

	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/media"
	"github.com/zsiec/framestep/internal/metrics"
)

// DefaultFPS is the frame rate used when none is configured.
const DefaultFPS = 30.0

// Navigator is a frame-indexed view over a Source. It holds no position
// state of its own: every frame number is recomputed from the source's
// current playback position.
type Navigator struct {
	src      Source
	fps      float64
	surfaces SurfaceFactory
	timeout  time.Duration
	logger   logger.Logger

	// queue serializes extractions when src cannot key the shared registry.
	queue chan struct{}
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithLogger sets the logger used for extraction diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithSurfaceFactory overrides how drawing surfaces are allocated.
func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(n *Navigator) {
		if f != nil {
			n.surfaces = f
		}
	}
}

// WithExtractTimeout bounds how long an extraction waits for the seek to
// complete. Zero waits indefinitely.
func WithExtractTimeout(d time.Duration) Option {
	return func(n *Navigator) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// New binds a navigator to src, which may be nil. A frame rate that is not a
// positive finite number selects DefaultFPS.
func New(src Source, fps float64, opts ...Option) *Navigator {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = DefaultFPS
	}

	n := &Navigator{
		src:      src,
		fps:      fps,
		surfaces: BoundedSurfaces(DefaultMaxSurfacePixels),
		logger:   logger.NewNullLogger(),
		queue:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FPS returns the frame rate in use.
func (n *Navigator) FPS() float64 {
	return n.fps
}

// Source returns the bound source, or nil.
func (n *Navigator) Source() Source {
	return n.src
}

// CurrentFrame returns floor(currentTime * fps), never negative. It returns
// 0 when no source is bound.
func (n *Navigator) CurrentFrame() int {
	if n.src == nil {
		return 0
	}
	return media.FrameAt(n.src.CurrentTime(), n.fps)
}

// TotalFrames returns floor(duration * fps), or 0 when no source is bound
// or the duration is not yet known.
func (n *Navigator) TotalFrames() int {
	if n.src == nil {
		return 0
	}
	d := n.src.Duration()
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return media.FrameAt(d, n.fps)
}

// GoToFrame moves the source to frame/fps clamped to [0, duration]. Any
// frame number is accepted.
func (n *Navigator) GoToFrame(frame int) {
	if n.src == nil {
		return
	}
	metrics.RecordNavigation("goto")
	n.src.SetCurrentTime(n.frameTime(frame))
}

// NextFrame advances one frame. At the last frame the position stays at
// the duration.
func (n *Navigator) NextFrame() {
	if n.src == nil {
		return
	}
	metrics.RecordNavigation("next")
	n.src.SetCurrentTime(n.frameTime(n.CurrentFrame() + 1))
}

// PreviousFrame steps back one frame. At frame 0 the position stays at 0.
func (n *Navigator) PreviousFrame() {
	if n.src == nil {
		return
	}
	metrics.RecordNavigation("previous")
	n.src.SetCurrentTime(n.frameTime(n.CurrentFrame() - 1))
}

// frameTime converts a frame number to the position where that frame
// starts, clamped to the source.
func (n *Navigator) frameTime(frame int) float64 {
	return media.ClampTime(media.FrameStart(frame, n.fps), n.src.Duration())
}
