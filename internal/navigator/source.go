package navigator

import "image/draw"

// Source is the playable media a Navigator steps through.
//
// Implementations clamp the position they are given to [0, Duration()] and
// complete every seek asynchronously. A seek-completed listener registered
// with OnSeeked fires only for a seek started after the registration, so a
// caller that registers first and seeks second never observes a stale
// completion.
type Source interface {
	// CurrentTime returns the playback position in seconds.
	CurrentTime() float64
	// SetCurrentTime starts a seek to the given position in seconds.
	SetCurrentTime(seconds float64)
	// Duration returns the media length in seconds. It may be NaN or Inf
	// while metadata is not loaded.
	Duration() float64
	// Dimensions returns the native pixel size of the video.
	Dimensions() (width, height int)
	// OnSeeked registers a single-shot listener. The channel is closed when
	// the next seek completes. The returned func detaches the listener and
	// may be called any number of times.
	OnSeeked() (<-chan struct{}, func())
	// DrawFrame draws the currently displayed frame into dst at native size.
	DrawFrame(dst draw.Image)
}
