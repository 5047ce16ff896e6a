// Package ffmpeg implements navigator.Source over a video file, decoding one
// frame per seek with the ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/media"
	"github.com/zsiec/framestep/internal/metrics"
)

// DecodeFunc decodes the frame displayed at seconds.
type DecodeFunc func(ctx context.Context, path string, seconds float64) (image.Image, error)

// Options configures a file source.
type Options struct {
	// FrameCacheSize bounds the decoded frames kept in memory. Zero
	// disables caching.
	FrameCacheSize int
	Logger         logger.Logger
	// Decode overrides the ffmpeg decoder.
	Decode DecodeFunc
}

type seekRequest struct {
	gen     uint64
	seconds float64
}

// Source is a navigator.Source backed by a video file. Seeks are decoded by
// a single worker; a burst of seeks only decodes the newest one.
type Source struct {
	path   string
	info   Info
	decode DecodeFunc
	logger logger.Logger

	mu      sync.Mutex
	seeks   *media.SeekTracker
	current float64
	shown   image.Image
	pending *seekRequest
	frames  *frameCache

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open probes path and returns a source positioned at 0 along with the
// stream information.
func Open(ctx context.Context, path string, opts Options) (*Source, error) {
	info, err := Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	return NewSource(path, *info, opts), nil
}

// NewSource creates a source for an already probed file.
func NewSource(path string, info Info, opts Options) *Source {
	if opts.Decode == nil {
		opts.Decode = DecodeFrame
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		path:   path,
		info:   info,
		decode: opts.Decode,
		logger: opts.Logger.WithField("path", path),
		shown:  image.NewRGBA(image.Rect(0, 0, info.Width, info.Height)),
		frames: newFrameCache(opts.FrameCacheSize),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.seeks = media.NewSeekTracker(&s.mu)

	s.wg.Add(1)
	go s.run()

	return s
}

// Info returns the probed stream information.
func (s *Source) Info() Info {
	return s.info
}

// Path returns the file path.
func (s *Source) Path() string {
	return s.path
}

// CurrentTime implements navigator.Source.
func (s *Source) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrentTime implements navigator.Source.
func (s *Source) SetCurrentTime(seconds float64) {
	s.mu.Lock()
	s.current = media.ClampTime(seconds, s.info.Duration)
	s.pending = &seekRequest{gen: s.seeks.Begin(), seconds: s.current}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Duration implements navigator.Source.
func (s *Source) Duration() float64 {
	return s.info.Duration
}

// Dimensions implements navigator.Source.
func (s *Source) Dimensions() (int, int) {
	return s.info.Width, s.info.Height
}

// OnSeeked implements navigator.Source.
func (s *Source) OnSeeked() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks.Listen()
}

// DrawFrame implements navigator.Source.
func (s *Source) DrawFrame(dst draw.Image) {
	s.mu.Lock()
	shown := s.shown
	s.mu.Unlock()

	draw.Draw(dst, dst.Bounds(), shown, shown.Bounds().Min, draw.Src)
}

// Close stops the decode worker. Pending seeks never complete.
func (s *Source) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Source) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		req := s.pending
		s.pending = nil
		s.mu.Unlock()
		if req == nil {
			continue
		}

		img := s.frameFor(req.seconds)
		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.seeks.Latest(req.gen) {
			if img != nil {
				s.shown = img
			}
			s.seeks.Complete(req.gen)
		}
		s.mu.Unlock()
	}
}

// frameFor returns the decoded frame for seconds, or nil when decoding
// failed and the previous frame should stay displayed.
func (s *Source) frameFor(seconds float64) image.Image {
	fps := s.info.FPS()
	frame := media.FrameAt(seconds, fps)

	if img, ok := s.frames.get(frame); ok {
		return img
	}

	start := time.Now()
	img, err := s.decode(s.ctx, s.path, s.decodeTime(frame, seconds))
	metrics.RecordSeekDecode(time.Since(start), err)
	if err != nil {
		s.logger.WithError(err).WithField("seconds", seconds).Warn("Failed to decode frame for seek")
		return nil
	}

	s.frames.put(frame, img)
	return img
}

// decodeTime picks a timestamp inside frame, keeping the last frame
// decodable when the position sits exactly at the duration.
func (s *Source) decodeTime(frame int, seconds float64) float64 {
	fps := s.info.FPS()
	if fps <= 0 {
		return seconds
	}
	t := (float64(frame) + 0.5) / fps
	if d := s.info.Duration; d > 0 && t >= d {
		t = d - 0.5/fps
	}
	if t < 0 {
		t = 0
	}
	return t
}

// DecodeFrame decodes a single frame at seconds with the ffmpeg binary. The
// ffmpeg process is killed if ctx ends first.
func DecodeFrame(ctx context.Context, path string, seconds float64) (image.Image, error) {
	buf := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := ffmpeggo.Input(path, ffmpeggo.KwArgs{"ss": strconv.FormatFloat(seconds, 'f', 6, 64)}).
		Output("pipe:", ffmpeggo.KwArgs{"frames:v": 1, "format": "image2", "vcodec": "png"}).
		Compile()
	cmd.Stdout = buf
	cmd.Stderr = stderr

	if err := runCmd(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg process canceled or timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg error: %v - stderr: %s", err, stderr.String())
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %.3fs", seconds)
	}
	img, err := imaging.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("error decoding frame at %.3fs: %w", seconds, err)
	}
	return img, nil
}

// runCmd runs cmd to completion, killing it and reaping the process when
// ctx ends first.
func runCmd(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	select {
	case err := <-waited:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waited
		return ctx.Err()
	}
}
