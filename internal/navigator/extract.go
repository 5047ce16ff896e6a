package navigator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/zsiec/framestep/internal/media"
	"github.com/zsiec/framestep/internal/metrics"
)

var errSeekTimeout = errors.New("seek did not complete before the extraction timeout")

// Extraction outcomes reported to metrics.
const (
	outcomeOK        = "ok"
	outcomeNoSource  = "no_source"
	outcomeNoSurface = "no_surface"
	outcomeCancelled = "cancelled"
	outcomeTimeout   = "timeout"
	outcomeEncode    = "encode_error"
	outcomeMoved     = "moved"
)

// sourceQueues holds one single-slot queue per shared source so that
// extractions from different navigators over the same source run one at a
// time.
var sourceQueues sync.Map

// ReleaseSource drops the extraction queue kept for src. Call it once the
// source is closed.
func ReleaseSource(src Source) {
	if src == nil || !reflect.TypeOf(src).Comparable() {
		return
	}
	sourceQueues.Delete(src)
}

func (n *Navigator) extractionQueue() chan struct{} {
	if !reflect.TypeOf(n.src).Comparable() {
		return n.queue
	}
	q, _ := sourceQueues.LoadOrStore(n.src, make(chan struct{}, 1))
	return q.(chan struct{})
}

// ExtractFrame captures the current frame as a PNG still. The boolean is
// false when no still could be produced.
func (n *Navigator) ExtractFrame(ctx context.Context) (*Still, bool) {
	return n.ExtractFrameAt(ctx, n.CurrentFrame())
}

// ExtractFrameAt seeks to frame, waits for the seek to complete, captures
// the frame and restores the position the source had before the call. Out
// of range frames are clamped like GoToFrame; the still reports the frame
// actually captured.
//
// Extractions over the same source are serialized. The call resolves as
// absent when ctx ends or the configured timeout elapses before the seek
// completes. It is also absent when the position is moved by someone else
// while the extraction runs; that newer position is then left in place.
// Otherwise the source position is restored in every case.
func (n *Navigator) ExtractFrameAt(ctx context.Context, frame int) (*Still, bool) {
	if n.src == nil {
		metrics.RecordExtraction(outcomeNoSource, 0)
		return nil, false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	log := n.logger.WithField("frame", frame)

	queue := n.extractionQueue()
	select {
	case queue <- struct{}{}:
	case <-ctx.Done():
		log.WithError(ctx.Err()).Debug("Extraction cancelled while queued")
		metrics.RecordExtraction(outcomeCancelled, time.Since(start))
		return nil, false
	}
	defer func() { <-queue }()

	originalTime := n.src.CurrentTime()
	seeked, detach := n.src.OnSeeked()
	defer detach()

	target := n.frameTime(frame)
	n.src.SetCurrentTime(target)

	width, height := n.src.Dimensions()
	surface := n.surfaces(width, height)
	if surface == nil {
		n.restore(originalTime, target)
		log.WithFields(map[string]interface{}{
			"width":  width,
			"height": height,
		}).Warn("No drawing surface available for extraction")
		metrics.RecordExtraction(outcomeNoSurface, time.Since(start))
		return nil, false
	}

	if err := n.awaitSeek(ctx, seeked); err != nil {
		n.restore(originalTime, target)
		outcome := outcomeCancelled
		if errors.Is(err, errSeekTimeout) {
			outcome = outcomeTimeout
		}
		log.WithError(err).Warn("Extraction abandoned before seek completed")
		metrics.RecordExtraction(outcome, time.Since(start))
		return nil, false
	}

	n.src.DrawFrame(surface)
	if n.src.CurrentTime() != target {
		log.Warn("Position moved during extraction, discarding still")
		metrics.RecordExtraction(outcomeMoved, time.Since(start))
		return nil, false
	}

	data, err := encodePNG(surface)
	n.restore(originalTime, target)
	if err != nil {
		log.WithError(err).Error("Failed to encode still")
		metrics.RecordExtraction(outcomeEncode, time.Since(start))
		return nil, false
	}

	elapsed := time.Since(start)
	metrics.RecordExtraction(outcomeOK, elapsed)
	log.WithFields(map[string]interface{}{
		"time":        target,
		"bytes":       len(data),
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Frame extracted")

	return &Still{
		frame:  media.FrameAt(target, n.fps),
		time:   target,
		width:  width,
		height: height,
		data:   data,
	}, true
}

// restore puts the source back at original unless another caller has
// moved it away from target in the meantime.
func (n *Navigator) restore(original, target float64) {
	if n.src.CurrentTime() == target {
		n.src.SetCurrentTime(original)
	}
}

func (n *Navigator) awaitSeek(ctx context.Context, seeked <-chan struct{}) error {
	var expired <-chan time.Time
	if n.timeout > 0 {
		timer := time.NewTimer(n.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-seeked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return errSeekTimeout
	}
}
