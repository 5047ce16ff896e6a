package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/zsiec/framestep/internal/navigator"
)

func init() {
	ffmpeggo.LogCompiledCommand = false
}

// Info describes the first video stream of a file.
type Info struct {
	Width     int
	Height    int
	Codec     string
	FrameRate navigator.Rational
	Duration  float64 // seconds; NaN when the container does not report it
}

// FPS returns the frame rate as a float, or 0 when unknown.
func (i Info) FPS() float64 {
	return i.FrameRate.Float64()
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeFunc func(path string) (string, error)

func ffprobe(path string) (string, error) {
	return ffmpeggo.Probe(path)
}

// Probe reads stream information with ffprobe. ffprobe itself cannot be
// interrupted, so on cancellation the call returns while the process runs
// to completion in the background.
func Probe(ctx context.Context, path string) (*Info, error) {
	return probeWith(ctx, path, ffprobe)
}

func probeWith(ctx context.Context, path string, probe probeFunc) (*Info, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := probe(path)
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("ffprobe canceled or timed out: %w", ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("ffprobe error: %w", res.err)
	}

	return parseProbe(res.out)
}

func parseProbe(raw string) (*Info, error) {
	var data probeOutput
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("error parsing ffprobe output: %w", err)
	}

	for _, stream := range data.Streams {
		if stream.CodecType != "video" {
			continue
		}
		if stream.Width <= 0 || stream.Height <= 0 {
			return nil, fmt.Errorf("invalid video dimensions %dx%d", stream.Width, stream.Height)
		}

		rate, err := navigator.ParseRational(stream.AvgFrameRate)
		if err != nil || rate.Num <= 0 {
			// avg_frame_rate is 0/0 for some streams; fall back to r_frame_rate
			rate, err = navigator.ParseRational(stream.RFrameRate)
			if err != nil {
				return nil, fmt.Errorf("invalid framerate: %w", err)
			}
		}

		duration := parseSeconds(data.Format.Duration)
		if math.IsNaN(duration) {
			duration = parseSeconds(stream.Duration)
		}

		return &Info{
			Width:     stream.Width,
			Height:    stream.Height,
			Codec:     stream.CodecName,
			FrameRate: rate,
			Duration:  duration,
		}, nil
	}

	return nil, fmt.Errorf("no video streams found")
}

func parseSeconds(s string) float64 {
	if s == "" || s == "N/A" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return math.NaN()
	}
	return v
}
