package navigator

import (
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// ContentTypePNG is the media type of every Still payload.
const ContentTypePNG = "image/png"

// Still is a PNG-encoded capture of a single frame. It is immutable: the
// accessors hand out copies of the payload.
type Still struct {
	frame  int
	time   float64
	width  int
	height int
	data   []byte
}

// NewStill wraps an already encoded PNG payload, for example one read back
// from a cache.
func NewStill(frame int, seconds float64, width, height int, png []byte) *Still {
	data := make([]byte, len(png))
	copy(data, png)
	return &Still{frame: frame, time: seconds, width: width, height: height, data: data}
}

// Frame returns the frame index that was captured.
func (s *Still) Frame() int { return s.frame }

// Time returns the source position the frame was captured at, in seconds.
func (s *Still) Time() float64 { return s.time }

// Width returns the image width in pixels.
func (s *Still) Width() int { return s.width }

// Height returns the image height in pixels.
func (s *Still) Height() int { return s.height }

// Len returns the payload size in bytes.
func (s *Still) Len() int { return len(s.data) }

// ContentType returns the payload media type.
func (s *Still) ContentType() string { return ContentTypePNG }

// Bytes returns a copy of the PNG payload.
func (s *Still) Bytes() []byte {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Reader returns a reader over the PNG payload.
func (s *Still) Reader() io.Reader {
	return bytes.NewReader(s.data)
}

// Image decodes the payload.
func (s *Still) Image() (image.Image, error) {
	return imaging.Decode(bytes.NewReader(s.data))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
