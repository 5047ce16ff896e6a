package navigator

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedSurfaces(t *testing.T) {
	tests := []struct {
		name      string
		maxPixels int
		width     int
		height    int
		wantNil   bool
	}{
		{"fits", 1920 * 1080, 1920, 1080, false},
		{"exactly at limit", 100, 10, 10, false},
		{"over limit", 100, 11, 10, true},
		{"width alone over limit", 100, 101, 1, true},
		{"unbounded", 0, 2000, 2000, false},
		{"zero width", 0, 0, 10, true},
		{"negative height", 1000, 10, -1, true},
		{"overflowing product", DefaultMaxSurfacePixels, 1 << 31, 1 << 31, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			surface := BoundedSurfaces(tt.maxPixels)(tt.width, tt.height)
			if tt.wantNil {
				assert.Nil(t, surface)
				return
			}
			require.NotNil(t, surface)
			assert.Equal(t, image.Rect(0, 0, tt.width, tt.height), surface.Bounds())
		})
	}
}

func TestStill(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 200, G: 10, B: 30, A: 255})
	data, err := encodePNG(img)
	require.NoError(t, err)

	still := NewStill(12, 0.4, 4, 2, data)
	data[0] = 0

	assert.Equal(t, 12, still.Frame())
	assert.Equal(t, 0.4, still.Time())
	assert.Equal(t, 4, still.Width())
	assert.Equal(t, 2, still.Height())
	assert.Equal(t, len(data), still.Len())
	assert.Equal(t, "image/png", still.ContentType())

	payload := still.Bytes()
	assert.True(t, bytes.HasPrefix(payload, []byte("\x89PNG")), "payload is a PNG and was copied on construction")
	payload[1] = 0
	assert.True(t, bytes.HasPrefix(still.Bytes(), []byte("\x89PNG")), "Bytes hands out a copy")

	read, err := io.ReadAll(still.Reader())
	require.NoError(t, err)
	assert.Equal(t, still.Bytes(), read)

	decoded, err := still.Image()
	require.NoError(t, err)
	r, g, b, _ := decoded.At(1, 1).RGBA()
	assert.Equal(t, [3]uint32{200, 10, 30}, [3]uint32{r >> 8, g >> 8, b >> 8})
}
