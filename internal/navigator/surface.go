package navigator

import (
	"image"
	"image/draw"
)

// DefaultMaxSurfacePixels caps surface allocation at 8K UHD.
const DefaultMaxSurfacePixels = 7680 * 4320

// SurfaceFactory allocates a 2D drawing surface of the given size. It
// returns nil when no surface can be provided.
type SurfaceFactory func(width, height int) draw.Image

// BoundedSurfaces returns a factory for RGBA surfaces of at most maxPixels
// pixels. A maxPixels of zero or less removes the bound.
func BoundedSurfaces(maxPixels int) SurfaceFactory {
	return func(width, height int) draw.Image {
		if width <= 0 || height <= 0 {
			return nil
		}
		if maxPixels > 0 && (width > maxPixels || height > maxPixels/width) {
			return nil
		}
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}
}
