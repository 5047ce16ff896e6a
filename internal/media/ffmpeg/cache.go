package ffmpeg

import (
	"image"
	"sync"
)

// frameCache keeps recently decoded frames, evicting the oldest insert.
type frameCache struct {
	mu     sync.Mutex
	limit  int
	frames map[int]image.Image
	order  []int
}

func newFrameCache(limit int) *frameCache {
	return &frameCache{
		limit:  limit,
		frames: make(map[int]image.Image),
	}
}

func (c *frameCache) get(frame int) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.frames[frame]
	return img, ok
}

func (c *frameCache) put(frame int, img image.Image) {
	if c.limit <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.frames[frame]; ok {
		c.frames[frame] = img
		return
	}
	for len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.frames, oldest)
	}
	c.frames[frame] = img
	c.order = append(c.order, frame)
}

func (c *frameCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
