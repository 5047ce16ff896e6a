// Package stillcache stores extracted PNG stills in Redis so repeated
// requests for the same frame skip the seek and encode.
package stillcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/framestep/internal/metrics"
	"github.com/zsiec/framestep/internal/navigator"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "framestep:stills:"

// Cache is a Redis-backed still cache.
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
	prefix string
	ttl    time.Duration
}

type entryMeta struct {
	Frame  int     `json:"frame"`
	Time   float64 `json:"time"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// New creates a cache. A non-positive ttl defaults to one hour.
func New(client *redis.Client, logger *logrus.Logger, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *Cache) key(video string, frame int) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, video, frame)
}

// Get returns the cached still for frame of video. The boolean is false on
// a miss.
func (c *Cache) Get(ctx context.Context, video string, frame int) (*navigator.Still, bool, error) {
	vals, err := c.client.HMGet(ctx, c.key(video, frame), "meta", "png").Result()
	if err != nil {
		metrics.RecordStillCacheLookup("error")
		return nil, false, fmt.Errorf("failed to read still: %w", err)
	}

	metaRaw, ok1 := vals[0].(string)
	data, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		metrics.RecordStillCacheLookup("miss")
		return nil, false, nil
	}

	var meta entryMeta
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		metrics.RecordStillCacheLookup("error")
		return nil, false, fmt.Errorf("failed to unmarshal still metadata: %w", err)
	}

	metrics.RecordStillCacheLookup("hit")
	return navigator.NewStill(meta.Frame, meta.Time, meta.Width, meta.Height, []byte(data)), true, nil
}

// Put stores still under the frame it was captured at.
func (c *Cache) Put(ctx context.Context, video string, still *navigator.Still) error {
	meta, err := json.Marshal(entryMeta{
		Frame:  still.Frame(),
		Time:   still.Time(),
		Width:  still.Width(),
		Height: still.Height(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal still metadata: %w", err)
	}

	key := c.key(video, still.Frame())
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, "meta", meta, "png", still.Bytes())
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store still: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"video": video,
		"frame": still.Frame(),
		"bytes": still.Len(),
	}).Debug("Still cached")
	return nil
}

// Invalidate removes every cached still of video.
func (c *Cache) Invalidate(ctx context.Context, video string) (int, error) {
	stem := c.prefix + video + ":"
	pattern := escapePattern(stem) + "*"
	removed := 0

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan stills: %w", err)
		}

		// "a:*" also matches the stills of a video named "a:b".
		stills := keys[:0]
		for _, k := range keys {
			if isFrameSuffix(strings.TrimPrefix(k, stem)) {
				stills = append(stills, k)
			}
		}
		if len(stills) > 0 {
			n, err := c.client.Del(ctx, stills...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete stills: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"video":   video,
		"removed": removed,
	}).Info("Still cache invalidated")
	return removed, nil
}

// Revalidate records fingerprint as the current version of video. When it
// differs from the fingerprint last recorded, or none is on record, the
// stills cached for video are dropped first. It returns how many were.
func (c *Cache) Revalidate(ctx context.Context, video, fingerprint string) (int, error) {
	key := c.fingerprintKey(video)

	prev, err := c.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read fingerprint: %w", err)
	}

	removed := 0
	if prev != fingerprint {
		if removed, err = c.Invalidate(ctx, video); err != nil {
			return removed, err
		}
	}

	if err := c.client.Set(ctx, key, fingerprint, c.ttl).Err(); err != nil {
		return removed, fmt.Errorf("failed to store fingerprint: %w", err)
	}
	return removed, nil
}

func (c *Cache) fingerprintKey(video string) string {
	return c.prefix + "fingerprint:" + video
}

// escapePattern quotes the glob metacharacters of a SCAN pattern.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isFrameSuffix(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
