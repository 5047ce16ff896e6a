package health

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks Redis connectivity.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name returns the name of the checker.
func (r *RedisChecker) Name() string {
	return "redis"
}

// Check pings Redis and reads its keyspace size.
func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if _, err := r.client.DBSize(ctx).Result(); err != nil {
		return fmt.Errorf("failed to read redis keyspace size: %w", err)
	}
	return nil
}

// MediaRootsChecker checks that the configured media directories are
// readable.
type MediaRootsChecker struct {
	roots []string
}

// NewMediaRootsChecker creates a checker over roots.
func NewMediaRootsChecker(roots []string) *MediaRootsChecker {
	return &MediaRootsChecker{roots: roots}
}

// Name returns the name of the checker.
func (m *MediaRootsChecker) Name() string {
	return "media_roots"
}

// Check stats every root.
func (m *MediaRootsChecker) Check(ctx context.Context) error {
	for _, root := range m.roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("media root %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("media root %s is not a directory", root)
		}
	}
	return nil
}

// SessionCapacity reports open and maximum sessions.
type SessionCapacity interface {
	Count() int
}

// SessionsChecker fails once the session limit is reached, taking the
// instance out of rotation for new sessions.
type SessionsChecker struct {
	sessions SessionCapacity
	max      int
}

// NewSessionsChecker creates a checker for the given limit. A non-positive
// limit never fails.
func NewSessionsChecker(sessions SessionCapacity, max int) *SessionsChecker {
	return &SessionsChecker{sessions: sessions, max: max}
}

// Name returns the name of the checker.
func (s *SessionsChecker) Name() string {
	return "sessions"
}

// Check compares the open session count with the limit.
func (s *SessionsChecker) Check(ctx context.Context) error {
	if s.max > 0 && s.sessions.Count() >= s.max {
		return fmt.Errorf("session limit reached (%d)", s.max)
	}
	return nil
}

// Details reports the session count.
func (s *SessionsChecker) Details(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"open": s.sessions.Count(),
		"max":  s.max,
	}
}
