// Package session keeps open videos, each bound to a frame navigator, and
// closes them once they sit idle.
package session

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/zsiec/framestep/internal/navigator"
)

// Session is an open video bound to a navigator.
type Session struct {
	ID        string
	Path      string
	CreatedAt time.Time

	// Fingerprint identifies the file's version by size and modification
	// time. It is empty when the path could not be stat'ed.
	Fingerprint string

	nav      *navigator.Navigator
	lastUsed atomic.Int64 // unix nanoseconds
}

// Info is a snapshot of a session's navigation state.
type Info struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	FPS          float64   `json:"fps"`
	CurrentFrame int       `json:"current_frame"`
	TotalFrames  int       `json:"total_frames"`
	Position     float64   `json:"position"`
	Duration     *float64  `json:"duration"` // nil until the source knows it
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
}

func newSession(id, path string, nav *navigator.Navigator, now time.Time) *Session {
	s := &Session{
		ID:          id,
		Path:        path,
		CreatedAt:   now,
		Fingerprint: fingerprint(path),
		nav:         nav,
	}
	s.touch(now)
	return s
}

func fingerprint(path string) string {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return ""
	}
	return fmt.Sprintf("%d:%d", fi.Size(), fi.ModTime().UnixNano())
}

// Navigator returns the session's navigator.
func (s *Session) Navigator() *navigator.Navigator {
	return s.nav
}

// LastUsed returns when the session was last accessed.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

// Info returns the current navigation state.
func (s *Session) Info() Info {
	info := Info{
		ID:           s.ID,
		Path:         s.Path,
		FPS:          s.nav.FPS(),
		CurrentFrame: s.nav.CurrentFrame(),
		TotalFrames:  s.nav.TotalFrames(),
		CreatedAt:    s.CreatedAt,
		LastUsed:     s.LastUsed(),
	}

	if src := s.nav.Source(); src != nil {
		info.Position = src.CurrentTime()
		if d := src.Duration(); isFinite(d) {
			info.Duration = &d
		}
		info.Width, info.Height = src.Dimensions()
	}
	return info
}
