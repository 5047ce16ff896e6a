package tui

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framestep/internal/media/memory"
	"github.com/zsiec/framestep/internal/navigator"
)

func newTestModel(t *testing.T, opts memory.Options) (*Model, *memory.Source) {
	t.Helper()
	src := memory.New(opts)
	nav := navigator.New(src, opts.FPS, navigator.WithExtractTimeout(100*time.Millisecond))
	return New(context.Background(), nav, "clip.mp4", t.TempDir()), src
}

func press(m *Model, key tea.KeyMsg) tea.Cmd {
	_, cmd := m.Update(key)
	return cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_Navigation(t *testing.T) {
	m, _ := newTestModel(t, memory.DefaultOptions())

	tests := []struct {
		name string
		key  tea.KeyMsg
		want int
	}{
		{"right", tea.KeyMsg{Type: tea.KeyRight}, 1},
		{"l", runes("l"), 2},
		{"left", tea.KeyMsg{Type: tea.KeyLeft}, 1},
		{"h", runes("h"), 0},
		{"h at start stays", runes("h"), 0},
		{"end", tea.KeyMsg{Type: tea.KeyEnd}, 300},
		{"right at end stays", tea.KeyMsg{Type: tea.KeyRight}, 300},
		{"home", tea.KeyMsg{Type: tea.KeyHome}, 0},
	}

	for _, tt := range tests {
		press(m, tt.key)
		assert.Equal(t, tt.want, m.nav.CurrentFrame(), tt.name)
	}
}

func TestModel_Extract(t *testing.T) {
	m, src := newTestModel(t, memory.DefaultOptions())
	m.nav.GoToFrame(42)
	require.True(t, src.WaitIdle(time.Second))

	cmd := press(m, runes("e"))
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "extracting frame 42")

	msg := cmd()
	_, _ = m.Update(msg)

	path := filepath.Join(m.outDir, "frame_42.png")
	assert.Contains(t, m.status, path)
	assert.False(t, m.failed)
	assert.Zero(t, m.pending)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
	assert.Equal(t, 42, m.nav.CurrentFrame())
}

func TestModel_ExtractFailures(t *testing.T) {
	t.Run("seek never completes", func(t *testing.T) {
		opts := memory.DefaultOptions()
		opts.SeekDelay = -1
		m, _ := newTestModel(t, opts)

		_, _ = m.Update(press(m, runes("e"))())
		assert.True(t, m.failed)
		assert.Contains(t, m.status, "no still available")
	})

	t.Run("write fails", func(t *testing.T) {
		m, _ := newTestModel(t, memory.DefaultOptions())
		m.writeFile = func(string, []byte) error { return errors.New("disk full") }

		_, _ = m.Update(press(m, runes("e"))())
		assert.True(t, m.failed)
		assert.Contains(t, m.status, "disk full")
	})
}

func TestModel_View(t *testing.T) {
	m, _ := newTestModel(t, memory.DefaultOptions())
	m.nav.GoToFrame(45)

	view := m.View()
	assert.Contains(t, view, "clip.mp4")
	assert.Contains(t, view, "45 / 300")
	assert.Contains(t, view, "1.500s / 10.000s")
}

func TestModel_Quit(t *testing.T) {
	m, _ := newTestModel(t, memory.DefaultOptions())

	cmd := press(m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "1.250s", formatSeconds(1.25))
	assert.Equal(t, "--", formatSeconds(math.NaN()))
}
