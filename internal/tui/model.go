// Package tui is an interactive terminal frame scrubber.
package tui

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/framestep/internal/navigator"
)

const refreshInterval = 100 * time.Millisecond

type tickMsg time.Time

// extractedMsg reports a finished extraction.
type extractedMsg struct {
	frame int
	path  string
	err   error
}

// Model is the bubbletea model of the scrubber.
type Model struct {
	ctx    context.Context
	nav    *navigator.Navigator
	title  string
	outDir string

	// writeFile persists an extracted still.
	writeFile func(path string, data []byte) error

	width    int
	pending  int
	status   string
	failed   bool
	quitting bool
}

// New creates a scrubber over nav. Extracted stills are written to outDir.
// ctx bounds in-flight extractions.
func New(ctx context.Context, nav *navigator.Navigator, title, outDir string) *Model {
	return &Model{
		ctx:    ctx,
		nav:    nav,
		title:  title,
		outDir: outDir,
		writeFile: func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		},
		width: 60,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tickEvery(refreshInterval)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		// seeks complete asynchronously; redraw to pick up the new position
		if m.quitting {
			return m, nil
		}
		return m, tickEvery(refreshInterval)

	case extractedMsg:
		m.pending--
		if msg.err != nil {
			m.failed = true
			m.status = fmt.Sprintf("frame %d: %v", msg.frame, msg.err)
		} else {
			m.failed = false
			m.status = "saved " + msg.path
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "left", "h":
		m.nav.PreviousFrame()
	case "right", "l":
		m.nav.NextFrame()
	case "home", "g":
		m.nav.GoToFrame(0)
	case "end", "G":
		m.nav.GoToFrame(m.nav.TotalFrames())
	case "e":
		m.pending++
		m.failed = false
		m.status = fmt.Sprintf("extracting frame %d...", m.nav.CurrentFrame())
		return m, m.extract(m.nav.CurrentFrame())
	}
	return m, nil
}

// extract captures frame in the background and writes it to
// <outDir>/frame_<n>.png.
func (m *Model) extract(frame int) tea.Cmd {
	return func() tea.Msg {
		still, ok := m.nav.ExtractFrameAt(m.ctx, frame)
		if !ok {
			return extractedMsg{frame: frame, err: fmt.Errorf("no still available")}
		}

		path := filepath.Join(m.outDir, fmt.Sprintf("frame_%d.png", still.Frame()))
		if err := m.writeFile(path, still.Bytes()); err != nil {
			return extractedMsg{frame: still.Frame(), err: fmt.Errorf("failed to write still: %w", err)}
		}
		return extractedMsg{frame: still.Frame(), path: path}
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	current := m.nav.CurrentFrame()
	total := m.nav.TotalFrames()

	var position, duration float64
	if src := m.nav.Source(); src != nil {
		position = src.CurrentTime()
		duration = src.Duration()
	}

	rows := []string{
		row("Frame", fmt.Sprintf("%d / %d", current, total)),
		row("Position", fmt.Sprintf("%s / %s", formatSeconds(position), formatSeconds(duration))),
		row("FPS", fmt.Sprintf("%g", m.nav.FPS())),
		"",
		m.progressBar(current, total),
	}

	sections := []string{
		HeaderStyle.Render(m.title),
		PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
	}
	if m.status != "" {
		style := StatusOKStyle
		if m.failed {
			style = StatusErrorStyle
		}
		sections = append(sections, style.Render(m.status))
	}
	sections = append(sections, HelpStyle.Render("←/h prev  →/l next  home/end first/last  e extract  q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), ValueStyle.Render(value))
}

func (m *Model) progressBar(current, total int) string {
	width := m.width - 8
	if width < 10 {
		width = 10
	}
	filled := 0
	if total > 0 {
		filled = int(float64(width) * float64(current) / float64(total))
	}
	if filled > width {
		filled = width
	}
	return lipgloss.NewStyle().Foreground(Primary).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(Border).Render(strings.Repeat("░", width-filled))
}

func formatSeconds(s float64) string {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return "--"
	}
	return fmt.Sprintf("%.3fs", s)
}
