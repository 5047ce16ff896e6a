package tui

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("#FF6B35")
	Success = lipgloss.Color("#4CAF50")
	Error   = lipgloss.Color("#F44336")
	Text    = lipgloss.Color("#E0E0E0")
	Muted   = lipgloss.Color("#90A4AE")
	PanelBg = lipgloss.Color("#161B26")
	Border  = lipgloss.Color("#30363D")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true).
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Border).
			Foreground(Text).
			Padding(0, 2)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(10)

	ValueStyle = lipgloss.NewStyle().
			Foreground(Text).
			Bold(true)

	StatusOKStyle = lipgloss.NewStyle().
			Foreground(Success)

	StatusErrorStyle = lipgloss.NewStyle().
				Foreground(Error)

	HelpStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)
)
