package watch

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#FF6B35")
	colorInfo    = lipgloss.Color("#1E88E5")
	colorLive    = lipgloss.Color("#66BB6A")
	colorWarning = lipgloss.Color("#FFB74D")
	colorError   = lipgloss.Color("#F44336")
	colorText    = lipgloss.Color("#E0E0E0")
	colorBright  = lipgloss.Color("#FFFFFF")
	colorMuted   = lipgloss.Color("#90A4AE")
	colorBorder  = lipgloss.Color("#30363D")
	colorHeader  = lipgloss.Color("#1C2128")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorBright).
			Background(colorHeader).
			Bold(true).
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Foreground(colorText).
			Padding(0, 1)

	activePanelStyle = panelStyle.BorderForeground(colorLive)

	titleStyle     = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	valueStyle     = lipgloss.NewStyle().Foreground(colorBright).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle     = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	connectedStyle = lipgloss.NewStyle().Foreground(colorLive).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)
)

var statusStyles = map[string]lipgloss.Style{
	"running":     lipgloss.NewStyle().Foreground(colorLive).Bold(true),
	"starting":    lipgloss.NewStyle().Foreground(colorInfo).Bold(true),
	"stopped":     lipgloss.NewStyle().Foreground(colorMuted).Bold(true),
	"failed_open": lipgloss.NewStyle().Foreground(colorError).Bold(true),
	"idle":        lipgloss.NewStyle().Foreground(colorMuted),
}

func statusBadge(status string) string {
	style, ok := statusStyles[status]
	if !ok {
		style = lipgloss.NewStyle().Foreground(colorWarning)
	}
	return style.Render(status)
}
