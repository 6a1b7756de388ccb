package watch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/vehiclecount/internal/counter"
	"github.com/zsiec/vehiclecount/internal/session"
)

const panelWidth = 38

// Model is the dashboard's bubbletea model.
type Model struct {
	client *Client
	keys   KeyMap
	ctx    context.Context
	cancel context.CancelFunc
	target string

	width     int
	connected bool
	lastErr   error
	retryIn   time.Duration
	updated   time.Time
	sessions  []session.Stats
}

func NewModel(client *Client, target string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client: client,
		keys:   DefaultKeyMap(),
		ctx:    ctx,
		cancel: cancel,
		target: target,
	}
}

func (m Model) Init() tea.Cmd {
	return m.client.Connect(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			m.client.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reconnect):
			// the pending read fails and reconnects
			m.client.Close()
		}
		return m, nil

	case ConnectedMsg:
		m.connected = true
		m.lastErr = nil
		return m, m.client.Read()

	case DialFailedMsg:
		m.connected = false
		m.lastErr = msg.Err
		m.retryIn = msg.Retry
		return m, m.client.Connect(m.ctx)

	case DisconnectedMsg:
		m.connected = false
		m.lastErr = msg.Err
		return m, m.client.Connect(m.ctx)

	case FeedMsg:
		m.sessions = append(m.sessions[:0:0], msg.Sessions...)
		sort.Slice(m.sessions, func(i, j int) bool { return m.sessions[i].Slot < m.sessions[j].Slot })
		m.updated = msg.Time
		return m, m.client.Read()
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("vehiclecount  " + mutedStyle.Render(m.target)))
	b.WriteString("\n")
	b.WriteString(m.connectionLine())
	b.WriteString("\n\n")

	if len(m.sessions) == 0 {
		b.WriteString(mutedStyle.Render("waiting for stats..."))
	} else {
		b.WriteString(m.grid())
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render(m.keys.helpLine()))
	return b.String()
}

func (m Model) connectionLine() string {
	if m.connected {
		line := connectedStyle.Render("connected")
		if !m.updated.IsZero() {
			line += mutedStyle.Render("  updated " + m.updated.Local().Format("15:04:05"))
		}
		return line
	}
	line := errorStyle.Render("disconnected")
	if m.lastErr != nil {
		line += mutedStyle.Render(fmt.Sprintf("  %v", m.lastErr))
	}
	return line
}

// grid lays the slot panels out in as many columns as the terminal allows.
func (m Model) grid() string {
	cols := 2
	if m.width > 0 {
		cols = m.width / (panelWidth + 2)
	}
	if cols < 1 {
		cols = 1
	}

	var rows []string
	for i := 0; i < len(m.sessions); i += cols {
		end := i + cols
		if end > len(m.sessions) {
			end = len(m.sessions)
		}
		panels := make([]string, 0, end-i)
		for _, st := range m.sessions[i:end] {
			panels = append(panels, renderPanel(st))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderPanel(st session.Stats) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("Slot %d", st.Slot)) + "  " + statusBadge(string(st.Status)),
	}

	if st.Status != session.StatusIdle {
		model := st.ModelName
		if model == "" {
			model = st.ModelFile
		}
		lines = append(lines,
			field("model", model),
			field("source", truncate(st.Source, panelWidth-10)),
		)
		if st.ResolvedVia != "" {
			lines = append(lines, field("via", st.ResolvedVia))
		}
		lines = append(lines,
			field("fps", fmt.Sprintf("%.1f in / %.1f proc", st.InputFPS, st.ProcessedFPS)),
			field("frames", fmt.Sprintf("%d", st.FramesProcessed)),
			"",
			labelStyle.Render(fmt.Sprintf("%-7s %6s %6s", "class", "total", "now")),
		)
		for _, class := range counter.Classes {
			lines = append(lines, fmt.Sprintf("%-7s %s %s",
				class,
				valueStyle.Render(fmt.Sprintf("%6d", st.Counts[class])),
				mutedStyle.Render(fmt.Sprintf("%6d", st.CurrentVisible[class])),
			))
		}
		lines = append(lines, field("total", fmt.Sprintf("%d", st.Total())))
		if st.Error != "" {
			lines = append(lines, errorStyle.Render(truncate(st.Error, panelWidth-2)))
		}
	}

	style := panelStyle
	if st.Status.Active() {
		style = activePanelStyle
	}
	return style.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-7s", label)) + " " + valueStyle.Render(value)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 2 {
		return s
	}
	return string(r[:n-1]) + "…"
}
