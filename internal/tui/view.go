package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Peers seen within this window are shown as online.
const onlineWindow = 60 * time.Second

var (
	// Colors
	colorGreen = lipgloss.Color("2")
	colorBlack = lipgloss.Color("0")
	colorGray  = lipgloss.Color("240")
	colorCyan  = lipgloss.Color("6")
	colorRed   = lipgloss.Color("196")

	// Styles
	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorGreen).
			Padding(0, 1)

	errorBarStyle = statusBarStyle.
			Background(colorRed)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			Padding(0, 1)

	streamStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorGreen).
			Padding(0, 1)

	selfStyle   = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(colorCyan)
	timeStyle   = lipgloss.NewStyle().Foreground(colorGray)
	activeStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
)

// streamSize is the chat viewport size for the current window.
func (m model) streamSize() (int, int) {
	w := int(float64(m.width)*0.7) - 4
	h := m.height - 5
	if w < 10 {
		w = 10
	}
	if h < 3 {
		h = 3
	}
	return w, h
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	w, h := m.streamSize()
	sidebarWidth := m.width - w - 8
	if sidebarWidth < 12 {
		sidebarWidth = 12
	}

	streamView := streamStyle.Width(w).Height(h).Render(m.viewport.View())
	sidebarView := m.renderSidebar(sidebarWidth, h, time.Now())
	body := lipgloss.JoinHorizontal(lipgloss.Top, streamView, sidebarView)

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.renderStatus(),
		m.textInput.View(),
	)
}

func (m model) renderStatus() string {
	dest := m.dest
	if dest == "" {
		dest = "(none)"
	}
	line := fmt.Sprintf("%s -> %s #%s | %s", m.self(), dest, m.room, m.status)
	if m.pending > 0 {
		line += fmt.Sprintf(" (%d pending)", m.pending)
	}
	style := statusBarStyle
	if isErrorStatus(m.status) {
		style = errorBarStyle
	}
	return style.Width(m.width).Render(line)
}

func isErrorStatus(s string) bool {
	for _, p := range []string{"failed", "not sent", "join failed"} {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

func (m model) renderSidebar(width, height int, now time.Time) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("PEER", "SEEN").
		Width(width)

	for _, p := range m.peers {
		name := p.Name
		if now.Sub(p.LastSeen) < onlineWindow {
			name = activeStyle.Render(name)
		}
		t.Row(name, formatAge(now.Sub(p.LastSeen)))
	}

	rooms := ""
	for _, r := range m.rooms {
		marker := "  "
		if r.Name == m.room {
			marker = "> "
		}
		rooms += marker + "#" + r.Name + "\n"
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.cfg.Banner,
		"PEERS:",
		t.Render(),
		"",
		"CHATROOMS:",
		rooms,
	)
	return sidebarStyle.Width(width).Height(height).Render(content)
}

func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "now"
	case d < 5*time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
