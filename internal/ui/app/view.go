package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/ui/components"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	userCommandStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#89B4FA"))

	appResponseStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#A6E3A1"))

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Italic(true)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#6C7086")).
			Padding(0, 1)

	inputFocusedStyle = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(lipgloss.Color("#89B4FA")).
				Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1")).
			Italic(true)
)

// View implements tea.Model
func (m *AppModel) View() string {
	header := m.renderHeader()
	footer := m.renderFooter()

	var middle []string
	if m.workflow.IsActive() {
		middle = append(middle, m.spinner.View()+" "+m.workflow.View())
	}
	if current := m.recovery.Current(); current != nil {
		middle = append(middle, components.RenderErrorPane(current, m.renderer, m.terminalWidth))
		middle = append(middle, m.actionsPane.View())
	}
	extras := strings.Join(middle, "\n")

	height := m.terminalHeight - lipgloss.Height(header) - lipgloss.Height(footer)
	if extras != "" {
		height -= lipgloss.Height(extras)
	}
	if height < 3 {
		height = 3
	}
	m.viewport.Height = height

	sections := []string{header, m.viewport.View()}
	if extras != "" {
		sections = append(sections, extras)
	}
	sections = append(sections, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *AppModel) renderHeader() string {
	title := fmt.Sprintf("console · %s", m.profile.Name)
	style := headerStyle
	if m.terminalWidth > 0 {
		style = style.Width(m.terminalWidth)
	}
	return style.Render(title)
}

func (m *AppModel) renderFooter() string {
	style := inputStyle
	if m.focusState == FocusInput {
		style = inputFocusedStyle
	}
	if m.terminalWidth > 4 {
		style = style.Width(m.terminalWidth - 2)
	}
	lines := []string{style.Render(m.input.View())}

	if m.statusMessage != "" {
		lines = append(lines, statusStyle.Render(m.statusMessage))
	}
	lines = append(lines, components.RenderStatusBar(m.statusInfo(), m.terminalWidth))
	return strings.Join(lines, "\n")
}

func (m *AppModel) statusInfo() components.StatusInfo {
	info := components.StatusInfo{
		Profile:  m.profile.Name,
		Endpoint: m.profile.Endpoint,
		State:    m.state,
		Streams:  m.workflow.Count(),
		Attempt:  m.attempt,
	}
	if stats, ok := m.stats(); ok {
		info.Sent = stats.MessagesSent
		info.Received = stats.MessagesReceived
		info.Reconnects = stats.Reconnects
		info.Streams = stats.ActiveStreams
	}
	return info
}

// refreshTranscript re-renders every entry into the viewport
func (m *AppModel) refreshTranscript() {
	width := m.terminalWidth - 4
	if width <= 0 {
		width = 76
	}

	var blocks []string
	for _, entry := range m.transcript {
		blocks = append(blocks, m.renderEntry(entry, width))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

func (m *AppModel) renderEntry(entry *Entry, width int) string {
	lines := []string{userCommandStyle.Render("YOU> ") + entry.Prompt}

	body := entry.Text
	switch {
	case entry.Err != nil:
		body = m.renderer.RenderError(entry.Err.Payload(), width)
	case body == "" && !entry.Final:
		body = metaStyle.Render(m.spinner.View() + " waiting")
	default:
		collapsed := m.folds.IsCollapsed(entry.ID)
		if f, ok := m.renderer.(folder); ok {
			body = f.RenderFolded(body, width, collapsed)
		} else {
			body = m.renderer.RenderMessage(body, width)
		}
	}
	lines = append(lines, appResponseStyle.Render("APP>"), contentStyle.Render(body))

	if entry.Final && entry.Duration > 0 {
		lines = append(lines, metaStyle.Render(fmt.Sprintf("  %s · %s", entry.Kind, entry.Duration.Round(time.Millisecond))))
	}
	return strings.Join(lines, "\n")
}
