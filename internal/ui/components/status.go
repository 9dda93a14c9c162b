// Package components provides shared interface elements: the connection status bar
// and the error pane.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

// statusStyles maps status strings to their corresponding visual style.
var statusStyles = map[string]lipgloss.Style{
	"pending": lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"success": lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	"error":   lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	"warning": lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	"info":    lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
	"running": lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
}

// statusIcons maps status strings to their corresponding icon.
var statusIcons = map[string]string{
	"pending": "⏳",
	"success": "●",
	"error":   "✗",
	"warning": "◐",
	"info":    "ℹ",
	"running": "◌",
}

// connStatus maps a connection state onto a status key and label
var connStatus = map[interfaces.ConnState][2]string{
	interfaces.StateOpen:         {"success", "Connected"},
	interfaces.StateConnecting:   {"running", "Connecting"},
	interfaces.StateClosing:      {"warning", "Closing"},
	interfaces.StateDisconnected: {"pending", "Disconnected"},
	interfaces.StateFailed:       {"error", "Failed"},
}

// RenderStatus formats a status message with an appropriate icon and color.
func RenderStatus(status, message string) string {
	style, exists := statusStyles[status]
	if !exists {
		style = lipgloss.NewStyle()
	}

	icon, exists := statusIcons[status]
	if !exists {
		icon = "•"
	}

	return style.Render(fmt.Sprintf("%s %s", icon, message))
}

// RenderConnState renders a connection state as an icon and label
func RenderConnState(state interfaces.ConnState) string {
	entry, ok := connStatus[state]
	if !ok {
		return RenderStatus("pending", string(state))
	}
	return RenderStatus(entry[0], entry[1])
}

// StatusInfo is what the status bar shows about the session
type StatusInfo struct {
	Profile    string
	Endpoint   string
	State      interfaces.ConnState
	Sent       int64
	Received   int64
	Reconnects int
	Streams    int
	Attempt    int
}

var statusBarStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#CDD6F4")).
	Background(lipgloss.Color("#313244")).
	Padding(0, 1)

// RenderStatusBar renders a single line: state on the left, counters on the right
func RenderStatusBar(info StatusInfo, width int) string {
	left := RenderConnState(info.State) + "  " + info.Profile
	if info.Endpoint != "" {
		left += " (" + info.Endpoint + ")"
	}
	if info.State == interfaces.StateConnecting && info.Attempt > 1 {
		left += fmt.Sprintf("  attempt %d", info.Attempt)
	}

	counters := []string{fmt.Sprintf("↑%d ↓%d", info.Sent, info.Received)}
	if info.Streams > 0 {
		counters = append(counters, fmt.Sprintf("%d streaming", info.Streams))
	}
	if info.Reconnects > 0 {
		counters = append(counters, fmt.Sprintf("%d reconnects", info.Reconnects))
	}
	right := strings.Join(counters, " · ")

	inner := width - 2
	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right

	style := statusBarStyle
	if width > 0 {
		style = style.Width(width).MaxWidth(width)
	}
	return style.Render(line)
}

// RenderProgressBar creates a textual progress bar of the given width.
func RenderProgressBar(progress int, width int, fillChar, emptyChar string) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	filledWidth := (progress * width) / 100
	return fmt.Sprintf("[%s%s]", strings.Repeat(fillChar, filledWidth), strings.Repeat(emptyChar, width-filledWidth))
}
