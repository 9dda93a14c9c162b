package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
)

var (
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Italic(true)
	recoveryHeading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1"))
)

// RenderErrorPane shows a processed error the way the content renderer formats
// error replies. The recovery actions themselves live in the actions pane; only
// their heading is drawn here.
func RenderErrorPane(pe *errors.ProcessedError, r interfaces.ContentRenderer, width int) string {
	if pe == nil {
		return ""
	}

	lines := []string{"", r.RenderError(pe.Payload(), width)}
	if !pe.Timestamp.IsZero() {
		lines = append(lines, mutedStyle.Render("at "+pe.Timestamp.Format("15:04:05")))
	}
	if len(pe.RecoveryActions) > 0 {
		lines = append(lines, "", recoveryHeading.Render("Recovery Actions:"))
	}
	return strings.Join(lines, "\n")
}
