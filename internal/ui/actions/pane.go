// Package actions renders the numbered recovery actions offered with an error.
// Selection state lives in the errors.RecoveryManager; the pane only draws it.
package actions

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
)

var (
	actionsPaneStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("#FAB387")).
				Padding(0, 1)

	// Action item styles for different types and focus states
	actionStyles = map[string]lipgloss.Style{
		"primary":       lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")).Padding(0, 1),
		"primary_f":     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#89B4FA")).Padding(0, 1),
		"cancel":        lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Padding(0, 1),
		"cancel_f":      lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#F38BA8")).Padding(0, 1),
		"alternative":   lipgloss.NewStyle().Foreground(lipgloss.Color("#CBA6F7")).Padding(0, 1),
		"alternative_f": lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#CBA6F7")).Padding(0, 1),
	}
)

// Pane draws the actions of the active recovery session
type Pane struct {
	recovery *errors.RecoveryManager
	width    int
}

// NewPane creates a pane backed by recovery
func NewPane(recovery *errors.RecoveryManager) *Pane {
	return &Pane{recovery: recovery}
}

// IsVisible reports whether there are actions to show
func (p *Pane) IsVisible() bool {
	return len(p.recovery.GetRecoveryActions()) > 0
}

// ActionByNumber returns the action for a 1-based number key
func (p *Pane) ActionByNumber(n int) (interfaces.Action, bool) {
	actions := p.recovery.GetRecoveryActions()
	if n < 1 || n > len(actions) {
		return interfaces.Action{}, false
	}
	return actions[n-1], true
}

// SetWidth sets the rendering width of the pane.
func (p *Pane) SetWidth(width int) {
	p.width = width
}

// View renders the pane, or "" when no session is active
func (p *Pane) View() string {
	actions := p.recovery.GetRecoveryActions()
	if len(actions) == 0 {
		return ""
	}
	selected := p.recovery.Selected()

	items := make([]string, len(actions))
	for i, action := range actions {
		key := action.Type
		if _, ok := actionStyles[key]; !ok {
			key = "primary"
		}
		if i == selected {
			key += "_f"
		}

		label := fmt.Sprintf("[%d] %s", i+1, action.Name)
		if action.Icon != "" {
			label = fmt.Sprintf("[%d] %s %s", i+1, action.Icon, action.Name)
		}
		items[i] = actionStyles[key].Render(label)
	}

	style := actionsPaneStyle
	if p.width > 4 {
		style = style.Width(p.width - 2)
	}
	return style.Render(strings.Join(items, " "))
}
