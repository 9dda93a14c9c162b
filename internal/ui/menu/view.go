package menu

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/registry"
	"github.com/universal-console/streamrpc/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#CBA6F7")).
			Padding(1, 2)

	focusedBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("#89B4FA")).
			Padding(1, 2)

	listItemStyle    = lipgloss.NewStyle().PaddingLeft(1)
	focusedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Foreground(lipgloss.Color("#1e1e2e")).
				Background(lipgloss.Color("#FAB387"))

	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).PaddingLeft(5)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Padding(1, 0)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)
)

// View renders the UI for the menu model.
func (m *MenuModel) View() string {
	var s strings.Builder

	title := titleStyle
	if m.width > 0 {
		title = title.Width(m.width)
	}
	s.WriteString(title.Render("console · profiles"))
	s.WriteString("\n\n")

	if m.isConnecting {
		s.WriteString(boxStyle.Render(components.RenderStatus("running", m.statusMessage)))
		s.WriteString("\n")
		return s.String()
	}

	s.WriteString(m.viewProfileList())
	s.WriteString("\n\n")
	s.WriteString(m.viewQuickConnect())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("[Enter] Connect · [1-9] Pick · [R]echeck · [Tab] Quick connect · [Q]uit"))

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("Error: " + errors.UserMessage(m.err)))
		if hint := m.recoveryHint(); hint != "" {
			s.WriteString("\n")
			s.WriteString(helpStyle.Render(hint))
		}
	}

	return s.String()
}

// recoveryHint maps the error's recovery actions onto what the menu can offer
func (m *MenuModel) recoveryHint() string {
	var hints []string
	for _, action := range errors.RecoveryActions(m.err) {
		switch action.Command {
		case errors.CommandReconnect, errors.CommandRetry:
			hints = append(hints, action.Icon+" [Enter] "+action.Name)
		case errors.CommandEditConfig:
			hints = append(hints, action.Icon+" "+action.Name+" in "+m.configManager.GetConfigPath())
		}
	}
	return strings.Join(hints, " · ")
}

func renderHealth(health registry.ProfileHealth, checked bool) string {
	if !checked {
		return components.RenderStatus("pending", "Checking...")
	}
	switch health.Status {
	case registry.StatusReady:
		return components.RenderStatus("success", fmt.Sprintf("Ready %dms", health.ResponseTime.Milliseconds()))
	case registry.StatusOffline:
		return components.RenderStatus("error", "Offline")
	default:
		return components.RenderStatus("warning", "Error")
	}
}

func (m *MenuModel) viewProfileList() string {
	var items []string

	if len(m.profiles) == 0 {
		items = append(items, helpStyle.Render("No profiles configured."))
	}
	for i, name := range m.profiles {
		health, checked := m.health[name]
		item := fmt.Sprintf("[%d] %s  %s", i+1, name, renderHealth(health, checked))

		if m.focusState == FocusList && i == m.selectedIndex {
			items = append(items, focusedItemStyle.Render(item))
		} else {
			items = append(items, listItemStyle.Render(item))
		}
		if checked && health.Endpoint != "" {
			detail := health.Endpoint
			if health.Hint != "" {
				detail += " · " + health.Hint
			}
			items = append(items, hintStyle.Render(detail))
		}
	}

	style := boxStyle
	if m.focusState == FocusList {
		style = focusedBoxStyle
	}
	heading := lipgloss.NewStyle().Bold(true).Render("Profiles")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, append([]string{heading}, items...)...))
}

func (m *MenuModel) viewQuickConnect() string {
	style := boxStyle
	if m.focusState == FocusInput {
		style = focusedBoxStyle
	}
	heading := lipgloss.NewStyle().Bold(true).Render("Quick Connect")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, heading, "Endpoint: "+m.quickConnectInput.View()))
}
