package menu

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model state.
func (m *MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	// While a client is being built only its result matters.
	if m.isConnecting {
		if msg, ok := msg.(ConnectionResultMsg); ok {
			m.isConnecting = false
			if msg.Err != nil {
				m.err = msg.Err
			}
		}
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		switch m.focusState {
		case FocusList:
			cmd = m.handleListKeys(msg)
		case FocusInput:
			cmd = m.handleInputKeys(msg)
		}
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case profilesReloadedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.profiles = msg.profiles
			if m.selectedIndex >= len(m.profiles) {
				m.selectedIndex = 0
			}
		}

	case healthStatusUpdatedMsg:
		for _, health := range msg.health {
			m.health[health.Name] = health
		}
		cmds = append(cmds, tick())

	case tickMsg:
		cmds = append(cmds, m.checkHealth())

	case ConnectionResultMsg:
		if msg.Err != nil {
			m.err = msg.Err
		}
	}

	if m.focusState == FocusInput {
		if _, isKey := msg.(tea.KeyMsg); !isKey {
			m.quickConnectInput, cmd = m.quickConnectInput.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// handleListKeys processes key presses when the profile list is focused.
func (m *MenuModel) handleListKeys(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "ctrl+c", "q":
		return tea.Quit

	case "up", "k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}

	case "down", "j":
		if m.selectedIndex < len(m.profiles)-1 {
			m.selectedIndex++
		}

	case "r":
		m.statusMessage = "Checking profiles..."
		return tea.Batch(m.reloadProfiles(), m.checkHealth())

	case "enter":
		if m.selectedIndex < len(m.profiles) {
			return m.connectTo(m.selectedIndex)
		}

	case "tab":
		m.focusState = FocusInput
		return m.quickConnectInput.Focus()

	default:
		if i, err := strconv.Atoi(key); err == nil && i >= 1 && i <= len(m.profiles) {
			m.selectedIndex = i - 1
			return m.connectTo(m.selectedIndex)
		}
	}
	return nil
}

func (m *MenuModel) connectTo(index int) tea.Cmd {
	name := m.profiles[index]
	m.isConnecting = true
	m.statusMessage = "Connecting to " + name + "..."
	return m.attemptConnection(name, "")
}

// handleInputKeys processes key presses when the quick connect input is focused.
func (m *MenuModel) handleInputKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit

	case "enter":
		endpoint := strings.TrimSpace(m.quickConnectInput.Value())
		if endpoint != "" {
			m.isConnecting = true
			m.statusMessage = "Connecting to " + endpoint + "..."
			return m.attemptConnection("", endpoint)
		}
		return nil

	case "tab", "shift+tab", "esc":
		m.focusState = FocusList
		m.quickConnectInput.Blur()
		return nil
	}

	var cmd tea.Cmd
	m.quickConnectInput, cmd = m.quickConnectInput.Update(msg)
	return cmd
}
