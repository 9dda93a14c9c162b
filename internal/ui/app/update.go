package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
)

// ConnectionStatusMsg asks the parent controller to leave the chat
type ConnectionStatusMsg struct {
	Connected bool
}

// Update implements tea.Model
func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var commands []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd := m.handleKeyInput(msg); cmd != nil {
			commands = append(commands, cmd)
		}

	case tea.WindowSizeMsg:
		m.SetTerminalSize(msg.Width, msg.Height)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		commands = append(commands, cmd)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		commands = append(commands, cmd)
		if m.workflow.IsActive() {
			m.refreshTranscript()
		}

	case connectivityMsg:
		m.handleConnectivity(msg.event)
		commands = append(commands, m.waitForEvent())

	case chunkMsg:
		m.handleChunk(msg.update)
		commands = append(commands, m.waitForEvent())

	case errorEventMsg:
		if processed, err := m.errHandler.ProcessEnvelope(msg.envelope); err == nil {
			m.showError(processed)
		}
		commands = append(commands, m.waitForEvent())

	case replyMsg:
		m.handleReply(msg)

	case initDoneMsg:
		if msg.err != nil && !m.recovery.IsActive() {
			if processed, err := m.errHandler.Process(msg.err); err == nil {
				m.showError(processed)
			}
		}

	case reconnectDoneMsg:
		if msg.err != nil {
			if processed, err := m.errHandler.Process(msg.err); err == nil {
				m.showError(processed)
			}
			m.statusMessage = "Reconnect failed"
		} else {
			m.statusMessage = "Reconnected"
		}

	default:
		if m.focusState == FocusInput {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			commands = append(commands, cmd)
		}
	}

	if len(commands) > 0 {
		return m, tea.Batch(commands...)
	}
	return m, nil
}

// handleKeyInput processes keyboard input according to focus state
func (m *AppModel) handleKeyInput(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		m.Close()
		return tea.Quit
	case "ctrl+r":
		return m.Reconnect()
	case "ctrl+o":
		m.toggleFoldAll()
		return nil
	case "ctrl+x":
		m.CancelAll()
		m.statusMessage = "Cancelled outstanding requests"
		return nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.autoScroll = m.viewport.AtBottom()
		return cmd
	case "esc":
		if m.recovery.IsActive() {
			m.dismissError()
			return nil
		}
		m.focusState = FocusInput
		return m.input.Focus()
	}

	switch m.focusState {
	case FocusActions:
		return m.handleActionsKeys(msg)
	default:
		return m.handleInputKeys(msg)
	}
}

func (m *AppModel) handleInputKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		text := m.input.Value()
		m.input.SetValue("")
		return m.ExecutePrompt(text)

	case "tab", "shift+tab":
		if m.actionsPane.IsVisible() {
			m.focusState = FocusActions
			m.input.Blur()
		}
		return nil

	case "up":
		m.navigateInputHistory(-1)
		return nil

	case "down":
		m.navigateInputHistory(1)
		return nil

	default:
		if m.input.Value() == "" && m.actionsPane.IsVisible() {
			if num, err := strconv.Atoi(msg.String()); err == nil {
				if action, ok := m.actionsPane.ActionByNumber(num); ok {
					m.recovery.EndSession()
					return m.executeAction(action)
				}
			}
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return cmd
	}
}

func (m *AppModel) handleActionsKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "left", "h", "up", "k", "shift+tab":
		m.recovery.Move(-1)
	case "right", "l", "down", "j":
		m.recovery.Move(1)
	case "tab":
		m.focusState = FocusInput
		return m.input.Focus()
	case "enter", " ":
		action, ok := m.recovery.Choose()
		if !ok {
			m.dismissError()
			return nil
		}
		return m.executeAction(action)
	default:
		if num, err := strconv.Atoi(msg.String()); err == nil {
			if action, ok := m.actionsPane.ActionByNumber(num); ok {
				m.recovery.EndSession()
				return m.executeAction(action)
			}
		}
	}
	return nil
}

// executeAction performs a recovery action. The session has already ended.
func (m *AppModel) executeAction(action interfaces.Action) tea.Cmd {
	m.focusState = FocusInput
	focus := m.input.Focus()

	switch action.Command {
	case errors.CommandReconnect:
		return tea.Batch(focus, m.Reconnect())
	case errors.CommandRetry:
		return tea.Batch(focus, m.Retry())
	case errors.CommandEditConfig:
		if m.options.ConfigPath != "" {
			m.statusMessage = "Edit the profile in " + m.options.ConfigPath + ", then press ctrl+r"
		} else {
			m.statusMessage = "Edit the profile, then press ctrl+r"
		}
	default:
		m.statusMessage = ""
	}
	return focus
}

func (m *AppModel) handleConnectivity(ev interfaces.ConnectivityEvent) {
	prev := m.state
	m.state = ev.State
	m.logger.LogUIStateChange(string(prev), string(ev.State), "connectivity")

	switch ev.State {
	case interfaces.StateConnecting:
		m.attempt++
	case interfaces.StateOpen:
		m.attempt = 0
		m.statusMessage = "Connected to " + m.profile.Endpoint
		if current := m.recovery.Current(); current != nil && current.HasAction(errors.CommandReconnect) {
			m.dismissError()
		}
	case interfaces.StateFailed:
		if ev.Err != nil {
			if processed, err := m.errHandler.Process(ev.Err); err == nil {
				m.showError(processed)
			}
		}
	case interfaces.StateDisconnected:
		m.workflow.Clear()
	}
}

func (m *AppModel) handleChunk(update interfaces.StreamUpdate) {
	entry, ok := m.byID[update.ParentID]
	if !ok || entry.Final {
		return
	}
	// Errors arrive through the reply of the request itself.
	if update.Err == nil {
		entry.Text = update.Text
	}
	m.refreshTranscript()
}

func (m *AppModel) handleReply(msg replyMsg) {
	if cancel, ok := m.cancels[msg.id]; ok {
		cancel()
		delete(m.cancels, msg.id)
	}
	m.workflow.End(msg.id)

	entry, ok := m.byID[msg.id]
	if !ok {
		return
	}
	entry.Final = true
	entry.Duration = time.Since(entry.Started)

	if stderrors.Is(msg.err, context.Canceled) {
		m.statusMessage = "Request cancelled"
	} else if msg.err != nil {
		processed, err := m.errHandler.Process(msg.err)
		if err == nil {
			entry.Err = processed
			m.showError(processed)
		}
	} else if text := replyText(msg.envelope); text != "" {
		entry.Text = text
	}
	m.refreshTranscript()
}

// handleMetaCommand runs a slash command typed into the input
func (m *AppModel) handleMetaCommand(command string) tea.Cmd {
	fields := strings.Fields(command)
	switch fields[0] {
	case "/quit", "/exit":
		m.Close()
		return tea.Quit
	case "/menu":
		return func() tea.Msg { return ConnectionStatusMsg{Connected: false} }
	case "/reconnect":
		return m.Reconnect()
	case "/retry":
		return m.Retry()
	case "/clear":
		m.transcript = nil
		m.byID = make(map[string]*Entry)
		m.refreshTranscript()
	case "/fold":
		m.foldAll = false
		m.toggleFoldAll()
	case "/unfold":
		m.foldAll = true
		m.toggleFoldAll()
	case "/stream":
		m.options.Stream = !m.options.Stream
		m.statusMessage = fmt.Sprintf("Streaming %s", map[bool]string{true: "on", false: "off"}[m.options.Stream])
	case "/kind":
		if len(fields) < 2 {
			m.statusMessage = "Request kind is " + m.options.Kind
			return nil
		}
		m.options.Kind = fields[1]
		m.statusMessage = "Request kind set to " + fields[1]
	case "/help":
		m.statusMessage = "/kind NAME · /stream · /retry · /reconnect · /fold · /unfold · /clear · /menu · /quit"
	default:
		m.statusMessage = "Unknown command " + fields[0]
	}
	return nil
}

func (m *AppModel) toggleFoldAll() {
	m.foldAll = !m.foldAll
	m.folds.SetAll(m.foldAll)
	if m.foldAll {
		m.statusMessage = "Code blocks folded"
	} else {
		m.statusMessage = "Code blocks expanded"
	}
	m.refreshTranscript()
}

// navigateInputHistory moves through previously sent prompts
func (m *AppModel) navigateInputHistory(direction int) {
	if len(m.inputHistory) == 0 {
		return
	}

	newIndex := m.inputHistoryIndex + direction
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(m.inputHistory) {
		m.inputHistoryIndex = len(m.inputHistory)
		m.input.SetValue("")
		return
	}

	m.inputHistoryIndex = newIndex
	m.input.SetValue(m.inputHistory[newIndex])
	m.input.CursorEnd()
}
