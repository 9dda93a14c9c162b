// Package app implements the interactive chat: a transcript of prompts and streamed
// replies, an input line, a status bar, and an error pane with recovery actions.
// Client events arrive on the client's goroutines and are bridged to Bubble Tea
// messages through a channel.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/universal-console/streamrpc/internal/content"
	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/protocol"
	"github.com/universal-console/streamrpc/internal/ui/actions"
	"github.com/universal-console/streamrpc/internal/ui/workflow"
)

// DefaultKind is the request kind used for prompts
const DefaultKind = "chat"

// eventBuffer bounds the bridge between client callbacks and the update loop
const eventBuffer = 256

// FocusState represents the current focus location within the interface
type FocusState int

const (
	FocusInput FocusState = iota
	FocusActions
)

// Options configures an AppModel
type Options struct {
	Kind       string
	Stream     bool
	ConfigPath string
	// InitTimeout bounds the initial probe and connect; zero waits indefinitely
	InitTimeout time.Duration
}

// DefaultOptions streams "chat" requests
func DefaultOptions() Options {
	return Options{Kind: DefaultKind, Stream: true, InitTimeout: time.Minute}
}

// Entry is one prompt and its reply in the transcript
type Entry struct {
	ID       string
	Prompt   string
	Kind     string
	Stream   bool
	Text     string
	Final    bool
	Err      *errors.ProcessedError
	Started  time.Time
	Duration time.Duration
}

// statsSource is implemented by clients that expose traffic counters
type statsSource interface {
	Stats() protocol.ConnectionStatistics
}

// folder is implemented by renderers that can collapse code blocks
type folder interface {
	RenderFolded(text string, width int, collapsed bool) string
}

// AppModel represents the complete state of the chat
type AppModel struct {
	profile  *interfaces.Profile
	client   interfaces.ProtocolClient
	renderer interfaces.ContentRenderer
	options  Options

	errHandler  *errors.Handler
	recovery    *errors.RecoveryManager
	actionsPane *actions.Pane
	workflow    *workflow.Manager
	folds       *content.FoldState
	logger      *logging.Logger

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	transcript        []*Entry
	byID              map[string]*Entry
	inputHistory      []string
	inputHistoryIndex int
	lastRequest       *interfaces.Request
	cancels           map[string]context.CancelFunc

	state         interfaces.ConnState
	attempt       int
	focusState    FocusState
	statusMessage string
	autoScroll    bool
	foldAll       bool

	terminalWidth  int
	terminalHeight int

	events      chan tea.Msg
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe []func()
}

// NewAppModel creates the chat model and subscribes it to the client's events
func NewAppModel(
	profile *interfaces.Profile,
	client interfaces.ProtocolClient,
	renderer interfaces.ContentRenderer,
	options Options,
) *AppModel {
	if options.Kind == "" {
		options.Kind = DefaultKind
	}

	input := textinput.New()
	input.Placeholder = "Send a message, or /help"
	input.Prompt = "› "
	input.Width = 50
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	recovery := errors.NewRecoveryManager()
	m := &AppModel{
		profile:           profile,
		client:            client,
		renderer:          renderer,
		options:           options,
		errHandler:        errors.NewHandler(),
		recovery:          recovery,
		actionsPane:       actions.NewPane(recovery),
		workflow:          workflow.NewManager(),
		folds:             content.NewFoldState(),
		logger:            logging.GetUILogger(),
		input:             input,
		viewport:          viewport.New(80, 20),
		spinner:           sp,
		byID:              make(map[string]*Entry),
		inputHistoryIndex: -1,
		cancels:           make(map[string]context.CancelFunc),
		state:             client.State(),
		autoScroll:        true,
		events:            make(chan tea.Msg, eventBuffer),
		done:              make(chan struct{}),
	}
	m.subscribe()
	return m
}

// Bridge messages
type (
	connectivityMsg struct{ event interfaces.ConnectivityEvent }
	chunkMsg        struct{ update interfaces.StreamUpdate }
	errorEventMsg   struct{ envelope *interfaces.Envelope }

	replyMsg struct {
		id       string
		envelope *interfaces.Envelope
		err      error
	}
	initDoneMsg      struct{ err error }
	reconnectDoneMsg struct{ err error }
)

func (m *AppModel) subscribe() {
	m.unsubscribe = append(m.unsubscribe,
		m.client.OnConnectivity(func(ev interfaces.ConnectivityEvent) {
			m.deliver(connectivityMsg{event: ev}, true)
		}),
		m.client.OnChunk(func(update interfaces.StreamUpdate) {
			// Partial updates carry the whole buffer, so a dropped one is
			// superseded by the next.
			m.deliver(chunkMsg{update: update}, update.Final)
		}),
		m.client.OnMessage(func(env *interfaces.Envelope) {
			if env.Type == interfaces.TypeError && env.ParentID == "" {
				m.deliver(errorEventMsg{envelope: env}, true)
			}
		}),
	)
}

// deliver runs on client goroutines. must blocks until the message is queued or
// the model is closed; otherwise a full queue drops it.
func (m *AppModel) deliver(msg tea.Msg, must bool) {
	if must {
		select {
		case m.events <- msg:
		case <-m.done:
		}
		return
	}
	select {
	case m.events <- msg:
	case <-m.done:
	default:
	}
}

// waitForEvent returns the next bridged message
func (m *AppModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.done:
			return nil
		}
	}
}

// Close unsubscribes from the client and cancels outstanding requests. The client
// itself is disposed by its owner.
func (m *AppModel) Close() {
	m.closeOnce.Do(func() {
		for _, unsub := range m.unsubscribe {
			unsub()
		}
		for _, cancel := range m.cancels {
			cancel()
		}
		close(m.done)
	})
}

// Init implements tea.Model
func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.waitForEvent(),
		m.initialize(),
	)
}

func (m *AppModel) initialize() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.options.InitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.options.InitTimeout)
			defer cancel()
		}
		return initDoneMsg{err: m.client.Initialize(ctx)}
	}
}

// SetTerminalSize updates the layout for the terminal dimensions
func (m *AppModel) SetTerminalSize(width, height int) {
	m.terminalWidth = width
	m.terminalHeight = height

	m.viewport.Width = width
	m.actionsPane.SetWidth(width)
	m.workflow.SetWidth(width)

	availableWidth := width - 6
	if availableWidth > 20 {
		m.input.Width = availableWidth
	}
	m.refreshTranscript()
}

// ExecutePrompt sends text as a request of the configured kind
func (m *AppModel) ExecutePrompt(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return m.handleMetaCommand(text)
	}

	m.addToInputHistory(text)
	req := interfaces.Request{
		Kind:     m.options.Kind,
		ID:       uuid.NewString(),
		Metadata: map[string]string{"text": text},
		Stream:   m.options.Stream,
	}
	return m.send(text, req)
}

// send records the exchange and returns the command that performs it
func (m *AppModel) send(prompt string, req interfaces.Request) tea.Cmd {
	entry := &Entry{
		ID:      req.ID,
		Prompt:  prompt,
		Kind:    req.Kind,
		Stream:  req.Stream,
		Started: time.Now(),
	}
	m.transcript = append(m.transcript, entry)
	m.byID[entry.ID] = entry
	m.workflow.Begin(workflow.Exchange{ID: req.ID, Kind: req.Kind, Stream: req.Stream, Started: entry.Started})
	m.lastRequest = &req
	m.autoScroll = true
	m.refreshTranscript()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[req.ID] = cancel

	client := m.client
	return func() tea.Msg {
		env, err := client.Send(ctx, req)
		return replyMsg{id: req.ID, envelope: env, err: err}
	}
}

// Retry resends the last request under a new identifier
func (m *AppModel) Retry() tea.Cmd {
	if m.lastRequest == nil {
		m.statusMessage = "Nothing to retry"
		return nil
	}
	req := *m.lastRequest
	req.ID = uuid.NewString()

	prompt := req.Kind
	if md, ok := req.Metadata.(map[string]string); ok && md["text"] != "" {
		prompt = md["text"]
	}
	return m.send(prompt, req)
}

// CancelAll abandons every outstanding request
func (m *AppModel) CancelAll() {
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
}

// Reconnect asks the client for a fresh connection with a reset attempt budget
func (m *AppModel) Reconnect() tea.Cmd {
	m.statusMessage = "Reconnecting..."
	client := m.client
	return func() tea.Msg {
		return reconnectDoneMsg{err: client.Reconnect(context.Background(), true)}
	}
}

// showError starts a recovery session for err and focuses the actions
func (m *AppModel) showError(processed *errors.ProcessedError) {
	if processed == nil {
		return
	}
	if _, err := m.recovery.StartSession(processed); err != nil {
		m.logger.Warn("Failed to start recovery session", "error", err.Error())
		return
	}
	m.focusState = FocusActions
	m.input.Blur()
}

func (m *AppModel) dismissError() {
	m.recovery.EndSession()
	m.focusState = FocusInput
	m.input.Focus()
}

func (m *AppModel) addToInputHistory(text string) {
	if n := len(m.inputHistory); n == 0 || m.inputHistory[n-1] != text {
		m.inputHistory = append(m.inputHistory, text)
	}
	m.inputHistoryIndex = len(m.inputHistory)
}

// stats returns the client's counters when it exposes them
func (m *AppModel) stats() (protocol.ConnectionStatistics, bool) {
	if src, ok := m.client.(statsSource); ok {
		return src.Stats(), true
	}
	return protocol.ConnectionStatistics{}, false
}

// replyText turns a non-streaming reply into displayable text
func replyText(env *interfaces.Envelope) string {
	if env == nil {
		return ""
	}
	if env.Chunk != nil {
		return env.Chunk.Content
	}

	raw := env.Result
	if len(raw) == 0 {
		raw = env.Items
	}
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return fmt.Sprintf("```json\n%s\n```", pretty.String())
}
