// Package menu implements the profile picker shown when the console starts without
// a profile: configured profiles with their probe status, plus a quick-connect field
// taking a ws:// or wss:// endpoint.
package menu

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/registry"
	"github.com/universal-console/streamrpc/internal/ui/app"
)

// healthInterval is how often profile probes are refreshed
const healthInterval = 15 * time.Second

// FocusState represents which part of the menu is currently focused.
type FocusState int

const (
	FocusList FocusState = iota
	FocusInput
)

// ClientFactory builds a protocol client for a profile
type ClientFactory func(profile *interfaces.Profile) (interfaces.ProtocolClient, error)

// MenuModel represents the state of the profile picker.
type MenuModel struct {
	registryManager *registry.Manager
	configManager   interfaces.ConfigManager
	contentRenderer interfaces.ContentRenderer
	newClient       ClientFactory
	appOptions      app.Options

	profiles          []string
	health            map[string]registry.ProfileHealth
	selectedIndex     int
	quickConnectInput textinput.Model
	focusState        FocusState
	isConnecting      bool
	statusMessage     string
	err               error

	width  int
	height int
}

// NewMenuModel creates a new profile picker.
func NewMenuModel(
	registryManager *registry.Manager,
	config interfaces.ConfigManager,
	renderer interfaces.ContentRenderer,
	newClient ClientFactory,
	options app.Options,
) *MenuModel {
	ti := textinput.New()
	ti.Placeholder = "ws://localhost:8080/ws"
	ti.CharLimit = 256
	ti.Width = 50

	return &MenuModel{
		registryManager:   registryManager,
		configManager:     config,
		contentRenderer:   renderer,
		newClient:         newClient,
		appOptions:        options,
		quickConnectInput: ti,
		focusState:        FocusList,
		health:            make(map[string]registry.ProfileHealth),
	}
}

// Init loads the profiles and starts probing them.
func (m *MenuModel) Init() tea.Cmd {
	return tea.Batch(m.reloadProfiles(), m.checkHealth())
}

// ConnectionResultMsg carries the chat model built for the chosen profile. The
// parent controller owns Client from then on and disposes it.
type ConnectionResultMsg struct {
	Model  *app.AppModel
	Client interfaces.ProtocolClient
	Err    error
}

type (
	profilesReloadedMsg struct {
		profiles []string
		err      error
	}

	healthStatusUpdatedMsg struct {
		health []registry.ProfileHealth
	}

	tickMsg struct{}
)

func tick() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *MenuModel) reloadProfiles() tea.Cmd {
	return func() tea.Msg {
		profiles, err := m.configManager.ListProfiles()
		return profilesReloadedMsg{profiles: profiles, err: err}
	}
}

// checkHealth probes every profile; failures to list are ignored here and
// surface through reloadProfiles instead.
func (m *MenuModel) checkHealth() tea.Cmd {
	if m.registryManager == nil {
		return nil
	}
	return func() tea.Msg {
		results, err := m.registryManager.CheckAll(context.Background())
		if err != nil {
			return healthStatusUpdatedMsg{}
		}
		return healthStatusUpdatedMsg{health: results}
	}
}

// attemptConnection builds a client and chat model for a profile, or for a
// temporary profile when endpoint is set.
func (m *MenuModel) attemptConnection(profileName, endpoint string) tea.Cmd {
	return func() tea.Msg {
		var (
			profile *interfaces.Profile
			err     error
		)

		if endpoint != "" {
			profile = &interfaces.Profile{
				Name:     "quick-connect",
				Endpoint: endpoint,
				Theme:    "github",
				Auth:     interfaces.AuthConfig{Type: "none"},
			}
			if err := m.configManager.ValidateProfile(profile); err != nil {
				return ConnectionResultMsg{Err: errors.NewValidationError("menu").
					WithOperation("quick_connect").
					WithRecoverable(false).
					WithMessage("invalid endpoint").
					WithUserMessage(fmt.Sprintf("invalid endpoint %q: %v", endpoint, err)).
					WithContext("endpoint", endpoint).
					WithCause(err).
					Build()}
			}
		} else {
			profile, err = m.configManager.LoadProfile(profileName)
			if err != nil {
				return ConnectionResultMsg{Err: errors.NewConfigurationError("menu").
					WithOperation("load_profile").
					WithMessage(fmt.Sprintf("failed to load profile '%s'", profileName)).
					WithContext("profile", profileName).
					WithCause(err).
					Build()}
			}
		}

		client, err := m.newClient(profile)
		if err != nil {
			var ce *errors.ContextualError
			if stderrors.As(err, &ce) {
				return ConnectionResultMsg{Err: err}
			}
			// Nothing was dialed yet, so reconnecting cannot help.
			return ConnectionResultMsg{Err: errors.NewConnectionError("menu").
				WithOperation("create_client").
				WithMessage(fmt.Sprintf("failed to create client for %s", profile.Endpoint)).
				WithUserMessage(fmt.Sprintf("cannot connect to %s: %v", profile.Endpoint, err)).
				WithActions(errors.ActionEditConfig, errors.ActionDismiss).
				WithCause(err).
				Build()}
		}

		model := app.NewAppModel(profile, client, m.contentRenderer, m.appOptions)
		return ConnectionResultMsg{Model: model, Client: client}
	}
}
