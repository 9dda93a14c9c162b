// Package app provides the top-level controller that switches between the profile
// menu and a chat session. The controller owns the protocol client of the active
// session and disposes it when the session ends.
package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/ui/app"
	"github.com/universal-console/streamrpc/internal/ui/menu"
)

// activeView determines which model is currently visible and receiving updates.
type activeView int

const (
	menuView activeView = iota
	appView
)

// ConsoleController is the main application model that manages state transitions
// between the Menu and Application modes.
type ConsoleController struct {
	menuModel *menu.MenuModel
	appModel  *app.AppModel
	client    interfaces.ProtocolClient

	currentView activeView

	width  int
	height int

	logger *logging.Logger
}

// NewConsoleController creates a controller that starts on the profile menu.
func NewConsoleController(menuModel *menu.MenuModel) *ConsoleController {
	return &ConsoleController{
		menuModel:   menuModel,
		currentView: menuView,
		logger:      logging.GetUILogger(),
	}
}

// WithSession starts the controller directly in a chat session. The controller
// takes ownership of client.
func (c *ConsoleController) WithSession(model *app.AppModel, client interfaces.ProtocolClient) *ConsoleController {
	c.appModel = model
	c.client = client
	c.currentView = appView
	return c
}

// Init initializes the active child model.
func (c *ConsoleController) Init() tea.Cmd {
	if c.currentView == appView && c.appModel != nil {
		return c.appModel.Init()
	}
	if c.menuModel != nil {
		return c.menuModel.Init()
	}
	return nil
}

// Update handles all messages and delegates them to the active child model.
func (c *ConsoleController) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height

	case menu.ConnectionResultMsg:
		if msg.Err != nil || msg.Model == nil {
			if c.menuModel == nil {
				return c, nil
			}
			_, cmd = c.menuModel.Update(msg)
			return c, cmd
		}
		c.endSession()
		c.appModel = msg.Model
		c.client = msg.Client
		c.currentView = appView
		c.logger.LogUIStateChange("menu", "app", "connected")

		// The menu swallows everything while connecting; let it settle.
		if c.menuModel != nil {
			c.menuModel.Update(msg)
		}
		c.appModel.Update(tea.WindowSizeMsg{Width: c.width, Height: c.height})
		return c, c.appModel.Init()

	case app.ConnectionStatusMsg:
		if msg.Connected {
			return c, nil
		}
		c.endSession()
		if c.menuModel == nil {
			return c, tea.Quit
		}
		c.currentView = menuView
		c.logger.LogUIStateChange("app", "menu", "left session")
		c.menuModel.Update(tea.WindowSizeMsg{Width: c.width, Height: c.height})
		return c, c.menuModel.Init()
	}

	switch c.currentView {
	case menuView:
		if c.menuModel != nil {
			_, cmd = c.menuModel.Update(msg)
			cmds = append(cmds, cmd)
		}
	case appView:
		if c.appModel != nil {
			_, cmd = c.appModel.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return c, tea.Batch(cmds...)
}

// View renders the view of the currently active child model.
func (c *ConsoleController) View() string {
	switch c.currentView {
	case appView:
		if c.appModel != nil {
			return c.appModel.View()
		}
	case menuView:
		if c.menuModel != nil {
			return c.menuModel.View()
		}
	}
	return "Error: Unknown view state."
}

// Shutdown closes the active session. Call it once the program has exited.
func (c *ConsoleController) Shutdown() {
	c.endSession()
}

func (c *ConsoleController) endSession() {
	if c.appModel != nil {
		c.appModel.Close()
		c.appModel = nil
	}
	if c.client != nil {
		if err := c.client.Dispose(); err != nil {
			c.logger.Warn("Failed to dispose client", "error", err.Error())
		}
		c.client = nil
	}
}
