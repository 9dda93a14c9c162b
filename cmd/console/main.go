// Package main is the console entry point: an interactive terminal client for
// services speaking the duplex streaming protocol, plus one-shot send and probe
// commands for scripting.
package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/universal-console/streamrpc/internal/app"
	"github.com/universal-console/streamrpc/internal/auth"
	"github.com/universal-console/streamrpc/internal/config"
	"github.com/universal-console/streamrpc/internal/content"
	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/protocol"
	"github.com/universal-console/streamrpc/internal/registry"
	app_ui "github.com/universal-console/streamrpc/internal/ui/app"
	"github.com/universal-console/streamrpc/internal/ui/menu"
)

// Application metadata
const (
	Version     = "1.0.0"
	ProgramName = "console"
)

var (
	profileName string
	configPath  string
	endpoint    string
	debug       bool
	logFile     string
)

// Dependencies holds the services shared by every command
type Dependencies struct {
	ConfigManager *config.Manager
	AuthManager   *auth.Manager
	Registry      *registry.Manager
	Logger        *logging.Logger
}

var rootCmd = &cobra.Command{
	Use:   ProgramName,
	Short: "Interactive client for duplex streaming services",
	Long: `console connects to a service over a websocket, sends requests and renders
streamed replies as they arrive.

Without --profile or --endpoint it opens the profile menu.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// The TUI owns the terminal; keep logs off it.
		if logFile == "" {
			dir, err := config.DataDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
			logFile = filepath.Join(dir, "console.log")
			if err := initializeLogging(); err != nil {
				return err
			}
		}

		deps, err := initializeDependencies()
		if err != nil {
			return err
		}
		return runConsole(deps)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "profile name from the configuration file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the profiles file (default $CONSOLE_CONFIG or ~/.config/console/profiles.yaml)")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "connect to a ws:// or wss:// endpoint without a profile")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", os.Getenv("CONSOLE_DEBUG") == "true", "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file")

	rootCmd.MarkFlagsMutuallyExclusive("profile", "endpoint")
	rootCmd.AddCommand(sendCmd, probeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initializeLogging configures the global logger. Without --debug only warnings
// are written.
func initializeLogging() error {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.WarnLevel
	if debug {
		logConfig.Level = logging.DebugLevel
		logConfig.Format = "json"
	}
	if logFile != "" {
		logConfig.Output = logFile
	}

	if err := logging.InitGlobalLogger(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.GetGlobalLogger().Debug("console starting", "version", Version)
	return nil
}

// initializeDependencies creates the configuration, auth and registry services
func initializeDependencies() (*Dependencies, error) {
	configManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	authManager := auth.NewManager()

	registryManager, err := registry.NewManager(configManager, registry.NewHealthMonitor(nil, authManager))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry manager: %w", err)
	}

	return &Dependencies{
		ConfigManager: configManager,
		AuthManager:   authManager,
		Registry:      registryManager,
		Logger:        logging.GetGlobalLogger(),
	}, nil
}

// buildClient creates a protocol client authenticated through the auth manager.
// Credential failures come back as authentication errors.
func (d *Dependencies) buildClient(profile *interfaces.Profile) (*protocol.Client, error) {
	client, err := protocol.NewClient(profile, protocol.WithAuthManager(d.AuthManager))
	if stderrors.Is(err, protocol.ErrInvalidCredentials) {
		return nil, errors.NewAuthenticationError("cli").
			WithOperation("create_client").
			WithCode("invalid_credentials").
			WithMessage("unusable credentials").
			WithUserMessage(fmt.Sprintf("profile '%s' has unusable credentials: %v", profile.Name, err)).
			WithContext("auth_type", profile.Auth.Type).
			WithCause(err).
			Build()
	}
	return client, err
}

// newClient adapts buildClient to the menu's client factory
func (d *Dependencies) newClient(profile *interfaces.Profile) (interfaces.ProtocolClient, error) {
	client, err := d.buildClient(profile)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// resolveProfile returns the profile selected by --endpoint or --profile. ok is
// false when neither flag was given.
func (d *Dependencies) resolveProfile() (profile *interfaces.Profile, ok bool, err error) {
	switch {
	case endpoint != "":
		profile = &interfaces.Profile{
			Name:     "endpoint",
			Endpoint: endpoint,
			Theme:    "github",
			Auth:     interfaces.AuthConfig{Type: "none"},
		}
		if err := d.ConfigManager.ValidateProfile(profile); err != nil {
			return nil, true, fmt.Errorf("invalid endpoint: %w", err)
		}
		return profile, true, nil
	case profileName != "":
		profile, err = d.ConfigManager.LoadProfile(profileName)
		if err != nil {
			return nil, true, fmt.Errorf("failed to load profile '%s': %w", profileName, err)
		}
		return profile, true, nil
	}
	return nil, false, nil
}

// newRenderer picks the profile's theme when the configuration defines it
func (d *Dependencies) newRenderer(profile *interfaces.Profile) *content.Renderer {
	if profile == nil || profile.Theme == "" {
		return content.NewRenderer(nil)
	}
	theme, err := d.ConfigManager.LoadTheme(profile.Theme)
	if err != nil {
		d.Logger.Debug("Theme not found, using defaults", "theme", profile.Theme)
		return content.NewRenderer(nil)
	}
	return content.NewRenderer(theme)
}

// runConsole starts the TUI, directly in a session when a profile was selected
func runConsole(deps *Dependencies) error {
	options := app_ui.DefaultOptions()
	options.ConfigPath = deps.ConfigManager.GetConfigPath()

	profile, direct, err := deps.resolveProfile()
	if err != nil {
		return err
	}

	renderer := deps.newRenderer(profile)
	menuModel := menu.NewMenuModel(deps.Registry, deps.ConfigManager, renderer, deps.newClient, options)
	controller := app.NewConsoleController(menuModel)

	if direct {
		client, err := deps.newClient(profile)
		if err != nil {
			return describeError(err)
		}
		controller.WithSession(app_ui.NewAppModel(profile, client, renderer, options), client)
	}
	defer controller.Shutdown()

	program := tea.NewProgram(controller, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("console terminated: %w", err)
	}
	return nil
}
