// Package config manages connection profiles and themes. Profiles live in a single
// file, YAML by default or TOML when the path ends in .toml, with bearer tokens
// encrypted at rest.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// EnvConfigPath overrides the default profiles file location
const EnvConfigPath = "CONSOLE_CONFIG"

// DefaultProfileName is created on first load and cannot be deleted
const DefaultProfileName = "default"

// encryptedPrefix marks tokens written by this package. Tokens without it are
// treated as plaintext and encrypted on the next save.
const encryptedPrefix = "enc:"

// Config is the complete configuration file
type Config struct {
	DefaultProfile string                        `yaml:"default_profile,omitempty" toml:"default_profile,omitempty"`
	Profiles       map[string]interfaces.Profile `yaml:"profiles" toml:"profiles"`
	Themes         map[string]interfaces.Theme   `yaml:"themes" toml:"themes"`
}

// Manager implements interfaces.ConfigManager over a profiles file
type Manager struct {
	configPath  string
	securityMgr SecurityManager
	logger      *logging.Logger

	mu           sync.Mutex
	cachedConfig *Config
}

// NewManager opens the profiles file at path. An empty path falls back to
// $CONSOLE_CONFIG and then to the XDG config directory.
func NewManager(path string) (*Manager, error) {
	securityMgr, err := NewSecurityManager("")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security manager: %w", err)
	}
	return NewManagerWithSecurity(path, securityMgr)
}

// NewManagerWithSecurity is NewManager with an explicit credential encrypter
func NewManagerWithSecurity(path string, securityMgr SecurityManager) (*Manager, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		defaultPath, err := defaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine configuration path: %w", err)
		}
		path = defaultPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(path), err)
	}

	return &Manager{
		configPath:  path,
		securityMgr: securityMgr,
		logger:      logging.GetConfigLogger(),
	}, nil
}

func defaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "console", "profiles.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "console", "profiles.yaml"), nil
}

func (m *Manager) isTOML() bool {
	return strings.EqualFold(filepath.Ext(m.configPath), ".toml")
}

// loadConfig reads the file, creating it with defaults when missing. Callers hold m.mu.
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		config := defaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.logger.Info("Created default configuration", "path", m.configPath)
		m.cachedConfig = config
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if m.isTOML() {
		_, err = toml.Decode(string(data), &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		m.logger.LogConfigError("parse", err)
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", m.configPath, err)
	}

	for name, profile := range config.Profiles {
		token := profile.Auth.Token
		if !strings.HasPrefix(token, encryptedPrefix) {
			continue
		}
		plaintext, err := m.securityMgr.DecryptCredential(strings.TrimPrefix(token, encryptedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token for profile %s: %w", name, err)
		}
		profile.Auth.Token = plaintext
		config.Profiles[name] = profile
	}

	m.cachedConfig = &config
	return &config, nil
}

// saveConfig writes config with tokens encrypted. Callers hold m.mu.
func (m *Manager) saveConfig(config *Config) error {
	out := *config
	out.Profiles = make(map[string]interfaces.Profile, len(config.Profiles))
	for name, profile := range config.Profiles {
		if profile.Auth.Token != "" {
			ciphertext, err := m.securityMgr.EncryptCredential(profile.Auth.Token)
			if err != nil {
				return fmt.Errorf("failed to encrypt token for profile %s: %w", name, err)
			}
			profile.Auth.Token = encryptedPrefix + ciphertext
		}
		out.Profiles[name] = profile
	}

	var data []byte
	if m.isTOML() {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(&out); err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(&out); err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		DefaultProfile: DefaultProfileName,
		Profiles: map[string]interfaces.Profile{
			DefaultProfileName: {
				Name:     DefaultProfileName,
				Endpoint: "ws://localhost:8080/ws",
				Theme:    "github",
				Auth:     interfaces.AuthConfig{Type: "none"},
			},
		},
		Themes: map[string]interfaces.Theme{
			"github": {
				Name:    "github",
				Success: "#28a745",
				Error:   "#dc3545",
				Warning: "#ffc107",
				Info:    "#17a2b8",
				Syntax:  "github",
			},
			"monokai": {
				Name:    "monokai",
				Success: "#a6e22e",
				Error:   "#f92672",
				Warning: "#fd971f",
				Info:    "#66d9ef",
				Syntax:  "monokai",
			},
		},
	}
}

// LoadProfile returns the named profile, or the configured default when name is empty
func (m *Manager) LoadProfile(name string) (*interfaces.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if name == "" {
		name = config.DefaultProfile
		if name == "" {
			name = DefaultProfileName
		}
	}
	profile, exists := config.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	profile.Name = name

	if err := m.ValidateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile '%s' is invalid: %w", name, err)
	}

	m.logger.LogConfigLoad(m.configPath, name)
	return &profile, nil
}

// SaveProfile adds or replaces a profile
func (m *Manager) SaveProfile(profile *interfaces.Profile) error {
	if err := m.ValidateProfile(profile); err != nil {
		return fmt.Errorf("cannot save invalid profile: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]interfaces.Profile)
	}
	config.Profiles[profile.Name] = *profile

	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// DeleteProfile removes a profile. The default profile cannot be deleted.
func (m *Manager) DeleteProfile(name string) error {
	if name == DefaultProfileName {
		return fmt.Errorf("cannot delete the default profile")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, exists := config.Profiles[name]; !exists {
		return fmt.Errorf("profile '%s' does not exist", name)
	}
	delete(config.Profiles, name)

	return m.saveConfig(config)
}

// ListProfiles returns profile names in sorted order
func (m *Manager) ListProfiles() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LoadTheme retrieves theme configuration by name
func (m *Manager) LoadTheme(name string) (*interfaces.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	theme, exists := config.Themes[name]
	if !exists {
		return nil, fmt.Errorf("theme '%s' not found", name)
	}
	theme.Name = name
	return &theme, nil
}

// ValidateProfile checks the fields the client depends on. Errors name the field.
func (m *Manager) ValidateProfile(profile *interfaces.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return fmt.Errorf("name: cannot be empty")
	}

	if strings.TrimSpace(profile.Endpoint) == "" {
		return fmt.Errorf("endpoint: cannot be empty")
	}
	endpoint, err := url.Parse(profile.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return fmt.Errorf("endpoint: scheme must be ws or wss, got %q", endpoint.Scheme)
	}
	if endpoint.Host == "" {
		return fmt.Errorf("endpoint: missing host")
	}

	if profile.ProbeURL != "" {
		probe, err := url.Parse(profile.ProbeURL)
		if err != nil {
			return fmt.Errorf("probe_url: %w", err)
		}
		if probe.Scheme != "http" && probe.Scheme != "https" {
			return fmt.Errorf("probe_url: scheme must be http or https, got %q", probe.Scheme)
		}
	}

	switch profile.Auth.Type {
	case "", "none":
	case "bearer":
		token := profile.Auth.Token
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("auth.token: required when auth type is 'bearer'")
		}
		if strings.ContainsAny(token, " \t\n\r") {
			return fmt.Errorf("auth.token: cannot contain whitespace")
		}
	default:
		return fmt.Errorf("auth.type: unsupported authentication type %q", profile.Auth.Type)
	}

	conn := profile.Connection
	if conn.MaxAttempts < 0 {
		return fmt.Errorf("connection.max_attempts: cannot be negative")
	}
	durations := []struct {
		field string
		value interfaces.Duration
	}{
		{"connection.base_delay", conn.BaseDelay},
		{"connection.coalesce_delay", conn.CoalesceDelay},
		{"connection.handshake_timeout", conn.HandshakeTimeout},
		{"connection.probe_timeout", conn.ProbeTimeout},
		{"connection.request_timeout", conn.RequestTimeout},
		{"connection.settled_ttl", conn.SettledTTL},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s: cannot be negative", d.field)
		}
	}

	return nil
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache forces the next access to re-read the file
func (m *Manager) InvalidateCache() {
	m.mu.Lock()
	m.cachedConfig = nil
	m.mu.Unlock()
}

var _ interfaces.ConfigManager = (*Manager)(nil)
