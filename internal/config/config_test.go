package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

func newTestManager(t *testing.T, name string) *Manager {
	t.Helper()
	dir := t.TempDir()
	sec, err := NewSecurityManager(filepath.Join(dir, "security", "master.key"))
	if err != nil {
		t.Fatalf("NewSecurityManager: %v", err)
	}
	m, err := NewManagerWithSecurity(filepath.Join(dir, name), sec)
	if err != nil {
		t.Fatalf("NewManagerWithSecurity: %v", err)
	}
	return m
}

func reopen(t *testing.T, m *Manager) *Manager {
	t.Helper()
	fresh, err := NewManagerWithSecurity(m.GetConfigPath(), m.securityMgr)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	return fresh
}

func TestManagerCreatesDefaults(t *testing.T) {
	m := newTestManager(t, "profiles.yaml")

	profile, err := m.LoadProfile("")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if profile.Name != DefaultProfileName || profile.Endpoint != "ws://localhost:8080/ws" {
		t.Errorf("default profile = %+v", profile)
	}
	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Errorf("config file not written: %v", err)
	}

	theme, err := m.LoadTheme("monokai")
	if err != nil || theme.Syntax != "monokai" {
		t.Errorf("LoadTheme = (%+v, %v)", theme, err)
	}
	if _, err := m.LoadTheme("missing"); err == nil {
		t.Error("LoadTheme(missing) succeeded")
	}
}

func TestManagerEncryptsTokens(t *testing.T) {
	for _, name := range []string{"profiles.yaml", "profiles.toml"} {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t, name)
			profile := &interfaces.Profile{
				Name:     "prod",
				Endpoint: "wss://api.example.com/ws",
				Theme:    "github",
				Auth:     interfaces.AuthConfig{Type: "bearer", Token: "s3cr3t-value-123"},
				Connection: interfaces.ConnectionSettings{
					MaxAttempts:   3,
					BaseDelay:     interfaces.Duration(500 * time.Millisecond),
					CoalesceDelay: interfaces.Duration(50 * time.Millisecond),
				},
			}
			if err := m.SaveProfile(profile); err != nil {
				t.Fatalf("SaveProfile: %v", err)
			}

			raw, err := os.ReadFile(m.GetConfigPath())
			if err != nil {
				t.Fatalf("read config: %v", err)
			}
			if strings.Contains(string(raw), "s3cr3t-value-123") {
				t.Error("token written in plaintext")
			}
			if !strings.Contains(string(raw), encryptedPrefix) {
				t.Error("encrypted token marker missing")
			}

			loaded, err := reopen(t, m).LoadProfile("prod")
			if err != nil {
				t.Fatalf("LoadProfile: %v", err)
			}
			if loaded.Auth.Token != "s3cr3t-value-123" {
				t.Errorf("token = %q after round trip", loaded.Auth.Token)
			}
			if loaded.Connection.MaxAttempts != 3 ||
				loaded.Connection.BaseDelay.Std() != 500*time.Millisecond ||
				loaded.Connection.CoalesceDelay.Std() != 50*time.Millisecond {
				t.Errorf("connection settings = %+v", loaded.Connection)
			}
		})
	}
}

func TestManagerReadsHandwrittenFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"profiles.yaml", `
default_profile: local
profiles:
  local:
    endpoint: ws://127.0.0.1:9000/ws
    auth:
      type: bearer
      token: plain-token-value
    connection:
      request_timeout: 30s
`},
		{"profiles.toml", `
default_profile = "local"

[profiles.local]
endpoint = "ws://127.0.0.1:9000/ws"

[profiles.local.auth]
type = "bearer"
token = "plain-token-value"

[profiles.local.connection]
request_timeout = "30s"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.name)
			if err := os.WriteFile(m.GetConfigPath(), []byte(tt.content), 0600); err != nil {
				t.Fatalf("write: %v", err)
			}

			profile, err := m.LoadProfile("")
			if err != nil {
				t.Fatalf("LoadProfile: %v", err)
			}
			if profile.Name != "local" || profile.Auth.Token != "plain-token-value" {
				t.Errorf("profile = %+v", profile)
			}
			if profile.Connection.RequestTimeout.Std() != 30*time.Second {
				t.Errorf("request_timeout = %v", profile.Connection.RequestTimeout.Std())
			}
		})
	}
}

func TestManagerParseError(t *testing.T) {
	m := newTestManager(t, "profiles.yaml")
	if err := os.WriteFile(m.GetConfigPath(), []byte("profiles: [unclosed"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.LoadProfile(""); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("LoadProfile = %v, want parse error", err)
	}
}

func TestManagerListAndDelete(t *testing.T) {
	m := newTestManager(t, "profiles.yaml")
	for _, name := range []string{"zeta", "alpha"} {
		err := m.SaveProfile(&interfaces.Profile{Name: name, Endpoint: "ws://localhost:1/ws"})
		if err != nil {
			t.Fatalf("SaveProfile(%s): %v", name, err)
		}
	}

	names, err := m.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if strings.Join(names, ",") != "alpha,default,zeta" {
		t.Errorf("ListProfiles = %v", names)
	}

	if err := m.DeleteProfile(DefaultProfileName); err == nil {
		t.Error("deleted the default profile")
	}
	if err := m.DeleteProfile("zeta"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if err := m.DeleteProfile("zeta"); err == nil {
		t.Error("deleted a missing profile")
	}
	if _, err := reopen(t, m).LoadProfile("zeta"); err == nil {
		t.Error("deleted profile still loadable")
	}
}

func TestManagerPathFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env", "profiles.toml")
	t.Setenv(EnvConfigPath, path)

	sec, err := NewSecurityManager(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatalf("NewSecurityManager: %v", err)
	}
	m, err := NewManagerWithSecurity("", sec)
	if err != nil {
		t.Fatalf("NewManagerWithSecurity: %v", err)
	}
	if m.GetConfigPath() != path {
		t.Errorf("config path = %q, want %q", m.GetConfigPath(), path)
	}
	if !m.isTOML() {
		t.Error("toml extension not detected")
	}
}

func TestValidateProfile(t *testing.T) {
	m := newTestManager(t, "profiles.yaml")
	valid := func() *interfaces.Profile {
		return &interfaces.Profile{Name: "p", Endpoint: "ws://localhost:8080/ws"}
	}

	tests := []struct {
		name   string
		mutate func(p *interfaces.Profile)
		field  string
	}{
		{"valid", func(p *interfaces.Profile) {}, ""},
		{"wss with bearer", func(p *interfaces.Profile) {
			p.Endpoint = "wss://example.com/ws"
			p.Auth = interfaces.AuthConfig{Type: "bearer", Token: "abc.def"}
		}, ""},
		{"empty name", func(p *interfaces.Profile) { p.Name = " " }, "name"},
		{"empty endpoint", func(p *interfaces.Profile) { p.Endpoint = "" }, "endpoint"},
		{"http endpoint", func(p *interfaces.Profile) { p.Endpoint = "http://localhost/ws" }, "endpoint"},
		{"no host", func(p *interfaces.Profile) { p.Endpoint = "ws:///ws" }, "endpoint"},
		{"bad probe", func(p *interfaces.Profile) { p.ProbeURL = "ws://localhost/" }, "probe_url"},
		{"missing token", func(p *interfaces.Profile) { p.Auth.Type = "bearer" }, "auth.token"},
		{"spaced token", func(p *interfaces.Profile) {
			p.Auth = interfaces.AuthConfig{Type: "bearer", Token: "a b"}
		}, "auth.token"},
		{"unknown auth", func(p *interfaces.Profile) { p.Auth.Type = "kerberos" }, "auth.type"},
		{"negative attempts", func(p *interfaces.Profile) { p.Connection.MaxAttempts = -1 }, "connection.max_attempts"},
		{"negative delay", func(p *interfaces.Profile) {
			p.Connection.BaseDelay = interfaces.Duration(-time.Second)
		}, "connection.base_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := m.ValidateProfile(p)
			if tt.field == "" {
				if err != nil {
					t.Errorf("ValidateProfile = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.HasPrefix(err.Error(), tt.field+":") {
				t.Errorf("ValidateProfile = %v, want error on %s", err, tt.field)
			}
		})
	}

	if err := m.ValidateProfile(nil); err == nil {
		t.Error("ValidateProfile(nil) succeeded")
	}
}

func TestSecurityManagerRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "master.key")
	first, err := NewSecurityManager(keyPath)
	if err != nil {
		t.Fatalf("NewSecurityManager: %v", err)
	}

	ciphertext, err := first.EncryptCredential("hunter22")
	if err != nil {
		t.Fatalf("EncryptCredential: %v", err)
	}
	again, _ := first.EncryptCredential("hunter22")
	if ciphertext == again {
		t.Error("encryption is deterministic; nonce not random")
	}

	// A second manager over the same salt derives the same key.
	second, err := NewSecurityManager(keyPath)
	if err != nil {
		t.Fatalf("NewSecurityManager: %v", err)
	}
	plaintext, err := second.DecryptCredential(ciphertext)
	if err != nil || plaintext != "hunter22" {
		t.Errorf("DecryptCredential = (%q, %v)", plaintext, err)
	}

	if _, err := second.DecryptCredential("not-base64!"); err == nil {
		t.Error("decrypted garbage")
	}
	if _, err := second.DecryptCredential("c2hvcnQ="); err == nil {
		t.Error("decrypted a short ciphertext")
	}
}
