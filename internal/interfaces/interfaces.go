// Package interfaces defines the core types and interfaces shared across the console:
// profiles and connection settings, the wire envelopes exchanged over the duplex socket,
// and the contracts used for dependency injection between the UI and its backends.
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Profile represents a complete configuration profile for connecting to a service
type Profile struct {
	Name       string             `yaml:"name" toml:"name"`
	Endpoint   string             `yaml:"endpoint" toml:"endpoint"`
	ProbeURL   string             `yaml:"probe_url,omitempty" toml:"probe_url,omitempty"`
	Theme      string             `yaml:"theme" toml:"theme"`
	Auth       AuthConfig         `yaml:"auth" toml:"auth"`
	Connection ConnectionSettings `yaml:"connection" toml:"connection"`
	Metadata   map[string]string  `yaml:"metadata,omitempty" toml:"metadata,omitempty"`
}

// AuthConfig represents authentication configuration for a profile
type AuthConfig struct {
	Type  string `yaml:"type" toml:"type"` // "bearer", "none"
	Token string `yaml:"token,omitempty" toml:"token,omitempty"`
}

// ConnectionSettings tunes the reconnect policy, stream coalescing and timeouts.
// Zero values are replaced by defaults when the client is built.
type ConnectionSettings struct {
	MaxAttempts      int      `yaml:"max_attempts,omitempty" toml:"max_attempts,omitempty"`
	BaseDelay        Duration `yaml:"base_delay,omitempty" toml:"base_delay,omitempty"`
	CoalesceDelay    Duration `yaml:"coalesce_delay,omitempty" toml:"coalesce_delay,omitempty"`
	HandshakeTimeout Duration `yaml:"handshake_timeout,omitempty" toml:"handshake_timeout,omitempty"`
	ProbeTimeout     Duration `yaml:"probe_timeout,omitempty" toml:"probe_timeout,omitempty"`
	RequestTimeout   Duration `yaml:"request_timeout,omitempty" toml:"request_timeout,omitempty"`
	SettledTTL       Duration `yaml:"settled_ttl,omitempty" toml:"settled_ttl,omitempty"`
}

// Duration is a time.Duration that reads and writes as a Go duration string ("1s", "20ms")
// in both YAML and TOML profile files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Theme represents visual styling configuration
type Theme struct {
	Name    string `yaml:"name" toml:"name"`
	Success string `yaml:"success" toml:"success"`
	Error   string `yaml:"error" toml:"error"`
	Warning string `yaml:"warning" toml:"warning"`
	Info    string `yaml:"info" toml:"info"`
	Syntax  string `yaml:"syntax,omitempty" toml:"syntax,omitempty"`
}

// ConfigManager handles profile and theme management
type ConfigManager interface {
	// LoadProfile retrieves a profile by name from the configuration file
	LoadProfile(name string) (*Profile, error)

	// SaveProfile persists a profile to the configuration file
	SaveProfile(profile *Profile) error

	// ListProfiles returns all available profile names
	ListProfiles() ([]string, error)

	// LoadTheme retrieves theme configuration by name
	LoadTheme(name string) (*Theme, error)

	// ValidateProfile ensures profile has all required fields
	ValidateProfile(profile *Profile) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string
}

// Envelope type tags
const (
	TypeReply = "reply"
	TypeChunk = "chunk"
	TypeError = "error"
)

// Envelope is any structured message exchanged over the socket, discriminated by Type.
// Requests carry MessageID, replies and chunks carry ParentID.
type Envelope struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id,omitempty"`
	ParentID  string          `json:"parent_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
	Items     json.RawMessage `json:"items,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Chunk     *ChunkBody      `json:"chunk,omitempty"`
	Done      bool            `json:"done,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`

	// Flat error fields used by standalone "error" events.
	ErrorType string `json:"error_type,omitempty"`
	Title     string `json:"title,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// ChunkBody is the partial content carried by a chunk envelope
type ChunkBody struct {
	Content string `json:"content"`
}

// ErrorPayload is the error shape servers attach to replies and chunks
type ErrorPayload struct {
	ErrorType string `json:"error_type"`
	Title     string `json:"title"`
	Traceback string `json:"traceback,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// ErrorInfo returns the error carried by the envelope, covering both the nested
// form used on replies and chunks and the flat form used by error events.
func (e *Envelope) ErrorInfo() *ErrorPayload {
	if e == nil {
		return nil
	}
	if e.Error != nil {
		return e.Error
	}
	if e.Type == TypeError {
		return &ErrorPayload{ErrorType: e.ErrorType, Title: e.Title, Hint: e.Hint}
	}
	return nil
}

// Request is an outbound request handed to the protocol client.
// ID is generated when empty.
type Request struct {
	Kind     string
	ID       string
	Metadata interface{}
	Stream   bool
}

// ConnState is the lifecycle state of the client's connection
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateClosing      ConnState = "closing"
	StateFailed       ConnState = "failed"
)

// ConnectivityEvent reports a connection state transition
type ConnectivityEvent struct {
	State ConnState
	Err   error
	At    time.Time
}

// StreamUpdate is one publication of a stream's accumulated text.
// Final is set exactly once per stream, on success or error.
type StreamUpdate struct {
	ParentID string
	Text     string
	Final    bool
	Err      error
}

// ProtocolClient is the duplex client surface consumed by the UI and the CLI
type ProtocolClient interface {
	// Initialize opens the connection; a no-op while connected or connecting
	Initialize(ctx context.Context) error

	// Send transmits a request and waits for its reply
	Send(ctx context.Context, req Request) (*Envelope, error)

	// Reconnect drops the current connection and brings up a new one
	Reconnect(ctx context.Context, forceReset bool) error

	// State returns the current connection state
	State() ConnState

	// OnMessage subscribes to every decoded envelope
	OnMessage(fn func(*Envelope)) func()

	// OnChunk subscribes to stream publications of all streams
	OnChunk(fn func(StreamUpdate)) func()

	// OnConnectivity subscribes to connection state transitions
	OnConnectivity(fn func(ConnectivityEvent)) func()

	// Dispose tears everything down; safe to call repeatedly
	Dispose() error
}

// ContentRenderer turns streamed text and error payloads into terminal output
type ContentRenderer interface {
	// RenderMessage formats accumulated stream text for the given width
	RenderMessage(text string, width int) string

	// RenderError formats an error payload with its hint and traceback
	RenderError(payload *ErrorPayload, width int) string
}

// AuthManager handles authentication header construction
type AuthManager interface {
	// ValidateToken verifies the format and basic validity of an authentication token
	ValidateToken(token string, tokenType string) error

	// CreateAuthHeader constructs the appropriate authentication header value
	CreateAuthHeader(auth *AuthConfig) (string, error)
}

// Action is a recovery step offered alongside an error
type Action struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Type    string `json:"type"`
	Icon    string `json:"icon,omitempty"`
}
