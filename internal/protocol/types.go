// Package protocol implements the duplex streaming RPC client: one persistent socket
// multiplexed into request/reply and request/stream exchanges, with an availability
// probe, bounded reconnection with backoff, and coalesced stream aggregation.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

// Defaults applied when a profile leaves a connection setting unset
const (
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = time.Second
	DefaultCoalesceDelay    = 20 * time.Millisecond
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultSettledTTL       = time.Minute
)

var (
	// ErrClientDisposed is returned by every operation after Dispose and used to
	// reject waiters that were outstanding when Dispose ran.
	ErrClientDisposed = errors.New("client disposed")

	// ErrReconnectExhausted is returned once the reconnect attempt bound is reached.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrDuplicateRequest is returned when a request id is already outstanding.
	ErrDuplicateRequest = errors.New("request id already outstanding")

	// ErrNotConnected is returned when writing to a socket that is not open.
	ErrNotConnected = errors.New("socket not connected")

	// ErrConnectionClosed rejects a readiness wait when the socket closes first.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidCredentials wraps auth manager failures while building headers.
	ErrInvalidCredentials = errors.New("failed to build auth header")
)

// Error categories carried by ProtocolError
const (
	ErrorTypeTransport    = "transport"
	ErrorTypeAvailability = "availability"
	ErrorTypeEncoding     = "encoding"
)

// ProtocolError represents a failure raised by this client rather than the server
type ProtocolError struct {
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	Hint          string    `json:"hint,omitempty"`
	StatusCode    int       `json:"statusCode,omitempty"`
	OriginalError error     `json:"-"`
	Timestamp     time.Time `json:"timestamp"`
	Recoverable   bool      `json:"recoverable"`
}

// Error implements the error interface for ProtocolError
func (pe *ProtocolError) Error() string {
	if pe.OriginalError != nil {
		return fmt.Sprintf("%s: %v", pe.Message, pe.OriginalError)
	}
	return pe.Message
}

// Unwrap provides access to the original underlying error
func (pe *ProtocolError) Unwrap() error {
	return pe.OriginalError
}

// IsRetryable determines if the error condition might be resolved by reconnecting
func (pe *ProtocolError) IsRetryable() bool {
	switch pe.Type {
	case ErrorTypeTransport:
		return true
	case ErrorTypeAvailability:
		return pe.StatusCode == 0 || pe.StatusCode == 429 || pe.StatusCode >= 500
	default:
		return pe.Recoverable
	}
}

// RemoteError is a server-reported error from a reply or chunk envelope.
// It is surfaced verbatim and never retried.
type RemoteError struct {
	ParentID string
	Payload  interfaces.ErrorPayload
}

// Error implements the error interface for RemoteError
func (re *RemoteError) Error() string {
	if re.Payload.ErrorType != "" {
		return fmt.Sprintf("%s: %s", re.Payload.ErrorType, re.Payload.Title)
	}
	return re.Payload.Title
}

// ConnectionStatistics tracks communication metrics for monitoring and debugging
type ConnectionStatistics struct {
	State            interfaces.ConnState `json:"state"`
	MessagesSent     int64                `json:"messagesSent"`
	MessagesReceived int64                `json:"messagesReceived"`
	BytesSent        int64                `json:"bytesSent"`
	BytesReceived    int64                `json:"bytesReceived"`
	Reconnects       int                  `json:"reconnects"`
	Attempts         int                  `json:"attempts"`
	Outstanding      int                  `json:"outstanding"`
	ActiveStreams    int                  `json:"activeStreams"`
	ConnectedSince   time.Time            `json:"connectedSince,omitempty"`
	LastError        string               `json:"lastError,omitempty"`
}

// wireRequest is the JSON shape of an outbound request envelope
type wireRequest struct {
	Type      string      `json:"type"`
	MessageID string      `json:"message_id"`
	Metadata  interface{} `json:"metadata"`
	Stream    bool        `json:"stream"`
}

func wrapTransportError(message string, err error) *ProtocolError {
	return &ProtocolError{
		Type:          ErrorTypeTransport,
		Message:       message,
		OriginalError: err,
		Timestamp:     time.Now(),
		Recoverable:   true,
	}
}

func wrapEncodingError(message string, err error) *ProtocolError {
	return &ProtocolError{
		Type:          ErrorTypeEncoding,
		Message:       message,
		OriginalError: err,
		Timestamp:     time.Now(),
	}
}
