package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/protocol"
)

func commands(actions []interfaces.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Command
	}
	return out
}

func TestHandlerProcess(t *testing.T) {
	h := NewHandler()

	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantCode  string
		reconnect bool
	}{
		{
			name: "remote error",
			err: &protocol.RemoteError{ParentID: "a1", Payload: interfaces.ErrorPayload{
				ErrorType: "ValueError", Title: "bad input", Traceback: "tb", Hint: "fix it",
			}},
			wantType: ErrorTypeRemote,
			wantCode: "ValueError",
		},
		{
			name:      "reconnect exhausted",
			err:       fmt.Errorf("%w after 5 attempts", protocol.ErrReconnectExhausted),
			wantType:  ErrorTypeConnection,
			wantCode:  "reconnect_exhausted",
			reconnect: true,
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			wantType: ErrorTypeTimeout,
			wantCode: "timeout",
		},
		{
			name:      "probe unavailable",
			err:       &protocol.ProtocolError{Type: protocol.ErrorTypeAvailability, Message: "HTTP 503", StatusCode: 503},
			wantType:  ErrorTypeAvailability,
			wantCode:  protocol.ErrorTypeAvailability,
			reconnect: true,
		},
		{
			name:     "probe unauthorized",
			err:      &protocol.ProtocolError{Type: protocol.ErrorTypeAvailability, Message: "HTTP 401", StatusCode: 401},
			wantType: ErrorTypeAuthentication,
			wantCode: protocol.ErrorTypeAvailability,
		},
		{
			name:     "encoding",
			err:      &protocol.ProtocolError{Type: protocol.ErrorTypeEncoding, Message: "request kind cannot be empty"},
			wantType: ErrorTypeProtocol,
			wantCode: protocol.ErrorTypeEncoding,
		},
		{
			name:     "contextual",
			err:      NewConfigurationError("config").WithMessage("bad yaml").WithCode("parse").Build(),
			wantType: ErrorTypeConfiguration,
			wantCode: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := h.Process(tt.err)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if p.Type != tt.wantType || p.Code != tt.wantCode {
				t.Errorf("Process = (%s, %s), want (%s, %s)", p.Type, p.Code, tt.wantType, tt.wantCode)
			}
			if got := p.HasAction(CommandReconnect); got != tt.reconnect {
				t.Errorf("reconnect offered = %v, want %v (actions %v)", got, tt.reconnect, commands(p.RecoveryActions))
			}
			if len(p.RecoveryActions) == 0 {
				t.Error("no recovery actions")
			}
		})
	}
}

func TestHandlerProcessRemoteKeepsDetails(t *testing.T) {
	remote := &protocol.RemoteError{Payload: interfaces.ErrorPayload{
		ErrorType: "KeyError", Title: "missing key", Traceback: "line 1", Hint: "add the key",
	}}
	p, err := NewHandler().Process(fmt.Errorf("send: %w", remote))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Message != "missing key" || p.Hint != "add the key" || p.Traceback != "line 1" {
		t.Errorf("processed = %+v", p)
	}

	payload := p.Payload()
	if payload.ErrorType != "KeyError" || payload.Title != "missing key" {
		t.Errorf("Payload = %+v", payload)
	}
}

func TestHandlerProcessNil(t *testing.T) {
	if _, err := NewHandler().Process(nil); err == nil {
		t.Error("Process(nil) succeeded")
	}
}

func TestHandlerProcessEnvelope(t *testing.T) {
	h := NewHandler()

	p, err := h.ProcessEnvelope(&interfaces.Envelope{
		Type: interfaces.TypeError, ErrorType: "HTTPError", Title: "HTTP 404", Hint: "check the path",
	})
	if err != nil {
		t.Fatalf("ProcessEnvelope: %v", err)
	}
	if p.Type != ErrorTypeAvailability || !p.HasAction(CommandReconnect) || p.Hint != "check the path" {
		t.Errorf("processed = %+v", p)
	}

	if _, err := h.ProcessEnvelope(&interfaces.Envelope{Type: interfaces.TypeReply}); err == nil {
		t.Error("ProcessEnvelope accepted an envelope without error")
	}
}

func TestContextualErrorUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewConfigurationError("config").WithMessage("save failed").WithCause(cause).WithStackTrace().Build()

	if !stderrors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if len(err.StackTrace) == 0 {
		t.Error("stack trace not captured")
	}
	if err.GetUserMessage() != "save failed" {
		t.Errorf("GetUserMessage = %q", err.GetUserMessage())
	}
}

func TestUserMessage(t *testing.T) {
	ce := NewValidationError("menu").WithMessage("invalid endpoint").WithUserMessage("use ws:// or wss://").Build()
	wrapped := fmt.Errorf("connect: %w", ce)

	if got := UserMessage(wrapped); got != "use ws:// or wss://" {
		t.Errorf("UserMessage(wrapped) = %q", got)
	}
	if got := UserMessage(stderrors.New("plain")); got != "plain" {
		t.Errorf("UserMessage(plain) = %q", got)
	}
}

func TestRecoveryManager(t *testing.T) {
	rm := NewRecoveryManager()
	if _, ok := rm.Choose(); ok {
		t.Fatal("Choose succeeded without a session")
	}

	p := &ProcessedError{RecoveryActions: []interfaces.Action{ActionReconnect, ActionDismiss}}
	if _, err := rm.StartSession(p); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !rm.IsActive() || rm.Current() != p {
		t.Fatal("session not active")
	}

	rm.Move(1)
	rm.Move(1)
	rm.Move(-1)
	if rm.Selected() != 1 {
		t.Errorf("Selected = %d, want 1", rm.Selected())
	}

	action, ok := rm.Choose()
	if !ok || action.Command != CommandDismiss {
		t.Errorf("Choose = (%+v, %v), want dismiss", action, ok)
	}
	if rm.IsActive() {
		t.Error("session still active after Choose")
	}
	if _, err := rm.StartSession(nil); err == nil {
		t.Error("StartSession(nil) succeeded")
	}
}
