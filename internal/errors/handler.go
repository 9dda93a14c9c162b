package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/protocol"
)

// ProcessedError is a failure prepared for display. It decouples the error values
// returned by the client from the UI's representation.
type ProcessedError struct {
	Timestamp       time.Time
	Type            ErrorType
	Message         string
	Code            string
	Hint            string
	Traceback       string
	RecoveryActions []interfaces.Action
}

// Handler classifies errors into ProcessedErrors
type Handler struct {
	logger *logging.Logger
}

// NewHandler creates a new error handler
func NewHandler() *Handler {
	return &Handler{logger: logging.GetUILogger()}
}

// Process classifies err. Remote failures are shown verbatim and never offer a
// reconnect; transport and availability failures do when they are retryable.
func (h *Handler) Process(err error) (*ProcessedError, error) {
	if err == nil {
		return nil, fmt.Errorf("cannot process a nil error")
	}

	p := &ProcessedError{Timestamp: time.Now(), Message: err.Error()}

	var (
		remote     *protocol.RemoteError
		protoErr   *protocol.ProtocolError
		contextual *ContextualError
	)
	switch {
	case stderrors.As(err, &remote):
		p.fromPayload(&remote.Payload)

	case stderrors.Is(err, protocol.ErrReconnectExhausted):
		p.Type = ErrorTypeConnection
		p.Code = "reconnect_exhausted"
		p.Message = "The connection could not be restored"
		p.Hint = "Automatic reconnection gave up; reconnect manually once the service is back"
		if stderrors.As(err, &protoErr) && protoErr.Hint != "" {
			p.Hint = protoErr.Hint
		}
		p.RecoveryActions = []interfaces.Action{ActionReconnect, ActionDismiss}

	case stderrors.Is(err, protocol.ErrClientDisposed):
		p.Type = ErrorTypeConnection
		p.Code = "disposed"
		p.Message = "The client has been shut down"

	case stderrors.Is(err, context.DeadlineExceeded):
		p.Type = ErrorTypeTimeout
		p.Code = "timeout"
		p.Message = "The request timed out waiting for a reply"
		p.RecoveryActions = []interfaces.Action{ActionRetry, ActionDismiss}

	case stderrors.As(err, &protoErr):
		p.Message = protoErr.Message
		p.Hint = protoErr.Hint
		p.Code = protoErr.Type
		switch protoErr.Type {
		case protocol.ErrorTypeAvailability:
			p.Type = ErrorTypeAvailability
		case protocol.ErrorTypeEncoding:
			p.Type = ErrorTypeProtocol
		default:
			p.Type = ErrorTypeConnection
		}
		switch {
		case protoErr.StatusCode == 401 || protoErr.StatusCode == 403:
			p.Type = ErrorTypeAuthentication
			p.RecoveryActions = []interfaces.Action{ActionEditConfig, ActionDismiss}
		case protoErr.IsRetryable():
			p.RecoveryActions = []interfaces.Action{ActionReconnect, ActionDismiss}
		}

	case stderrors.As(err, &contextual):
		p.Type = contextual.Type
		p.Code = contextual.Code
		p.Message = contextual.GetUserMessage()
		p.RecoveryActions = contextual.GetRecoveryActions()
	}

	if len(p.RecoveryActions) == 0 {
		p.RecoveryActions = []interfaces.Action{ActionDismiss}
	}

	h.logger.Debug("Processed error", "type", string(p.Type), "code", p.Code)
	return p, nil
}

// ProcessEnvelope prepares a standalone error event, such as the one raised when
// the availability probe fails.
func (h *Handler) ProcessEnvelope(env *interfaces.Envelope) (*ProcessedError, error) {
	if env == nil {
		return nil, fmt.Errorf("cannot process a nil envelope")
	}
	payload := env.ErrorInfo()
	if payload == nil {
		return nil, fmt.Errorf("envelope of type %q carries no error", env.Type)
	}

	p := &ProcessedError{Timestamp: time.Now()}
	p.fromPayload(payload)
	if payload.ErrorType == "HTTPError" {
		p.Type = ErrorTypeAvailability
		p.RecoveryActions = []interfaces.Action{ActionReconnect, ActionEditConfig, ActionDismiss}
	}
	return p, nil
}

func (p *ProcessedError) fromPayload(payload *interfaces.ErrorPayload) {
	p.Type = ErrorTypeRemote
	p.Code = payload.ErrorType
	p.Message = payload.Title
	p.Hint = payload.Hint
	p.Traceback = payload.Traceback
	if p.Message == "" {
		p.Message = payload.ErrorType
	}
	p.RecoveryActions = []interfaces.Action{ActionDismiss}
}

// Payload converts the processed error back into the wire payload shape the
// content renderer understands.
func (p *ProcessedError) Payload() *interfaces.ErrorPayload {
	errorType := p.Code
	if errorType == "" {
		errorType = string(p.Type)
	}
	return &interfaces.ErrorPayload{
		ErrorType: errorType,
		Title:     p.Message,
		Traceback: p.Traceback,
		Hint:      p.Hint,
	}
}

// HasAction reports whether command is among the recovery actions
func (p *ProcessedError) HasAction(command string) bool {
	for _, action := range p.RecoveryActions {
		if action.Command == command {
			return true
		}
	}
	return false
}
