// Package errors turns failures from the protocol client, the configuration layer
// and the service itself into structured errors the console can log and present
// with recovery actions.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// ErrorType categorizes errors for presentation
type ErrorType string

const (
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeAvailability   ErrorType = "availability"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeProtocol       ErrorType = "protocol"
	ErrorTypeRemote         ErrorType = "remote"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeTimeout        ErrorType = "timeout"
)

// ErrorSeverity indicates the impact level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// Recovery commands understood by the console
const (
	CommandReconnect  = "reconnect"
	CommandDismiss    = "dismiss"
	CommandEditConfig = "edit_config"
	CommandRetry      = "retry"
)

var (
	ActionReconnect  = interfaces.Action{Name: "Reconnect", Command: CommandReconnect, Type: "primary", Icon: "🔄"}
	ActionRetry      = interfaces.Action{Name: "Retry Request", Command: CommandRetry, Type: "primary", Icon: "↻"}
	ActionEditConfig = interfaces.Action{Name: "Edit Profile", Command: CommandEditConfig, Type: "alternative", Icon: "⚙"}
	ActionDismiss    = interfaces.Action{Name: "Dismiss", Command: CommandDismiss, Type: "cancel", Icon: "✕"}
)

// ContextualError carries diagnostic context alongside a failure
type ContextualError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	UserMessage string                 `json:"userMessage,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	StackTrace  []string               `json:"stackTrace,omitempty"`
	Cause       error                  `json:"-"`
	Recoverable bool                   `json:"recoverable"`
	Actions     []interfaces.Action    `json:"actions,omitempty"`
}

func (e *ContextualError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Type, e.Message)
}

func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns the message meant for the person at the terminal
func (e *ContextualError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// UserMessage returns the user-facing text of the first ContextualError in err's
// chain, or err.Error() when there is none.
func UserMessage(err error) string {
	var ce *ContextualError
	if stderrors.As(err, &ce) {
		return ce.GetUserMessage()
	}
	return err.Error()
}

// RecoveryActions returns the actions offered for a recoverable ContextualError
// in err's chain. Other errors offer none.
func RecoveryActions(err error) []interfaces.Action {
	var ce *ContextualError
	if !stderrors.As(err, &ce) || !ce.Recoverable {
		return nil
	}
	return ce.GetRecoveryActions()
}

// GetRecoveryActions returns explicit actions or defaults for the error type
func (e *ContextualError) GetRecoveryActions() []interfaces.Action {
	if len(e.Actions) > 0 {
		return e.Actions
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeAvailability:
		return []interfaces.Action{ActionReconnect, ActionEditConfig, ActionDismiss}
	case ErrorTypeAuthentication, ErrorTypeConfiguration:
		return []interfaces.Action{ActionEditConfig, ActionDismiss}
	case ErrorTypeTimeout:
		return []interfaces.Action{ActionRetry, ActionDismiss}
	default:
		return []interfaces.Action{ActionDismiss}
	}
}

// ErrorBuilder provides a fluent interface for creating contextual errors
type ErrorBuilder struct {
	err          *ContextualError
	logger       *logging.Logger
	captureStack bool
}

// NewErrorBuilder creates a builder for a recoverable, medium severity error
func NewErrorBuilder(errorType ErrorType, component string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &ContextualError{
			Type:        errorType,
			Severity:    SeverityMedium,
			Component:   component,
			Context:     make(map[string]interface{}),
			Timestamp:   time.Now(),
			Recoverable: true,
		},
		logger: logging.GetGlobalLogger().WithComponent(component),
	}
}

func (eb *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	eb.err.Severity = severity
	return eb
}

func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.err.Message = message
	return eb
}

func (eb *ErrorBuilder) WithUserMessage(userMessage string) *ErrorBuilder {
	eb.err.UserMessage = userMessage
	return eb
}

func (eb *ErrorBuilder) WithCode(code string) *ErrorBuilder {
	eb.err.Code = code
	return eb
}

func (eb *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	eb.err.Operation = operation
	return eb
}

func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.err.Cause = cause
	return eb
}

func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.err.Context[key] = value
	return eb
}

func (eb *ErrorBuilder) WithRecoverable(recoverable bool) *ErrorBuilder {
	eb.err.Recoverable = recoverable
	return eb
}

func (eb *ErrorBuilder) WithActions(actions ...interfaces.Action) *ErrorBuilder {
	eb.err.Actions = actions
	return eb
}

// WithStackTrace records the caller's stack when the error is built
func (eb *ErrorBuilder) WithStackTrace() *ErrorBuilder {
	eb.captureStack = true
	return eb
}

// Build creates the error and logs it at a level matching its severity
func (eb *ErrorBuilder) Build() *ContextualError {
	if eb.captureStack {
		eb.err.StackTrace = captureStackTrace(3)
	}

	fields := map[string]interface{}{
		"error_type":  eb.err.Type,
		"severity":    eb.err.Severity,
		"recoverable": eb.err.Recoverable,
	}
	if eb.err.Operation != "" {
		fields["operation"] = eb.err.Operation
	}
	if eb.err.Code != "" {
		fields["error_code"] = eb.err.Code
	}
	for k, v := range eb.err.Context {
		fields["ctx_"+k] = v
	}

	msg := eb.err.Message
	if eb.err.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, eb.err.Cause)
	}

	logger := eb.logger.WithFields(fields)
	switch eb.err.Severity {
	case SeverityCritical, SeverityHigh:
		logger.Error(msg)
	case SeverityMedium:
		logger.Warn(msg)
	default:
		logger.Info(msg)
	}

	return eb.err
}

func captureStackTrace(skip int) []string {
	var traces []string
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		funcName := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			funcName = fn.Name()
		}
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		traces = append(traces, fmt.Sprintf("%s:%d %s", file, line, funcName))
	}
	return traces
}

func NewConnectionError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeConnection, component).WithSeverity(SeverityHigh)
}

func NewAuthenticationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeAuthentication, component).WithSeverity(SeverityHigh)
}

func NewConfigurationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeConfiguration, component)
}

func NewValidationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeValidation, component)
}
