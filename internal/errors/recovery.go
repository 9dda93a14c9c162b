package errors

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

// RecoverySession is an error the user has not yet acted on
type RecoverySession struct {
	ID        string
	StartTime time.Time
	Error     *ProcessedError
	selected  int
}

// RecoveryManager tracks the active recovery session and the highlighted action
type RecoveryManager struct {
	mu     sync.RWMutex
	active *RecoverySession
}

func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// StartSession replaces any active session with one for processedErr
func (rm *RecoveryManager) StartSession(processedErr *ProcessedError) (*RecoverySession, error) {
	if processedErr == nil {
		return nil, fmt.Errorf("cannot start recovery session with a nil error")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.active = &RecoverySession{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		Error:     processedErr,
	}
	return rm.active, nil
}

func (rm *RecoveryManager) EndSession() {
	rm.mu.Lock()
	rm.active = nil
	rm.mu.Unlock()
}

func (rm *RecoveryManager) IsActive() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.active != nil
}

// Current returns the active error, or nil
func (rm *RecoveryManager) Current() *ProcessedError {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.active == nil {
		return nil
	}
	return rm.active.Error
}

// GetRecoveryActions returns the actions of the active session
func (rm *RecoveryManager) GetRecoveryActions() []interfaces.Action {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.active == nil || rm.active.Error == nil {
		return nil
	}
	return rm.active.Error.RecoveryActions
}

// Move shifts the highlighted action by delta, wrapping around
func (rm *RecoveryManager) Move(delta int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.active == nil || len(rm.active.Error.RecoveryActions) == 0 {
		return
	}
	n := len(rm.active.Error.RecoveryActions)
	rm.active.selected = ((rm.active.selected+delta)%n + n) % n
}

// Selected returns the index of the highlighted action
func (rm *RecoveryManager) Selected() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.active == nil {
		return 0
	}
	return rm.active.selected
}

// Choose ends the session and returns the highlighted action
func (rm *RecoveryManager) Choose() (interfaces.Action, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.active == nil || len(rm.active.Error.RecoveryActions) == 0 {
		return interfaces.Action{}, false
	}
	action := rm.active.Error.RecoveryActions[rm.active.selected]
	rm.active = nil
	return action, true
}
