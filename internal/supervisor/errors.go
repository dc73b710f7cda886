package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrActionInProgress rejects a command while another spawn, restart or
	// stop is running.
	ErrActionInProgress = errors.New("Backend action already in progress.")

	// ErrNotManaged reports a rejected graceful restart with no owned child to
	// fall back to.
	ErrNotManaged = errors.New("graceful restart request was rejected and backend is not desktop-managed.")

	// ErrUnmanagedRunning refuses to stop a backend this process did not spawn.
	ErrUnmanagedRunning = errors.New("Backend is running but not managed by desktop process.")

	// ErrAutoStartDisabled is returned by the startup path when spawning is
	// switched off and the backend is unreachable.
	ErrAutoStartDisabled = errors.New("Backend auto-start is disabled (ASTRBOT_BACKEND_AUTO_START=0).")

	// ErrShuttingDown rejects actions once Shutdown has begun.
	ErrShuttingDown = errors.New("Backend supervisor is shutting down.")
)

// ActionError records which supervisor action failed.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Action
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RecoveredPanicError wraps a panic raised inside an action.
type RecoveredPanicError struct {
	Value any
	Stack string
}

func (e *RecoveredPanicError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("panic: %v", e.Value)
}
