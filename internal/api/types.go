package api

import (
	stdcontext "context"
	"errors"
	"strings"
)

// ErrInvalidRequest marks a malformed control request body.
var ErrInvalidRequest = errors.New("invalid request")

// BackendState is the snapshot returned by the state command.
type BackendState struct {
	Running    bool `json:"running"`
	Spawning   bool `json:"spawning"`
	Restarting bool `json:"restarting"`
	CanManage  bool `json:"canManage"`
}

// Result is the outcome of a restart, stop or credential command. Reason is
// nil on success.
type Result struct {
	OK     bool    `json:"ok"`
	Reason *string `json:"reason"`
	Code   string  `json:"code,omitempty"`
}

// ResultOf converts a command error into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	reason := err.Error()
	return Result{OK: false, Reason: &reason}
}

// Err returns the failure carried by r, or nil.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	if r.Reason == nil || strings.TrimSpace(*r.Reason) == "" {
		return errors.New("backend command failed")
	}
	return errors.New(*r.Reason)
}

// CredentialRequest carries the bearer token for graceful restarts. A null or
// blank token clears it.
type CredentialRequest struct {
	AuthToken *string `json:"authToken"`
}

// RestartRequest optionally carries a bearer token that replaces the stored
// credential before the restart runs.
type RestartRequest struct {
	AuthToken *string `json:"authToken"`
}

// RuntimeInfo answers the runtime presence check.
type RuntimeInfo struct {
	Present bool `json:"present"`
}

// Controller is the command surface exposed to control servers.
type Controller interface {
	IsRuntimePresent() bool
	State() BackendState
	SetCredential(token *string)
	Restart(ctx stdcontext.Context, token *string) error
	Stop(ctx stdcontext.Context) error
}
