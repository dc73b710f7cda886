package launch

import (
	"errors"
	"fmt"
)

// Code classifies a launch plan resolution failure.
type Code string

const (
	CodeInvalidOverride    Code = "invalid_override"
	CodeInvalidManifest    Code = "invalid_manifest"
	CodeMissingInterpreter Code = "missing_interpreter"
	CodeMissingEntrypoint  Code = "missing_entrypoint"
	CodeSourceNotFound     Code = "source_not_found"
)

// Resolution errors. Use errors.Is against a *ResolutionError to classify it.
var (
	ErrInvalidOverride    = errors.New("invalid backend command override")
	ErrInvalidManifest    = errors.New("invalid packaged runtime manifest")
	ErrMissingInterpreter = errors.New("packaged interpreter missing")
	ErrMissingEntrypoint  = errors.New("packaged entrypoint missing")
	ErrSourceNotFound     = errors.New("backend source directory not found")
)

var sentinels = map[Code]error{
	CodeInvalidOverride:    ErrInvalidOverride,
	CodeInvalidManifest:    ErrInvalidManifest,
	CodeMissingInterpreter: ErrMissingInterpreter,
	CodeMissingEntrypoint:  ErrMissingEntrypoint,
	CodeSourceNotFound:     ErrSourceNotFound,
}

// ResolutionError reports why no launch plan could be produced.
type ResolutionError struct {
	Code    Code
	Message string
	Path    string // offending file or directory, if any
	Cause   error
}

func newResolutionError(code Code, path string, cause error, format string, args ...any) *ResolutionError {
	return &ResolutionError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
		Cause:   cause,
	}
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the sentinel associated with the error code.
func (e *ResolutionError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ResolutionError); ok {
		return e == t
	}
	return sentinels[e.Code] == target
}
