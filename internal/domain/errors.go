package domain

import (
	"errors"
	"fmt"
)

// SetupErrorCode identifies a terminal, pre-connection failure.
type SetupErrorCode string

const (
	SetupSessionNotFound       SetupErrorCode = "session_not_found"
	SetupSessionNotActive      SetupErrorCode = "session_not_active"
	SetupConnectionSetupFailed SetupErrorCode = "connection_setup_failed"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionNotActive      = errors.New("session not active")
	ErrConnectionSetupFailed = errors.New("connection setup failed")
)

// SetupError is returned by credential resolution and connection setup.
type SetupError struct {
	Code    SetupErrorCode
	Status  string
	Message string
	Err     error
}

func (e *SetupError) Error() string {
	switch e.Code {
	case SetupSessionNotFound:
		return "session not found"
	case SetupSessionNotActive:
		return fmt.Sprintf("session not active (status %q)", e.Status)
	default:
		if e.Message == "" {
			return "connection setup failed"
		}
		return "connection setup failed: " + e.Message
	}
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's code.
func (e *SetupError) Is(target error) bool {
	switch target {
	case ErrSessionNotFound:
		return e.Code == SetupSessionNotFound
	case ErrSessionNotActive:
		return e.Code == SetupSessionNotActive
	case ErrConnectionSetupFailed:
		return e.Code == SetupConnectionSetupFailed
	}
	return false
}

// UserMessage is the text shown on the failure screen.
func (e *SetupError) UserMessage() string {
	switch e.Code {
	case SetupSessionNotFound:
		return "This interview session could not be found."
	case SetupSessionNotActive:
		return "This interview session is no longer active."
	default:
		return "We could not connect you to the interview. Please try again later."
	}
}

func NewSessionNotFound() *SetupError {
	return &SetupError{Code: SetupSessionNotFound}
}

func NewSessionNotActive(status string) *SetupError {
	return &SetupError{Code: SetupSessionNotActive, Status: status}
}

func NewConnectionSetupFailed(err error) *SetupError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &SetupError{Code: SetupConnectionSetupFailed, Message: message, Err: err}
}

// AsSetupError normalizes any error into a SetupError.
func AsSetupError(err error) *SetupError {
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return setupErr
	}
	return NewConnectionSetupFailed(err)
}
