package automation

import (
	"errors"
	"fmt"

	"boardflow/internal/models"
)

var (
	// Returned by ProcessEvent.
	ErrInvalidEvent     = errors.New("invalid automation event")
	ErrStoreUnavailable = errors.New("entity store unavailable")

	// Returned by collaborators.
	ErrEntityNotFound = errors.New("entity not found")
	ErrRuleNotFound   = errors.New("automation rule not found")

	// Returned by action handlers.
	ErrInvalidActionConfig = errors.New("invalid action config")
	ErrServiceNotConnected = errors.New("service not connected")
	ErrUnparseableResponse = errors.New("unparseable provider response")
)

// ErrorKind classifies handler failures.
type ErrorKind string

const (
	KindConfig       ErrorKind = "config"
	KindLookup       ErrorKind = "lookup"
	KindNotConnected ErrorKind = "not_connected"
	KindProvider     ErrorKind = "provider"
	KindStore        ErrorKind = "store"
	KindInternal     ErrorKind = "internal"
)

// ActionError is the typed failure returned by action handlers.
type ActionError struct {
	Action models.ActionType
	Kind   ErrorKind
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func configError(action models.ActionType, format string, args ...interface{}) error {
	return &ActionError{
		Action: action,
		Kind:   KindConfig,
		Err:    fmt.Errorf("%w: %s", ErrInvalidActionConfig, fmt.Sprintf(format, args...)),
	}
}

func notConnected(action models.ActionType, service string) error {
	return &ActionError{
		Action: action,
		Kind:   KindNotConnected,
		Err:    fmt.Errorf("%s %w", service, ErrServiceNotConnected),
	}
}

func providerError(action models.ActionType, err error) error {
	return &ActionError{Action: action, Kind: KindProvider, Err: err}
}

func storeError(action models.ActionType, err error) error {
	return &ActionError{Action: action, Kind: KindStore, Err: err}
}
