package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrUnknownAtomType    = errors.New("unknown atom type")
	ErrInvalidDeclaration = errors.New("invalid atom declaration")
	ErrDuplicateAtomID    = errors.New("duplicate atom id")
	ErrAtomInitFailed     = errors.New("atom failed to initialise")
	ErrRoutingFailed      = errors.New("routing failed")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrJobReleased        = errors.New("job already released")
	ErrInvalidURI         = errors.New("invalid uri")
	ErrInvalidURL         = errors.New("invalid url")
	ErrInvalidBind        = errors.New("invalid bind target")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// Error codes carried by DomainError.
const (
	CodeConfiguration  = "CONFIGURATION"
	CodeInitialization = "INITIALIZATION"
	CodeRouting        = "ROUTING"
	CodeResourceMisuse = "RESOURCE_MISUSE"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ConfigError builds a configuration-class DomainError around a sentinel.
func ConfigError(err error, format string, args ...any) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    CodeConfiguration,
		Message: fmt.Sprintf("%s: %s", err, fmt.Sprintf(format, args...)),
	}
}

// ErrorCode returns the DomainError code found in err's chain, or "".
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
