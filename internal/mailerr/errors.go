// Package mailerr defines the error kinds shared by the mailbox engine, the
// mail server gateway and the HTTP layer.
package mailerr

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound means the conversation, message or draft no longer exists.
// Mutations treat it as a silent no-op.
var ErrNotFound = errors.New("not found")

// AuthenticationError means the mail server rejected the credentials.
// The session that produced it is no longer usable.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ValidationError rejects an operation before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation is shorthand for constructing a *ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// GatewayKind classifies transport failures.
type GatewayKind int

const (
	GatewayGeneric GatewayKind = iota
	GatewayTimeout
	GatewayConnection
)

func (k GatewayKind) String() string {
	switch k {
	case GatewayTimeout:
		return "timeout"
	case GatewayConnection:
		return "connection"
	default:
		return "generic"
	}
}

// GatewayError is a transient failure talking to the mail server. It is
// reported to the user and never retried automatically.
type GatewayError struct {
	Op   string
	Kind GatewayKind
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Classify wraps a raw transport error from op into one of the kinds above.
// Errors that are already classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var authErr *AuthenticationError
	var gwErr *GatewayError
	if errors.As(err, &authErr) || errors.As(err, &gwErr) || errors.Is(err, ErrNotFound) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "failed to authenticate") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "invalid credentials") ||
		strings.Contains(msg, "bad username or password") {
		return &AuthenticationError{Err: err}
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(msg, "i/o timeout") {
		return &GatewayError{Op: op, Kind: GatewayTimeout, Err: err}
	}

	if strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "failed to dial") {
		return &GatewayError{Op: op, Kind: GatewayConnection, Err: err}
	}

	return &GatewayError{Op: op, Kind: GatewayGeneric, Err: err}
}

// IsAuthentication reports whether err is (or wraps) an AuthenticationError.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}
