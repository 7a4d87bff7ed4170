// Package errs defines the error taxonomy shared by the toolmux client and
// its protocol implementations.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ConfigError reports malformed or missing configuration, including manual
// names that contain the namespace separator.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedProtocolError is returned when a call template's type tag has no
// registered protocol implementation.
type UnsupportedProtocolError struct {
	TypeTag string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported call template type: %q", e.TypeTag)
}

// VariableNotFoundError is returned when a ${NAME} placeholder cannot be
// resolved from any configured source.
type VariableNotFoundError struct {
	VariableName string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf(
		"variable %q referenced in call template configuration not found; "+
			"add it to the client variables, a variable loader, or the environment",
		e.VariableName,
	)
}

// DiscoveryError wraps a protocol failure while producing a manual.
type DiscoveryError struct {
	ManualName string
	Err        error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for manual %q: %v", e.ManualName, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// CallError wraps a protocol or post-processor failure during tool execution.
type CallError struct {
	ToolName string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool call %q failed: %v", e.ToolName, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// AuthError wraps a credential fetch or validation failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ToolNotFoundError is returned for lookups of unknown namespaced tool names.
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.ToolName)
}

// ManualNotFoundError is returned for lookups of unknown manual names.
type ManualNotFoundError struct {
	ManualName string
}

func (e *ManualNotFoundError) Error() string {
	return fmt.Sprintf("manual not found: %s", e.ManualName)
}

// IsTimeout reports whether err is a deadline-style failure: an exceeded
// context, a net timeout, or an os timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsNotFound reports whether err is a tool or manual not-found failure.
func IsNotFound(err error) bool {
	var te *ToolNotFoundError
	var me *ManualNotFoundError
	return errors.As(err, &te) || errors.As(err, &me)
}
