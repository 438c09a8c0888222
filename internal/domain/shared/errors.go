// Package shared contains the error taxonomy used across the domain and
// application packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds that can be checked with errors.Is().
var (
	// ErrPrerequisite: an operation was attempted before its required
	// upstream selection existed. The caller re-prompts at the right level.
	ErrPrerequisite = errors.New("prerequisite not met")

	// ErrResolution: an argument does not resolve to a known entity
	// (course, folder, command) or there is nothing to act on.
	ErrResolution = errors.New("unresolved argument")

	// ErrTransport: the messaging channel or storage failed while sending.
	ErrTransport = errors.New("transport failure")

	// ErrInternal: a dependency failed during detection or lookup.
	ErrInternal = errors.New("internal failure")

	// ErrProtocol: a malformed payload or NLU response.
	ErrProtocol = errors.New("protocol violation")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "selection", "delivery", "dispatcher"
	Op      string // Operation that failed, e.g., "SetCurso", "SendFiles"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Prerequisite builds an ErrPrerequisite error.
func Prerequisite(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrPrerequisite, message)
}

// Resolution builds an ErrResolution error.
func Resolution(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrResolution, message)
}

// Transport wraps err as an ErrTransport error.
func Transport(domain, op, message string, err error) *DomainError {
	return WrapError(domain, op, ErrTransport, message, err)
}

// Internal wraps err as an ErrInternal error.
func Internal(domain, op, message string, err error) *DomainError {
	return WrapError(domain, op, ErrInternal, message, err)
}

// Protocol builds an ErrProtocol error.
func Protocol(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrProtocol, message)
}

// IsPrerequisite checks if the error is a prerequisite error.
func IsPrerequisite(err error) bool { return errors.Is(err, ErrPrerequisite) }

// IsResolution checks if the error is a resolution error.
func IsResolution(err error) bool { return errors.Is(err, ErrResolution) }

// IsTransport checks if the error is a transport error.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsInternal checks if the error is an internal error.
func IsInternal(err error) bool { return errors.Is(err, ErrInternal) }

// IsProtocol checks if the error is a protocol error.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

// KindOf returns a short label for the error kind, suitable for logs and metrics.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsPrerequisite(err):
		return "prerequisite"
	case IsResolution(err):
		return "resolution"
	case IsTransport(err):
		return "transport"
	case IsProtocol(err):
		return "protocol"
	case IsInternal(err):
		return "internal"
	default:
		return "unknown"
	}
}
