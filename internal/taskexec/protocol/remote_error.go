package protocol

import "fmt"

// RemoteError carries an exception that occurred in one process across the
// wire to another. No reconstruction of native exception identity is
// attempted; only the type name, message, and traceback are preserved, plus
// an optional cause chain.
type RemoteError struct {
	TypeName  string       `json:"type_name"`
	Message   string       `json:"message"`
	Traceback string       `json:"traceback"`
	Cause     *RemoteError `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.TypeName == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.TypeName, e.Message)
}

// Unwrap exposes the cause chain to errors.Is/errors.As.
func (e *RemoteError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// NewRemoteError wraps a native Go error into a RemoteError suitable for
// shipping across the wire. traceback is the caller-supplied stack trace or
// context string; Go doesn't expose a traceback on error values the way a
// dynamic-language exception does.
func NewRemoteError(typeName, message, traceback string, cause *RemoteError) *RemoteError {
	return &RemoteError{
		TypeName:  typeName,
		Message:   message,
		Traceback: traceback,
		Cause:     cause,
	}
}

// FromError builds a RemoteError from a plain Go error, using the error's
// dynamic type name.
func FromError(err error, traceback string) *RemoteError {
	if err == nil {
		return nil
	}
	return &RemoteError{
		TypeName:  fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Traceback: traceback,
	}
}
