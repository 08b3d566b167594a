package listener

import "errors"

// ErrUnknownMessageType is returned when a frame's Type doesn't match any
// of the protocol's valid message types.
var ErrUnknownMessageType = errors.New("listener: unknown message type")

// ErrStartupTimeout is returned by WaitReady if the accept loop hasn't
// signaled readiness within the given timeout.
var ErrStartupTimeout = errors.New("listener: startup timeout")
