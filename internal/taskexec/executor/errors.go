package executor

import "errors"

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = errors.New("executor: closed")

// ErrTimeout is returned by Close when the listener fails to join within
// ShutdownTimeout. A startup readiness timeout in New is reported as
// listener.ErrStartupTimeout instead.
var ErrTimeout = errors.New("executor: timeout")
