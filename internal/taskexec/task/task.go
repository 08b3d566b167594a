// Package task defines the parent-held Task data model and its registry.
package task

import "taskexec/internal/taskexec/protocol"

// State is a task's lifecycle stage.
type State string

const (
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Callable identifies the function a worker must invoke: a module path
// plus the attribute (function/method name) within it.
type Callable struct {
	ModulePath string
	Attribute  string
}

// Task is opaque to the core executor: it carries enough to spawn a
// worker and enough to track completion, nothing about what the callable
// actually does.
type Task struct {
	ID       string
	Callable Callable
	Inputs   map[string]any
	Plugin   string               // optional plugin handle, empty if none
	Context  protocol.ContextBlob // serialized execution context (class name + state)

	State     State
	Exception *protocol.RemoteError
	Traceback string
}

// Event is published to subscribers (e.g. a monitoring dashboard) on every
// task state transition.
type Event struct {
	TaskID string
	State  State
}
