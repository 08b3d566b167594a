package instrument

import (
	"sync"

	"taskexec/internal/log"
)

// Scope is the instrumentation lifetime for a single task execution.
// Entering a scope installs a fresh ChangeSink that every instrumented
// setter for the duration of the task routes through; exiting the scope —
// whether the task succeeded, failed, or panicked — tears the sink down
// and runs any queued expunge callbacks so that no instrumented entity
// outlives the task that created it.
//
// Callers are expected to enter a scope and defer its Exit immediately:
//
//	scope := instrument.Enter(registry)
//	defer scope.Exit()
type Scope struct {
	registry *Registry
	sink     *ChangeSet

	mu      sync.Mutex
	expunge []func()
	exited  bool
}

// Enter installs a new scope backed by a fresh ChangeSet.
func Enter(registry *Registry) *Scope {
	return &Scope{
		registry: registry,
		sink:     NewChangeSet(),
	}
}

// Sink returns the scope's active ChangeSink.
func (s *Scope) Sink() ChangeSink {
	return s.sink
}

// ChangeSet returns the scope's concrete change set, for callers that need
// to read back a snapshot (e.g. the messenger building a terminal message).
func (s *Scope) ChangeSet() *ChangeSet {
	return s.sink
}

// QueueExpunge registers a cleanup callback to run when the scope exits.
// Used by the new-instance hook to ensure a worker-local placeholder object
// created mid-task is detached once the task's diff has been shipped,
// regardless of whether the task succeeded.
func (s *Scope) QueueExpunge(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		fn()
		return
	}
	s.expunge = append(s.expunge, fn)
}

// Exit tears the scope down, running every queued expunge callback. It is
// safe to call more than once; only the first call runs the callbacks.
func (s *Scope) Exit() {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.exited = true
	callbacks := s.expunge
	s.expunge = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error(log.CatInstrument, "expunge callback panicked", "recover", r)
				}
			}()
			fn()
		}()
	}
}
