package instrument

import "taskexec/internal/taskexec/protocol"

// Loader resolves an entity's current scalar values by model and id. A
// worker's reconstructed context uses it to answer reads for entities the
// task didn't itself create, without ever opening the authoritative store
// for writes.
type Loader interface {
	Load(model, entityID string) (scalars map[string]any, ok bool)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(model, entityID string) (map[string]any, bool)

// Load implements Loader.
func (f LoaderFunc) Load(model, entityID string) (map[string]any, bool) {
	return f(model, entityID)
}

// Facade is the worker-local storage surface every instrumented entity
// reads and writes through during a task. Reads are served by the
// injected Loader (typically data embedded in the task's serialized
// context); writes are routed into the scope's ChangeSink and never touch
// a local copy of the authoritative store.
type Facade struct {
	sink   ChangeSink
	loader Loader
}

// NewFacade builds a storage facade bound to sink for writes and loader for
// reads.
func NewFacade(sink ChangeSink, loader Loader) *Facade {
	return &Facade{sink: sink, loader: loader}
}

// Get loads an entity's scalar values, capturing them as the Initial half
// of any subsequent diff for attributes not yet written this task.
func (f *Facade) Get(model, entityID string) (map[string]any, bool) {
	scalars, ok := f.loader.Load(model, entityID)
	if !ok {
		return nil, false
	}
	f.sink.CaptureLoad(model, entityID, scalars)
	return scalars, true
}

// Set routes a scalar attribute assignment through the sink and returns the
// coerced value the caller should hold in memory.
func (f *Facade) Set(model, entityID, attr string, priorValue, newValue any) any {
	return f.sink.SetScalar(model, entityID, attr, priorValue, newValue)
}

// Append routes a collection append through the sink.
func (f *Facade) Append(model, entityID, attr string, child protocol.ChildEntity) {
	f.sink.AppendChild(model, entityID, attr, child)
}

// New routes a fresh entity's construction through the sink and returns the
// temp id assigned to it.
func (f *Facade) New(model string, fields map[string]any) string {
	return f.sink.NewInstance(model, fields)
}
