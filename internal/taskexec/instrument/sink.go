package instrument

import "taskexec/internal/taskexec/protocol"

// ChangeSink is the abstraction every instrumented typed setter routes
// through instead of writing to the backing store directly. A tracked
// entity type exposes ordinary-looking setters; each setter's body is
// generated (or hand-written) to call the appropriate ChangeSink method
// and store the coerced return value locally, rather than persisting
// anything itself.
type ChangeSink interface {
	// SetScalar records a scalar attribute assignment. priorValue is the
	// attribute's in-memory value immediately before this call; it is
	// used as the recorded Value.Initial only the first time this
	// (model, entityID, attr) triple is written during the scope's
	// lifetime. Returns the coerced value the caller should store in its
	// own field.
	SetScalar(model, entityID, attr string, priorValue, newValue any) any

	// AppendChild records a single append to a collection-valued
	// attribute. The collection itself is never materialized locally;
	// each append is recorded independently in arrival order.
	AppendChild(model, entityID, attr string, child protocol.ChildEntity)

	// CaptureLoad records entityID's current scalar values as the Initial
	// half of each tracked Value, unless a value has already been
	// captured for that attribute during this scope.
	CaptureLoad(model, entityID string, scalars map[string]any)

	// NewInstance records a freshly constructed entity's full field map
	// under a synthetic temp id and returns that id. Callers reference
	// the new entity from other diffs via a {"$tempRef": tempID} marker.
	NewInstance(model string, fields map[string]any) (tempID string)
}
