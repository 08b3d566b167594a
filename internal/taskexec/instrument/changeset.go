package instrument

import (
	"fmt"
	"sync"

	"taskexec/internal/taskexec/protocol"
)

// TempRefKey is the field name a {"$tempRef": tempID} marker is stored
// under when a diff value references a not-yet-persisted new instance.
const TempRefKey = "$tempRef"

// TempRef builds the marker value used to reference a new instance before
// the applier has resolved it to a real entity id.
func TempRef(tempID string) map[string]any {
	return map[string]any{TempRefKey: tempID}
}

// ChangeSet is the concrete, worker-local ChangeSink. One ChangeSet is
// created per task execution; every instrumented setter invoked during
// that task accumulates into it, and the accumulated diff is shipped back
// to the parent verbatim as the message's TrackedChanges/NewInstances.
type ChangeSet struct {
	mu sync.Mutex

	modified protocol.ModelChanges
	captured map[string]map[string]map[string]bool // model -> entityID -> attr -> initial already captured

	newInstances protocol.NewInstances
	newCounter   int
}

// NewChangeSet returns an empty change set ready to accumulate a single
// task's tracked mutations.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		modified:     make(protocol.ModelChanges),
		captured:     make(map[string]map[string]map[string]bool),
		newInstances: make(protocol.NewInstances),
	}
}

func (c *ChangeSet) entry(model, entityID, attr string) *protocol.AttrDiff {
	entities, ok := c.modified[model]
	if !ok {
		entities = make(map[string]map[string]protocol.AttrDiff)
		c.modified[model] = entities
	}
	attrs, ok := entities[entityID]
	if !ok {
		attrs = make(map[string]protocol.AttrDiff)
		entities[entityID] = attrs
	}
	diff := attrs[attr]
	return &diff
}

func (c *ChangeSet) store(model, entityID, attr string, diff protocol.AttrDiff) {
	c.modified[model][entityID][attr] = diff
}

func (c *ChangeSet) markCaptured(model, entityID, attr string) bool {
	entities, ok := c.captured[model]
	if !ok {
		entities = make(map[string]map[string]bool)
		c.captured[model] = entities
	}
	attrs, ok := entities[entityID]
	if !ok {
		attrs = make(map[string]bool)
		entities[entityID] = attrs
	}
	if attrs[attr] {
		return false
	}
	attrs[attr] = true
	return true
}

// SetScalar implements ChangeSink. It applies no coercion and does not copy
// newValue: the value recorded as Current and returned is newValue as given.
func (c *ChangeSet) SetScalar(model, entityID, attr string, priorValue, newValue any) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	diff := c.entry(model, entityID, attr)
	firstWrite := c.markCaptured(model, entityID, attr)

	initial := priorValue
	if !firstWrite && diff.Scalar != nil {
		initial = diff.Scalar.Initial
	}

	c.store(model, entityID, attr, protocol.AttrDiff{
		Scalar: &protocol.Value{Initial: initial, Current: newValue},
	})
	return newValue
}

// AppendChild implements ChangeSink.
func (c *ChangeSet) AppendChild(model, entityID, attr string, child protocol.ChildEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	diff := c.entry(model, entityID, attr)
	appended := append(append([]protocol.ChildEntity(nil), diff.Appended...), child)
	c.store(model, entityID, attr, protocol.AttrDiff{Appended: appended})
}

// CaptureLoad implements ChangeSink.
func (c *ChangeSet) CaptureLoad(model, entityID string, scalars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attr, value := range scalars {
		if !c.markCaptured(model, entityID, attr) {
			continue
		}
		c.store(model, entityID, attr, protocol.AttrDiff{
			Scalar: &protocol.Value{Initial: value, Current: value},
		})
	}
}

// NewInstance implements ChangeSink.
func (c *ChangeSet) NewInstance(model string, fields map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	tempID := fmt.Sprintf("NEW_INSTANCE_%d", c.newCounter)
	c.newCounter++

	entities, ok := c.newInstances[model]
	if !ok {
		entities = make(map[string]map[string]any)
		c.newInstances[model] = entities
	}
	entities[tempID] = fields
	return tempID
}

// IsEmpty reports whether no tracked mutation has been recorded.
func (c *ChangeSet) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modified) == 0 && len(c.newInstances) == 0
}

// Snapshot returns the accumulated diff as the wire-shaped types, suitable
// for embedding directly into a protocol.Message.
func (c *ChangeSet) Snapshot() (protocol.ModelChanges, protocol.NewInstances) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modified, c.newInstances
}
