package store_test

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/store"
)

type fakeEntity struct {
	fields  map[string]any
	version int64
}

type fakeStore struct {
	mu       sync.Mutex
	entities map[string]map[string]*fakeEntity // model -> entityID -> entity
	counter  int
	failOn   string // "model/entityID" that ApplyEntityUpdate should fail for
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: make(map[string]map[string]*fakeEntity)}
}

func (f *fakeStore) CreateEntity(_ context.Context, model string, fields map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counter++
	id := fmt.Sprintf("e%d", f.counter)
	if _, ok := f.entities[model]; !ok {
		f.entities[model] = make(map[string]*fakeEntity)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.entities[model][id] = &fakeEntity{fields: cp, version: 0}
	return id, nil
}

func (f *fakeStore) LoadVersion(_ context.Context, model, entityID string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[model][entityID]
	if !ok {
		return 0, false, nil
	}
	return e.version, true, nil
}

func (f *fakeStore) ApplyEntityUpdate(_ context.Context, model, entityID string, diffs map[string]protocol.AttrDiff) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOn == model+"/"+entityID {
		return fmt.Errorf("simulated failure for %s/%s", model, entityID)
	}

	e, ok := f.entities[model][entityID]
	if !ok {
		e = &fakeEntity{fields: map[string]any{}}
		if f.entities[model] == nil {
			f.entities[model] = make(map[string]*fakeEntity)
		}
		f.entities[model][entityID] = e
	}
	dirty := false
	for attr, diff := range diffs {
		if attr == "version" {
			continue
		}
		if diff.Scalar != nil {
			if reflect.DeepEqual(diff.Scalar.Initial, diff.Scalar.Current) {
				continue
			}
			e.fields[attr] = diff.Scalar.Current
			dirty = true
		} else if len(diff.Appended) > 0 {
			existing, _ := e.fields[attr].([]protocol.ChildEntity)
			e.fields[attr] = append(existing, diff.Appended...)
			dirty = true
		}
	}
	if dirty {
		e.version++
	}
	return nil
}

func TestApplier_Apply_ScalarDiff(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Node"] = map[string]*fakeEntity{"n1": {fields: map[string]any{"title": "old"}, version: 0}}

	applier := store.NewApplier(fs)
	changes := protocol.ModelChanges{
		"Node": {"n1": {"title": protocol.AttrDiff{Scalar: &protocol.Value{Initial: "old", Current: "new"}}}},
	}

	result, err := applier.Apply(context.Background(), changes, nil)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, "new", fs.entities["Node"]["n1"].fields["title"])
}

func TestApplier_Apply_NewInstanceCreatedBeforeScalarDiffs(t *testing.T) {
	fs := newFakeStore()
	applier := store.NewApplier(fs)

	newInstances := protocol.NewInstances{
		"Node": {"NEW_INSTANCE_0": {"title": "root"}},
	}
	changes := protocol.ModelChanges{
		"Edge": {"e1": {"target_id": protocol.AttrDiff{Scalar: &protocol.Value{
			Initial: protocol.NotLoaded,
			Current: map[string]any{"$tempRef": "NEW_INSTANCE_0"},
		}}}},
	}
	fs.entities["Edge"] = map[string]*fakeEntity{"e1": {fields: map[string]any{}}}

	result, err := applier.Apply(context.Background(), changes, newInstances)
	require.NoError(t, err)

	realID := result.Resolved["NEW_INSTANCE_0"]
	require.NotEmpty(t, realID)
	require.Equal(t, realID, fs.entities["Edge"]["e1"].fields["target_id"])
}

func TestApplier_Apply_VersionConflict(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Node"] = map[string]*fakeEntity{"n1": {fields: map[string]any{}, version: 5}}

	applier := store.NewApplier(fs)
	changes := protocol.ModelChanges{
		"Node": {"n1": {
			"version": protocol.AttrDiff{Scalar: &protocol.Value{Initial: int64(3), Current: int64(3)}},
			"title":   protocol.AttrDiff{Scalar: &protocol.Value{Initial: "a", Current: "b"}},
		}},
	}

	_, err := applier.Apply(context.Background(), changes, nil)
	require.ErrorIs(t, err, store.ErrVersionConflict)
	require.Nil(t, fs.entities["Node"]["n1"].fields["title"])
}

func TestApplier_Apply_PartialFailureReportsCompletedEntities(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Node"] = map[string]*fakeEntity{
		"n1": {fields: map[string]any{}},
		"n2": {fields: map[string]any{}},
	}
	fs.failOn = "Node/n2"

	applier := store.NewApplier(fs)
	changes := protocol.ModelChanges{
		"Node": {
			"n1": {"title": protocol.AttrDiff{Scalar: &protocol.Value{Initial: "a", Current: "b"}}},
			"n2": {"title": protocol.AttrDiff{Scalar: &protocol.Value{Initial: "a", Current: "b"}}},
		},
	}

	_, err := applier.Apply(context.Background(), changes, nil)
	require.Error(t, err)

	var partial *store.PartialApplyError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Applied, 1)
	require.Equal(t, "n1", partial.Applied[0].EntityID)
}

func TestApplier_Apply_UnresolvedTempRef(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Edge"] = map[string]*fakeEntity{"e1": {fields: map[string]any{}}}
	applier := store.NewApplier(fs)

	changes := protocol.ModelChanges{
		"Edge": {"e1": {"target_id": protocol.AttrDiff{Scalar: &protocol.Value{
			Initial: protocol.NotLoaded,
			Current: map[string]any{"$tempRef": "NEW_INSTANCE_999"},
		}}}},
	}

	_, err := applier.Apply(context.Background(), changes, nil)
	require.ErrorIs(t, err, store.ErrUnresolvedTempRef)
}

func TestApplier_Apply_CollectionAppend(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Node"] = map[string]*fakeEntity{"n1": {fields: map[string]any{}}}
	applier := store.NewApplier(fs)

	changes := protocol.ModelChanges{
		"Node": {"n1": {"children": protocol.AttrDiff{Appended: []protocol.ChildEntity{
			{"_MODEL_CLS": "Child", "name": "c1"},
		}}}},
	}

	_, err := applier.Apply(context.Background(), changes, nil)
	require.NoError(t, err)
	require.Len(t, fs.entities["Node"]["n1"].fields["children"].([]protocol.ChildEntity), 1)
}

func TestApplier_Apply_EmptyDiffIsNoOp(t *testing.T) {
	fs := newFakeStore()
	applier := store.NewApplier(fs)

	result, err := applier.Apply(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, result.Applied)
}

// A read-only task captures Initial == Current for every attribute it
// touches, since loads are instrumented the same way writes are. Such a
// diff must not write the entity's fields or bump its version.
func TestApplier_Apply_NoOpScalarDiffDoesNotWriteOrBumpVersion(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Node"] = map[string]*fakeEntity{
		"n1": {fields: map[string]any{"title": "unchanged"}, version: 2},
	}

	applier := store.NewApplier(fs)
	changes := protocol.ModelChanges{
		"Node": {"n1": {"title": protocol.AttrDiff{Scalar: &protocol.Value{Initial: "unchanged", Current: "unchanged"}}}},
	}

	result, err := applier.Apply(context.Background(), changes, nil)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, "unchanged", fs.entities["Node"]["n1"].fields["title"])
	require.Equal(t, int64(2), fs.entities["Node"]["n1"].version)
}

// A diff with a mix of no-op and genuinely changed attributes still writes
// only the changed ones, and still bumps version exactly once.
func TestApplier_Apply_MixedNoOpAndChangedScalarDiffs(t *testing.T) {
	fs := newFakeStore()
	fs.entities["Node"] = map[string]*fakeEntity{
		"n1": {fields: map[string]any{"title": "same", "state": "pending"}, version: 0},
	}

	applier := store.NewApplier(fs)
	changes := protocol.ModelChanges{
		"Node": {"n1": {
			"title": protocol.AttrDiff{Scalar: &protocol.Value{Initial: "same", Current: "same"}},
			"state": protocol.AttrDiff{Scalar: &protocol.Value{Initial: "pending", Current: "running"}},
		}},
	}

	result, err := applier.Apply(context.Background(), changes, nil)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, "same", fs.entities["Node"]["n1"].fields["title"])
	require.Equal(t, "running", fs.entities["Node"]["n1"].fields["state"])
	require.Equal(t, int64(1), fs.entities["Node"]["n1"].version)
}
