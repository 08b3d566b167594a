package store

import (
	"context"
	"fmt"
	"sort"

	"taskexec/internal/log"
	"taskexec/internal/taskexec/diffview"
	"taskexec/internal/taskexec/protocol"
)

// AppliedEntity records one (model, entityID) this applier successfully
// wrote, for partial-success reporting when a later step fails.
type AppliedEntity struct {
	Model    string
	EntityID string
	Created  bool
}

// Result is the outcome of a successful Apply call.
type Result struct {
	Applied  []AppliedEntity
	Resolved map[string]string // temp id -> committed real id
}

// PartialApplyError is returned when Apply fails partway through. Some
// entities named in Applied were already committed to the store before the
// failure; callers must treat this as a hard error requiring the task to
// be re-evaluated, not as a rollback.
type PartialApplyError struct {
	Applied []AppliedEntity
	Err     error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("store: apply failed after %d partial update(s): %v", len(e.Applied), e.Err)
}

func (e *PartialApplyError) Unwrap() error {
	return e.Err
}

// Applier replays a worker's tracked change set against a ModelStore.
type Applier struct {
	store ModelStore
}

// NewApplier builds an Applier committing against store.
func NewApplier(store ModelStore) *Applier {
	return &Applier{store: store}
}

// Apply resolves new_instances then tracked_changes, in that order, against
// the authoritative store. new_instances are committed completely, in one
// pass, before any scalar diff is applied, so a scalar diff's value may
// reference a new instance created in the same call via a
// {"$tempRef": "NEW_INSTANCE_<n>"} marker.
func (a *Applier) Apply(ctx context.Context, changes protocol.ModelChanges, newInstances protocol.NewInstances) (*Result, error) {
	result := &Result{Resolved: make(map[string]string)}

	if err := a.applyNewInstances(ctx, newInstances, result); err != nil {
		log.Error(log.CatApplier, "partial apply: new instance creation failed",
			"applied_count", len(result.Applied), "error", err.Error())
		return nil, &PartialApplyError{Applied: result.Applied, Err: err}
	}

	if err := a.applyTrackedChanges(ctx, changes, result); err != nil {
		log.Error(log.CatApplier, "partial apply: tracked change application failed",
			"applied_count", len(result.Applied), "error", err.Error())
		return nil, &PartialApplyError{Applied: result.Applied, Err: err}
	}

	return result, nil
}

func (a *Applier) applyNewInstances(ctx context.Context, newInstances protocol.NewInstances, result *Result) error {
	for _, model := range sortedKeys(newInstances) {
		instances := newInstances[model]
		for _, tempID := range sortedKeys(instances) {
			fields := instances[tempID]

			resolvedFields, err := resolveFields(fields, result.Resolved)
			if err != nil {
				return fmt.Errorf("resolving fields for %s/%s: %w", model, tempID, err)
			}

			realID, err := a.store.CreateEntity(ctx, model, resolvedFields)
			if err != nil {
				return fmt.Errorf("creating %s/%s: %w", model, tempID, err)
			}

			result.Resolved[tempID] = realID
			result.Applied = append(result.Applied, AppliedEntity{Model: model, EntityID: realID, Created: true})
			log.Debug(log.CatApplier, "created new instance", "model", model, "temp_id", tempID, "entity_id", realID)
		}
	}
	return nil
}

func (a *Applier) applyTrackedChanges(ctx context.Context, changes protocol.ModelChanges, result *Result) error {
	for _, model := range sortedKeys(changes) {
		entities := changes[model]
		for _, entityID := range sortedKeys(entities) {
			attrs := entities[entityID]

			resolvedAttrs, err := resolveAttrDiffs(attrs, result.Resolved)
			if err != nil {
				return fmt.Errorf("resolving diffs for %s/%s: %w", model, entityID, err)
			}

			if err := a.checkVersion(ctx, model, entityID, resolvedAttrs); err != nil {
				return err
			}

			if err := a.store.ApplyEntityUpdate(ctx, model, entityID, resolvedAttrs); err != nil {
				return fmt.Errorf("applying update for %s/%s: %w", model, entityID, err)
			}

			result.Applied = append(result.Applied, AppliedEntity{Model: model, EntityID: entityID})
			log.Debug(log.CatApplier, "applied entity update", "model", model, "entity_id", entityID,
				"diff", diffview.RenderEntity(resolvedAttrs))
		}
	}
	return nil
}

// checkVersion validates optimistic concurrency before any write, per the
// diff's recorded "version" attribute if present.
func (a *Applier) checkVersion(ctx context.Context, model, entityID string, attrs map[string]protocol.AttrDiff) error {
	diff, ok := attrs["version"]
	if !ok || diff.Scalar == nil {
		return nil
	}

	capturedVersion, ok := toInt64(diff.Scalar.Initial)
	if !ok {
		return nil
	}

	committed, found, err := a.store.LoadVersion(ctx, model, entityID)
	if err != nil {
		return fmt.Errorf("loading version for %s/%s: %w", model, entityID, err)
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrEntityNotFound, model, entityID)
	}
	if committed != capturedVersion {
		return fmt.Errorf("%w: %s/%s expected %d, store has %d", ErrVersionConflict, model, entityID, capturedVersion, committed)
	}
	return nil
}

func resolveFields(fields map[string]any, resolved map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		resolvedV, err := resolveTempRefs(v, resolved)
		if err != nil {
			return nil, err
		}
		out[k] = resolvedV
	}
	return out, nil
}

func resolveAttrDiffs(attrs map[string]protocol.AttrDiff, resolved map[string]string) (map[string]protocol.AttrDiff, error) {
	out := make(map[string]protocol.AttrDiff, len(attrs))
	for attr, diff := range attrs {
		if diff.Scalar != nil {
			current, err := resolveTempRefs(diff.Scalar.Current, resolved)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", attr, err)
			}
			out[attr] = protocol.AttrDiff{Scalar: &protocol.Value{Initial: diff.Scalar.Initial, Current: current}}
			continue
		}
		out[attr] = diff
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
