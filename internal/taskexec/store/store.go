// Package store implements the parent-side diff applier: it replays a
// worker's tracked change set against the authoritative model store
// transactionally, with optimistic-concurrency version checks.
package store

import (
	"context"

	"taskexec/internal/taskexec/protocol"
)

// ModelStore is the authoritative persistence layer the applier commits
// diffs against. Implementations (see sqlitestore) are responsible for
// entity identity, the version column, and per-entity transactional
// atomicity.
type ModelStore interface {
	// CreateEntity persists a new entity of the given model from its
	// field map and returns the real id assigned to it.
	CreateEntity(ctx context.Context, model string, fields map[string]any) (entityID string, err error)

	// LoadVersion returns the currently committed optimistic-concurrency
	// version for model/entityID. found is false if no such entity
	// exists.
	LoadVersion(ctx context.Context, model, entityID string) (version int64, found bool, err error)

	// ApplyEntityUpdate writes every changed scalar (Initial != Current)
	// and every non-empty collection append in diffs for a single
	// (model, entityID) atomically, advancing the entity's version once;
	// a diff with no such change writes nothing and leaves the version
	// as it was. Implementations must apply nothing if any part of the
	// update fails.
	ApplyEntityUpdate(ctx context.Context, model, entityID string, diffs map[string]protocol.AttrDiff) error
}
