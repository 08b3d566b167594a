package store

import "errors"

// ErrVersionConflict is returned when the persisted optimistic-concurrency
// version of an entity has advanced since it was loaded by the worker that
// produced the diff being applied.
var ErrVersionConflict = errors.New("store: version conflict")

// ErrEntityNotFound is returned when a diff references a model/entity_id
// pair the authoritative store has no record of.
var ErrEntityNotFound = errors.New("store: entity not found")

// ErrUnresolvedTempRef is returned when a scalar diff references a temp id
// that does not appear in the same apply call's new_instances.
var ErrUnresolvedTempRef = errors.New("store: unresolved temp reference")
