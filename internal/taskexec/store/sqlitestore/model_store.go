package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/store"
)

// SQLiteStore implements store.ModelStore against a single "entities"
// table keyed by (model, entity_id), with each entity's field map stored
// as a JSON blob and a monotonic version column for optimistic
// concurrency.
type SQLiteStore struct {
	conn *sql.DB
}

var _ store.ModelStore = (*SQLiteStore)(nil)

// CreateEntity implements store.ModelStore.
func (s *SQLiteStore) CreateEntity(ctx context.Context, model string, fields map[string]any) (string, error) {
	entityID := uuid.NewString()

	blob, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: marshaling fields for %s: %w", model, err)
	}

	now := time.Now().Unix()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO entities (model, entity_id, fields, version, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		model, entityID, string(blob), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: inserting %s: %w", model, err)
	}
	return entityID, nil
}

// LoadVersion implements store.ModelStore.
func (s *SQLiteStore) LoadVersion(ctx context.Context, model, entityID string) (int64, bool, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT version FROM entities WHERE model = ? AND entity_id = ?`,
		model, entityID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlitestore: loading version for %s/%s: %w", model, entityID, err)
	}
	return version, true, nil
}

// ApplyEntityUpdate implements store.ModelStore. The read-modify-write
// cycle runs inside a single transaction so a concurrent writer never
// observes (or loses) a half-applied update.
func (s *SQLiteStore) ApplyEntityUpdate(ctx context.Context, model, entityID string, diffs map[string]protocol.AttrDiff) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: beginning transaction for %s/%s: %w", model, entityID, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var blob string
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM entities WHERE model = ? AND entity_id = ?`,
		model, entityID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", store.ErrEntityNotFound, model, entityID)
	}
	if err != nil {
		return fmt.Errorf("sqlitestore: loading fields for %s/%s: %w", model, entityID, err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return fmt.Errorf("sqlitestore: decoding fields for %s/%s: %w", model, entityID, err)
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
			fields[attr] = diff.Scalar.Current
			dirty = true
			continue
		}
		if len(diff.Appended) == 0 {
			continue
		}
		existing, _ := fields[attr].([]any)
		for _, child := range diff.Appended {
			existing = append(existing, map[string]any(child))
		}
		fields[attr] = existing
		dirty = true
	}

	// A diff whose every attribute is a no-op (Initial == Current, or an
	// empty append) must not write or bump version: a read-only task's
	// tracked changes carry exactly this shape, since loads are captured
	// the same way writes are.
	if !dirty {
		return tx.Commit()
	}

	newBlob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sqlitestore: re-encoding fields for %s/%s: %w", model, entityID, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET fields = ?, version = version + 1, updated_at = ?
		 WHERE model = ? AND entity_id = ?`,
		string(newBlob), time.Now().Unix(), model, entityID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: updating %s/%s: %w", model, entityID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrEntityNotFound, model, entityID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: committing update for %s/%s: %w", model, entityID, err)
	}
	return nil
}
