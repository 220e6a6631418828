package store

import (
	"context"
	"fmt"
	"time"
)

// DispatchLog records rule-dispatch outcomes with a monotonically increasing
// per-entity sequence, providing an audit trail of every handler run.
type DispatchLog struct {
	store *LibSQLStore
}

// NewDispatchLog wraps a LibSQLStore to provide dispatch auditing.
func NewDispatchLog(s *LibSQLStore) *DispatchLog {
	return &DispatchLog{store: s}
}

// AppendDispatch appends a dispatch record with the next sequence number for
// its (entity_kind, entity_id) pair.
func (dl *DispatchLog) AppendDispatch(ctx context.Context, rec *DispatchRecord) error {
	db := dl.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Force write-lock acquisition up front. In WAL mode a deferred transaction
	// would read the max sequence before locking, letting a concurrent writer
	// claim the same number.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM dispatches WHERE entity_kind = ? AND entity_id = ?`,
		rec.EntityKind, rec.EntityID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	rec.Sequence = seq

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO dispatches (entity_kind, entity_id, event_name, rule_id, status, detail, occurred_at, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityKind, rec.EntityID, rec.EventName, rec.RuleID, rec.Status,
		nullStr(rec.Detail), rec.OccurredAt, rec.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dispatch: %w", err)
	}
	return nil
}

// GetDispatches returns dispatch records for an entity with sequence > since,
// ordered by sequence ASC.
func (dl *DispatchLog) GetDispatches(ctx context.Context, entityKind, entityID string, since int64) ([]*DispatchRecord, error) {
	rows, err := dl.store.DB().QueryContext(ctx,
		`SELECT id, entity_kind, entity_id, event_name, rule_id, status, detail, occurred_at, timestamp, sequence
		 FROM dispatches WHERE entity_kind = ? AND entity_id = ? AND sequence > ?
		 ORDER BY sequence ASC`,
		entityKind, entityID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DispatchRecord
	for rows.Next() {
		rec := &DispatchRecord{}
		var detail *string
		if err := rows.Scan(&rec.ID, &rec.EntityKind, &rec.EntityID, &rec.EventName, &rec.RuleID,
			&rec.Status, &detail, &rec.OccurredAt, &rec.Timestamp, &rec.Sequence); err != nil {
			return nil, err
		}
		if detail != nil {
			rec.Detail = *detail
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
