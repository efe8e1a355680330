package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

type lockRow struct {
	RuleID     int64     `db:"rule_id"`
	LockedBy   string    `db:"locked_by"`
	LockedAt   time.Time `db:"locked_at"`
	ExpiryAt   time.Time `db:"expiry_at"`
	ForceLock  bool      `db:"force_lock"`
	ActiveLock bool      `db:"active_lock"`
}

func (l lockRow) toModel() model.Lock {
	return model.Lock{
		RuleID:     l.RuleID,
		LockedBy:   l.LockedBy,
		LockedAt:   l.LockedAt,
		ExpiryAt:   l.ExpiryAt,
		ForceLock:  l.ForceLock,
		ActiveLock: l.ActiveLock,
	}
}

// GetLock implements store.Store.
func (s *Store) GetLock(ctx context.Context, ruleID int64) (*model.Lock, error) {
	var lr lockRow
	err := s.querier(ctx).GetContext(ctx, &lr,
		`SELECT rule_id, locked_by, locked_at, expiry_at, force_lock, active_lock FROM rule_locks WHERE rule_id=$1`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, brmerrors.BackendError("get_lock", err)
	}
	out := lr.toModel()
	return &out, nil
}

// UpsertLock implements store.Store: one row per rule, replaced wholesale
// on every Acquire/ForceAcquire.
func (s *Store) UpsertLock(ctx context.Context, l *model.Lock) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO rule_locks (rule_id, locked_by, locked_at, expiry_at, force_lock, active_lock)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (rule_id) DO UPDATE SET
			locked_by=EXCLUDED.locked_by, locked_at=EXCLUDED.locked_at,
			expiry_at=EXCLUDED.expiry_at, force_lock=EXCLUDED.force_lock,
			active_lock=EXCLUDED.active_lock`,
		l.RuleID, l.LockedBy, l.LockedAt, l.ExpiryAt, l.ForceLock, l.ActiveLock)
	if err != nil {
		return brmerrors.BackendError("upsert_lock", err)
	}
	return nil
}

// DeactivateLock implements store.Store.
func (s *Store) DeactivateLock(ctx context.Context, ruleID int64) error {
	_, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE rule_locks SET active_lock=FALSE WHERE rule_id=$1`, ruleID)
	if err != nil {
		return brmerrors.BackendError("deactivate_lock", err)
	}
	return nil
}
