package postgres

import (
	"context"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

// AppendExecutionLog implements store.Store: one row per rule firing,
// never updated or deleted.
func (s *Store) AppendExecutionLog(ctx context.Context, e *model.ExecutionLogEntry) error {
	row := s.querier(ctx).QueryRowxContext(ctx, `
		INSERT INTO execution_logs (rule_id, fired_at, pass_flag, message, record_count, elapsed_ms)
		VALUES ($1, now(), $2, $3, $4, $5)
		RETURNING log_id`,
		e.RuleID, e.PassFlag, e.Message, e.RecordCount, e.ElapsedMS)

	if err := row.Scan(&e.LogID); err != nil {
		return brmerrors.BackendError("append_execution_log", err)
	}
	return nil
}
