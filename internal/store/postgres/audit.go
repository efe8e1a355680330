package postgres

import (
	"context"
	"database/sql"
	"fmt"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
)

type auditRow struct {
	EntryID         int64  `db:"entry_id"`
	Action          string `db:"action"`
	TableName       string `db:"table_name"`
	RecordID        int64  `db:"record_id"`
	ActionBy        string `db:"action_by"`
	OldData         []byte `db:"old_data"`
	NewData         []byte `db:"new_data"`
	ActionTimestamp sql.NullTime `db:"action_timestamp"`
}

func (a auditRow) toModel() model.AuditEntry {
	out := model.AuditEntry{
		EntryID:   a.EntryID,
		Action:    a.Action,
		TableName: a.TableName,
		RecordID:  a.RecordID,
		ActionBy:  a.ActionBy,
		OldData:   a.OldData,
		NewData:   a.NewData,
	}
	if a.ActionTimestamp.Valid {
		out.ActionTimestamp = a.ActionTimestamp.Time
	}
	return out
}

// AppendAudit implements store.Store: one append-only row per state
// transition, written inside the same transaction as the mutation it
// records.
func (s *Store) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	row := s.querier(ctx).QueryRowxContext(ctx, `
		INSERT INTO audit_log (action, table_name, record_id, action_by, old_data, new_data, action_timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		RETURNING entry_id`,
		e.Action, e.TableName, e.RecordID, e.ActionBy, e.OldData, e.NewData)

	if err := row.Scan(&e.EntryID); err != nil {
		return brmerrors.BackendError("append_audit", err)
	}
	return nil
}

// QueryAudit implements store.Store.
func (s *Store) QueryAudit(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, error) {
	query := `SELECT entry_id, action, table_name, record_id, action_by, old_data, new_data, action_timestamp FROM audit_log WHERE 1=1`
	var args []interface{}
	argN := 1

	if filter.Actor != "" {
		query += fmt.Sprintf(" AND action_by=$%d", argN)
		args = append(args, filter.Actor)
		argN++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action=$%d", argN)
		args = append(args, filter.Action)
		argN++
	}
	if filter.TableName != "" {
		query += fmt.Sprintf(" AND table_name=$%d", argN)
		args = append(args, filter.TableName)
		argN++
	}
	if filter.RecordID != nil {
		query += fmt.Sprintf(" AND record_id=$%d", argN)
		args = append(args, *filter.RecordID)
		argN++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND action_timestamp>=$%d", argN)
		args = append(args, *filter.Since)
		argN++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND action_timestamp<=$%d", argN)
		args = append(args, *filter.Until)
		argN++
	}
	query += " ORDER BY action_timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []auditRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, brmerrors.BackendError("query_audit", err)
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
