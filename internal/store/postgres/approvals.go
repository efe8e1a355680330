package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

type approvalRow struct {
	RuleID       int64        `db:"rule_id"`
	GroupName    string       `db:"group_name"`
	Username     string       `db:"username"`
	ApprovedFlag int          `db:"approved_flag"`
	Stage        int          `db:"stage"`
	ActionType   string       `db:"action_type"`
	DecidedAt    sql.NullTime `db:"decided_at"`
}

func (a approvalRow) toModel() model.ApprovalRow {
	out := model.ApprovalRow{
		RuleID:       a.RuleID,
		GroupName:    a.GroupName,
		Username:     a.Username,
		ApprovedFlag: model.ApprovedFlag(a.ApprovedFlag),
		Stage:        a.Stage,
		ActionType:   model.ActionType(a.ActionType),
	}
	if a.DecidedAt.Valid {
		v := a.DecidedAt.Time
		out.DecidedAt = &v
	}
	return out
}

// ReplacePipeline implements store.Store: deletes any existing rows for
// (ruleID, actionType) and inserts rows afresh, inside one transaction,
// making pipeline re-triggering idempotent.
func (s *Store) ReplacePipeline(ctx context.Context, ruleID int64, actionType model.ActionType, rows []model.ApprovalRow) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.querier(ctx).ExecContext(ctx,
			`DELETE FROM rule_approvals WHERE rule_id=$1 AND action_type=$2`, ruleID, string(actionType)); err != nil {
			return brmerrors.BackendError("replace_pipeline_delete", err)
		}
		for _, row := range rows {
			if _, err := s.querier(ctx).ExecContext(ctx, `
				INSERT INTO rule_approvals (rule_id, group_name, username, approved_flag, stage, action_type)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				ruleID, row.GroupName, row.Username, int(row.ApprovedFlag), row.Stage, string(actionType)); err != nil {
				return brmerrors.BackendError("replace_pipeline_insert", err)
			}
		}
		return nil
	})
}

// PipelineRows implements store.Store.
func (s *Store) PipelineRows(ctx context.Context, ruleID int64, actionType model.ActionType) ([]model.ApprovalRow, error) {
	var rows []approvalRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, `
		SELECT rule_id, group_name, username, approved_flag, stage, action_type, decided_at
		FROM rule_approvals WHERE rule_id=$1 AND action_type=$2 ORDER BY stage`,
		ruleID, string(actionType)); err != nil {
		return nil, brmerrors.BackendError("pipeline_rows", err)
	}
	out := make([]model.ApprovalRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UpdateApprovalRow implements store.Store: flips exactly one PENDING row
// for (ruleID, actionType, group, user) to the given flag.
func (s *Store) UpdateApprovalRow(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string, flag model.ApprovedFlag, decidedAt time.Time) error {
	result, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE rule_approvals SET approved_flag=$1, decided_at=$2
		WHERE rule_id=$3 AND action_type=$4 AND group_name=$5 AND username=$6 AND approved_flag=0`,
		int(flag), decidedAt, ruleID, string(actionType), group, user)
	if err != nil {
		return brmerrors.BackendError("update_approval_row", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return brmerrors.BackendError("update_approval_row_rows_affected", err)
	}
	if n == 0 {
		return brmerrors.NotFound("approval row", ruleID)
	}
	return nil
}

// Group implements store.Store.
func (s *Store) Group(ctx context.Context, name string) (*model.Group, error) {
	type row struct {
		Name      string         `db:"name"`
		Approvers pq.StringArray `db:"approvers"`
	}
	var r row
	err := s.querier(ctx).GetContext(ctx, &r, `SELECT name, approvers FROM groups WHERE name=$1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brmerrors.NotFound("group", name)
	}
	if err != nil {
		return nil, brmerrors.BackendError("group", err)
	}
	return &model.Group{Name: r.Name, Approvers: []string(r.Approvers)}, nil
}
