package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
)

// ruleRow mirrors the rules table; sqlx scans directly into it.
type ruleRow struct {
	RuleID          int64         `db:"rule_id"`
	RuleName        string        `db:"rule_name"`
	OwnerGroup      string        `db:"owner_group"`
	SQLText         string        `db:"sql_text"`
	RuleType        string        `db:"rule_type"`
	ParentRuleID    sql.NullInt64 `db:"parent_rule_id"`
	GroupID         sql.NullInt64 `db:"group_id"`
	EffectiveStart  sql.NullTime  `db:"effective_start"`
	EffectiveEnd    sql.NullTime  `db:"effective_end"`
	OperationKind   string        `db:"operation_kind"`
	IsGlobal        bool          `db:"is_global"`
	CriticalRule    bool          `db:"critical_rule"`
	CriticalScope   string        `db:"critical_scope"`
	CDCType         string        `db:"cdc_type"`
	Status          string        `db:"status"`
	ApprovalStatus  string        `db:"approval_status"`
	LifecycleState  string        `db:"lifecycle_state"`
	Version         int           `db:"version"`
	DecisionTableID sql.NullInt64 `db:"decision_table_id"`
	CreatedBy       string        `db:"created_by"`
	CreatedAt       sql.NullTime  `db:"created_at"`
	UpdatedBy       string        `db:"updated_by"`
	UpdatedAt       sql.NullTime  `db:"updated_at"`
}

func (r ruleRow) toModel() model.Rule {
	out := model.Rule{
		RuleID:         r.RuleID,
		Name:           r.RuleName,
		OwnerGroup:     r.OwnerGroup,
		SQLText:        r.SQLText,
		RuleType:       r.RuleType,
		OperationKind:  model.OperationKind(r.OperationKind),
		IsGlobal:       r.IsGlobal,
		CriticalRule:   r.CriticalRule,
		CriticalScope:  model.CriticalScope(r.CriticalScope),
		CDCType:        r.CDCType,
		Status:         model.RuleStatus(r.Status),
		ApprovalStatus: model.ApprovalStatus(r.ApprovalStatus),
		LifecycleState: model.LifecycleState(r.LifecycleState),
		Version:        r.Version,
		CreatedBy:      r.CreatedBy,
		UpdatedBy:      r.UpdatedBy,
	}
	if r.ParentRuleID.Valid {
		v := r.ParentRuleID.Int64
		out.ParentRuleID = &v
	}
	if r.GroupID.Valid {
		v := r.GroupID.Int64
		out.GroupID = &v
	}
	if r.EffectiveStart.Valid {
		v := r.EffectiveStart.Time
		out.EffectiveStart = &v
	}
	if r.EffectiveEnd.Valid {
		v := r.EffectiveEnd.Time
		out.EffectiveEnd = &v
	}
	if r.DecisionTableID.Valid {
		v := r.DecisionTableID.Int64
		out.DecisionTableID = &v
	}
	if r.CreatedAt.Valid {
		out.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		out.UpdatedAt = r.UpdatedAt.Time
	}
	return out
}

const ruleColumns = `rule_id, rule_name, owner_group, sql_text, rule_type, parent_rule_id, group_id,
	effective_start, effective_end, operation_kind, is_global, critical_rule, critical_scope, cdc_type,
	status, approval_status, lifecycle_state, version, decision_table_id, created_by, created_at, updated_by, updated_at`

func requireActor(actor model.Actor) error {
	if actor.User == "" {
		return brmerrors.InvalidInput("actor", "actor identity is required")
	}
	return nil
}

// CreateRule implements store.Store.
func (s *Store) CreateRule(ctx context.Context, actor model.Actor, r *model.Rule, deps []model.Dependency) (*model.Rule, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var created model.Rule
	err := s.WithTx(ctx, func(ctx context.Context) error {
		row := s.querier(ctx).QueryRowxContext(ctx, `
			INSERT INTO rules (
				rule_name, owner_group, sql_text, rule_type, parent_rule_id, group_id,
				effective_start, effective_end, operation_kind, is_global, critical_rule,
				critical_scope, cdc_type, status, approval_status, lifecycle_state, version,
				decision_table_id, created_by, created_at, updated_by, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now(),$20,now())
			RETURNING `+ruleColumns,
			r.Name, r.OwnerGroup, r.SQLText, r.RuleType, nullInt(r.ParentRuleID), nullInt(r.GroupID),
			nullTime(r.EffectiveStart), nullTime(r.EffectiveEnd), string(r.OperationKind), r.IsGlobal,
			r.CriticalRule, string(r.CriticalScope), r.CDCType, string(r.Status), string(r.ApprovalStatus),
			string(r.LifecycleState), r.Version, nullInt(r.DecisionTableID), actor.User, actor.User,
		)

		var rr ruleRow
		if err := row.StructScan(&rr); err != nil {
			if isUniqueViolation(err) {
				return brmerrors.DuplicateName(r.OwnerGroup, r.Name)
			}
			return brmerrors.BackendError("create_rule", err)
		}
		created = rr.toModel()

		return s.replaceDependenciesTx(ctx, created.RuleID, deps)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetRule implements store.Store.
func (s *Store) GetRule(ctx context.Context, ruleID int64) (*model.Rule, error) {
	var rr ruleRow
	err := s.querier(ctx).GetContext(ctx, &rr, `SELECT `+ruleColumns+` FROM rules WHERE rule_id=$1`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brmerrors.NotFound("rule", ruleID)
	}
	if err != nil {
		return nil, brmerrors.BackendError("get_rule", err)
	}
	out := rr.toModel()
	return &out, nil
}

// FindRuleByName implements store.Store.
func (s *Store) FindRuleByName(ctx context.Context, ownerGroup, name string) (*model.Rule, error) {
	var rr ruleRow
	err := s.querier(ctx).GetContext(ctx, &rr, `SELECT `+ruleColumns+` FROM rules WHERE owner_group=$1 AND rule_name=$2`, ownerGroup, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, brmerrors.BackendError("find_rule_by_name", err)
	}
	out := rr.toModel()
	return &out, nil
}

// UpdateRule implements store.Store. It increments version unconditionally,
// since the engine never elides an update as a no-op.
func (s *Store) UpdateRule(ctx context.Context, actor model.Actor, r *model.Rule, deps []model.Dependency) (*model.Rule, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var updated model.Rule
	err := s.WithTx(ctx, func(ctx context.Context) error {
		row := s.querier(ctx).QueryRowxContext(ctx, `
			UPDATE rules SET
				rule_name=$1, sql_text=$2, rule_type=$3, parent_rule_id=$4, group_id=$5,
				effective_start=$6, effective_end=$7, operation_kind=$8, critical_rule=$9,
				critical_scope=$10, cdc_type=$11, status=$12, approval_status=$13,
				lifecycle_state=$14, version=version+1, decision_table_id=$15,
				updated_by=$16, updated_at=now()
			WHERE rule_id=$17
			RETURNING `+ruleColumns,
			r.Name, r.SQLText, r.RuleType, nullInt(r.ParentRuleID), nullInt(r.GroupID),
			nullTime(r.EffectiveStart), nullTime(r.EffectiveEnd), string(r.OperationKind),
			r.CriticalRule, string(r.CriticalScope), r.CDCType, string(r.Status),
			string(r.ApprovalStatus), string(r.LifecycleState), nullInt(r.DecisionTableID),
			actor.User, r.RuleID,
		)

		var rr ruleRow
		if err := row.StructScan(&rr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return brmerrors.NotFound("rule", r.RuleID)
			}
			if isUniqueViolation(err) {
				return brmerrors.DuplicateName(r.OwnerGroup, r.Name)
			}
			return brmerrors.BackendError("update_rule", err)
		}
		updated = rr.toModel()

		return s.replaceDependenciesTx(ctx, updated.RuleID, deps)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListRules implements store.Store.
func (s *Store) ListRules(ctx context.Context, filter store.RuleFilter) ([]model.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE 1=1`
	var args []interface{}
	argN := 1

	if filter.OwnerGroup != "" {
		query += fmt.Sprintf(" AND owner_group=$%d", argN)
		args = append(args, filter.OwnerGroup)
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status=$%d", argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if filter.ParentID != nil {
		query += fmt.Sprintf(" AND parent_rule_id=$%d", argN)
		args = append(args, *filter.ParentID)
		argN++
	}
	query += " ORDER BY rule_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var rows []ruleRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, brmerrors.BackendError("list_rules", err)
	}
	out := make([]model.Rule, 0, len(rows))
	for _, rr := range rows {
		out = append(out, rr.toModel())
	}
	return out, nil
}

// AllRules implements store.Store.
func (s *Store) AllRules(ctx context.Context) ([]model.Rule, error) {
	var rows []ruleRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT `+ruleColumns+` FROM rules`); err != nil {
		return nil, brmerrors.BackendError("all_rules", err)
	}
	out := make([]model.Rule, 0, len(rows))
	for _, rr := range rows {
		out = append(out, rr.toModel())
	}
	return out, nil
}

// ChildRules implements store.Store.
func (s *Store) ChildRules(ctx context.Context, ruleID int64) ([]model.Rule, error) {
	var rows []ruleRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT `+ruleColumns+` FROM rules WHERE parent_rule_id=$1`, ruleID); err != nil {
		return nil, brmerrors.BackendError("child_rules", err)
	}
	out := make([]model.Rule, 0, len(rows))
	for _, rr := range rows {
		out = append(out, rr.toModel())
	}
	return out, nil
}

// DeleteRule implements store.Store.
func (s *Store) DeleteRule(ctx context.Context, actor model.Actor, ruleID int64) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	result, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM rules WHERE rule_id=$1`, ruleID)
	if err != nil {
		return brmerrors.BackendError("delete_rule", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return brmerrors.BackendError("delete_rule_rows_affected", err)
	}
	if n == 0 {
		return brmerrors.NotFound("rule", ruleID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
