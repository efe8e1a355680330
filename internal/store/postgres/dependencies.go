package postgres

import (
	"context"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

type dependencyRow struct {
	RuleID       int64  `db:"rule_id"`
	DatabaseName string `db:"database_name"`
	TableName    string `db:"table_name"`
	ColumnName   string `db:"column_name"`
	ColumnOp     string `db:"column_op"`
}

func (d dependencyRow) toModel() model.Dependency {
	return model.Dependency{
		RuleID:       d.RuleID,
		DatabaseName: d.DatabaseName,
		TableName:    d.TableName,
		ColumnName:   d.ColumnName,
		ColumnOp:     model.ColumnOp(d.ColumnOp),
	}
}

// replaceDependenciesTx deletes and reinserts a rule's dependency rows.
// Callers must already be inside a transaction via WithTx.
func (s *Store) replaceDependenciesTx(ctx context.Context, ruleID int64, deps []model.Dependency) error {
	if _, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM rule_dependencies WHERE rule_id=$1`, ruleID); err != nil {
		return brmerrors.BackendError("replace_dependencies_delete", err)
	}
	for _, d := range deps {
		if _, err := s.querier(ctx).ExecContext(ctx, `
			INSERT INTO rule_dependencies (rule_id, database_name, table_name, column_name, column_op)
			VALUES ($1,$2,$3,$4,$5)`,
			ruleID, d.DatabaseName, d.TableName, d.ColumnName, string(d.ColumnOp)); err != nil {
			return brmerrors.BackendError("replace_dependencies_insert", err)
		}
	}
	return nil
}

// ReplaceDependencies implements store.Store, wrapping the transactional
// helper in its own transaction when called standalone (e.g. from tests).
func (s *Store) ReplaceDependencies(ctx context.Context, ruleID int64, deps []model.Dependency) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		return s.replaceDependenciesTx(ctx, ruleID, deps)
	})
}

// DependenciesForRule implements store.Store.
func (s *Store) DependenciesForRule(ctx context.Context, ruleID int64) ([]model.Dependency, error) {
	var rows []dependencyRow
	if err := s.querier(ctx).SelectContext(ctx, &rows,
		`SELECT rule_id, database_name, table_name, column_name, column_op FROM rule_dependencies WHERE rule_id=$1`, ruleID); err != nil {
		return nil, brmerrors.BackendError("dependencies_for_rule", err)
	}
	out := make([]model.Dependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// AllDependencies implements store.Store.
func (s *Store) AllDependencies(ctx context.Context) ([]model.Dependency, error) {
	var rows []dependencyRow
	if err := s.querier(ctx).SelectContext(ctx, &rows,
		`SELECT rule_id, database_name, table_name, column_name, column_op FROM rule_dependencies`); err != nil {
		return nil, brmerrors.BackendError("all_dependencies", err)
	}
	out := make([]model.Dependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// AllGlobalCriticalLinks implements store.Store.
func (s *Store) AllGlobalCriticalLinks(ctx context.Context) ([]model.GlobalCriticalLink, error) {
	type row struct {
		GCRRuleID    int64 `db:"gcr_rule_id"`
		TargetRuleID int64 `db:"target_rule_id"`
	}
	var rows []row
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT gcr_rule_id, target_rule_id FROM global_critical_links`); err != nil {
		return nil, brmerrors.BackendError("all_global_critical_links", err)
	}
	out := make([]model.GlobalCriticalLink, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.GlobalCriticalLink{GCRRuleID: r.GCRRuleID, TargetRuleID: r.TargetRuleID})
	}
	return out, nil
}

// AllConflicts implements store.Store.
func (s *Store) AllConflicts(ctx context.Context) ([]model.Conflict, error) {
	type row struct {
		RuleID1  int64 `db:"rule_id1"`
		RuleID2  int64 `db:"rule_id2"`
		Priority int   `db:"priority"`
	}
	var rows []row
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT rule_id1, rule_id2, priority FROM conflicts`); err != nil {
		return nil, brmerrors.BackendError("all_conflicts", err)
	}
	out := make([]model.Conflict, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Conflict{RuleID1: r.RuleID1, RuleID2: r.RuleID2, Priority: r.Priority})
	}
	return out, nil
}

// AllCompositeExpressions implements store.Store.
func (s *Store) AllCompositeExpressions(ctx context.Context) ([]model.CompositeExpression, error) {
	type row struct {
		RuleID    int64  `db:"rule_id"`
		LogicExpr string `db:"logic_expr"`
	}
	var rows []row
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT rule_id, logic_expr FROM composite_expressions`); err != nil {
		return nil, brmerrors.BackendError("all_composite_expressions", err)
	}
	out := make([]model.CompositeExpression, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.CompositeExpression{RuleID: r.RuleID, LogicExpr: r.LogicExpr})
	}
	return out, nil
}

// AllColumnMappings implements store.Store. Per the specification this
// degrades gracefully: if the table is entirely absent from the schema
// (a legitimate deployment state), callers see an empty slice rather
// than an error.
func (s *Store) AllColumnMappings(ctx context.Context) ([]model.ColumnMapping, error) {
	type row struct {
		SourceRuleID int64 `db:"source_rule_id"`
		TargetRuleID int64 `db:"target_rule_id"`
	}
	var rows []row
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT source_rule_id, target_rule_id FROM column_mappings`); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, brmerrors.BackendError("all_column_mappings", err)
	}
	out := make([]model.ColumnMapping, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ColumnMapping{SourceRuleID: r.SourceRuleID, TargetRuleID: r.TargetRuleID})
	}
	return out, nil
}
