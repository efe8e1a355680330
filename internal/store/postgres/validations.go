package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

type validationRow struct {
	ValidationID int64  `db:"validation_id"`
	TableName    string `db:"table_name"`
	ColumnName   string `db:"column_name"`
	Type         string `db:"type"`
	Params       string `db:"params"`
}

func (v validationRow) toModel() model.Validation {
	return model.Validation{
		ValidationID: v.ValidationID,
		TableName:    v.TableName,
		ColumnName:   v.ColumnName,
		Type:         model.ValidationType(v.Type),
		Params:       v.Params,
	}
}

// AllValidations implements store.Store.
func (s *Store) AllValidations(ctx context.Context, tableName string) ([]model.Validation, error) {
	var rows []validationRow
	if err := s.querier(ctx).SelectContext(ctx, &rows,
		`SELECT validation_id, table_name, column_name, type, params FROM validations WHERE table_name=$1`, tableName); err != nil {
		return nil, brmerrors.BackendError("all_validations", err)
	}
	out := make([]model.Validation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// AppendValidationLog implements store.Store.
func (s *Store) AppendValidationLog(ctx context.Context, r *model.ValidationResult) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO validation_logs (validation_id, table_name, column_name, type, params, pass_flag, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())`,
		r.ValidationID, r.TableName, r.ColumnName, string(r.Type), r.Params, r.Pass, r.Message)
	if err != nil {
		return brmerrors.BackendError("append_validation_log", err)
	}
	return nil
}

// CountNull implements store.Store. table and column originate from the
// validations configuration table, not end-user input, but identifiers
// are still quoted defensively since they cannot be bound as parameters.
func (s *Store) CountNull(ctx context.Context, table, column string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", pq.QuoteIdentifier(table), pq.QuoteIdentifier(column))
	var count int64
	if err := s.querier(ctx).GetContext(ctx, &count, query); err != nil {
		if isUndefinedTable(err) {
			return 0, brmerrors.NotFound("table", table)
		}
		return 0, brmerrors.BackendError("count_null", err)
	}
	return count, nil
}

// CountOutOfRange implements store.Store.
func (s *Store) CountOutOfRange(ctx context.Context, table, column string, min, max float64) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND (%s < $1 OR %s > $2)",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column), pq.QuoteIdentifier(column), pq.QuoteIdentifier(column))
	var count int64
	if err := s.querier(ctx).GetContext(ctx, &count, query, min, max); err != nil {
		if isUndefinedTable(err) {
			return 0, brmerrors.NotFound("table", table)
		}
		return 0, brmerrors.BackendError("count_out_of_range", err)
	}
	return count, nil
}

// SampleNonNull implements store.Store: up to limit non-null values of
// column, used by the REGEX validation to check a representative sample
// rather than the whole table.
func (s *Store) SampleNonNull(ctx context.Context, table, column string, limit int) ([]string, error) {
	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE %s IS NOT NULL LIMIT $1",
		pq.QuoteIdentifier(column), pq.QuoteIdentifier(table), pq.QuoteIdentifier(column))
	var values []string
	if err := s.querier(ctx).SelectContext(ctx, &values, query, limit); err != nil {
		if isUndefinedTable(err) {
			return nil, brmerrors.NotFound("table", table)
		}
		return nil, brmerrors.BackendError("sample_non_null", err)
	}
	return values, nil
}

// CountOrphans implements store.Store: rows in (table, column) whose
// non-null value has no matching row in (refTable, refColumn).
func (s *Store) CountOrphans(ctx context.Context, table, column, refTable, refColumn string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s t
		WHERE t.%s IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM %s r WHERE r.%s = t.%s)`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(refTable), pq.QuoteIdentifier(refColumn), pq.QuoteIdentifier(column))
	var count int64
	if err := s.querier(ctx).GetContext(ctx, &count, query); err != nil {
		if isUndefinedTable(err) {
			return 0, brmerrors.NotFound("table", table)
		}
		return 0, brmerrors.BackendError("count_orphans", err)
	}
	return count, nil
}
