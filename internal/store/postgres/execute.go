package postgres

import (
	"context"
	"fmt"
)

// ExecuteRuleSQL runs sqlText through the active querier (a transaction
// when called from inside WithTx) and evaluates the pass condition
// against the first row's first column. Non-SELECT statements without a
// RETURNING clause produce no rows, which passes. An undefined-table
// error (42P01) is reported with a "table missing" prefix.
func (s *Store) ExecuteRuleSQL(ctx context.Context, sqlText string) (bool, int, error) {
	rows, err := s.querier(ctx).QueryxContext(ctx, sqlText)
	if err != nil {
		if isUndefinedTable(err) {
			return false, 0, fmt.Errorf("table missing or invalid object: %w", err)
		}
		return false, 0, err
	}
	defer rows.Close()

	if !rows.Next() {
		return true, 0, rows.Err()
	}

	cols, err := rows.Columns()
	if err != nil {
		return false, 0, err
	}
	raw := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return false, 0, err
	}

	count := 1
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return false, count, err
	}

	return firstColumnEqualsOne(raw[0]), count, nil
}

func firstColumnEqualsOne(v interface{}) bool {
	switch n := v.(type) {
	case int64:
		return n == 1
	case int32:
		return n == 1
	case int:
		return n == 1
	case float64:
		return n == 1
	case []byte:
		return string(n) == "1"
	case string:
		return n == "1"
	default:
		return false
	}
}
