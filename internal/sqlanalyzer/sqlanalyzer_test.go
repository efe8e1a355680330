package sqlanalyzer_test

import (
	"context"
	"testing"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/sqlanalyzer"
)

func TestAnalyzeClassifiesOperationKind(t *testing.T) {
	a := sqlanalyzer.NewDefaultAnalyzer()
	ctx := context.Background()

	cases := []struct {
		name string
		sql  string
		want model.OperationKind
	}{
		{"select", "SELECT id FROM accounts WHERE active = true", model.OpSelect},
		{"insert", "INSERT INTO accounts (id, balance) VALUES (1, 100)", model.OpInsert},
		{"update", "UPDATE accounts SET balance = balance + 1 WHERE id = 1", model.OpUpdate},
		{"delete", "DELETE FROM accounts WHERE id = 1", model.OpDelete},
		{"other", "CALL some_procedure()", model.OpOther},
		{"cte", "WITH recent AS (SELECT 1) SELECT * FROM recent", model.OpSelect},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Analyze(ctx, tc.sql, false)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if got.OperationKind != tc.want {
				t.Fatalf("OperationKind = %v, want %v", got.OperationKind, tc.want)
			}
		})
	}
}

func TestAnalyzeEmptySQLWithDecisionTableIsDecisionTable(t *testing.T) {
	a := sqlanalyzer.NewDefaultAnalyzer()
	got, err := a.Analyze(context.Background(), "  ", true)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.OperationKind != model.OpDecisionTable {
		t.Fatalf("OperationKind = %v, want DECISION_TABLE", got.OperationKind)
	}
}

func TestAnalyzeEmptySQLWithoutDecisionTableIsOther(t *testing.T) {
	a := sqlanalyzer.NewDefaultAnalyzer()
	got, err := a.Analyze(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.OperationKind != model.OpOther {
		t.Fatalf("OperationKind = %v, want OTHER", got.OperationKind)
	}
}

func TestAnalyzeExtractsTablesFromJoins(t *testing.T) {
	a := sqlanalyzer.NewDefaultAnalyzer()
	got, err := a.Analyze(context.Background(), `
		SELECT a.id FROM accounts a
		JOIN ledger_entries l ON l.account_id = a.id
		WHERE a.active = true`, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	names := map[string]bool{}
	for _, tbl := range got.Tables {
		names[tbl.TableName] = true
	}
	if !names["accounts"] || !names["ledger_entries"] {
		t.Fatalf("Tables = %+v, want accounts and ledger_entries", got.Tables)
	}
}

func TestAnalyzeNeverMissesTheUpdatedTable(t *testing.T) {
	a := sqlanalyzer.NewDefaultAnalyzer()
	got, err := a.Analyze(context.Background(), `UPDATE "schema"."accounts" SET balance = 0 WHERE id = 1`, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(got.Tables) == 0 {
		t.Fatal("expected at least one table reference")
	}
	found := false
	for _, tbl := range got.Tables {
		if tbl.TableName == "accounts" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Tables = %+v, want accounts present", got.Tables)
	}
}

func TestAnalyzeReportsWriteColumnsForUpdate(t *testing.T) {
	a := sqlanalyzer.NewDefaultAnalyzer()
	got, err := a.Analyze(context.Background(), `UPDATE accounts SET balance = 0, status = 'closed' WHERE id = 1`, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	writes := map[string]bool{}
	for _, c := range got.Columns {
		if c.ColumnOp == model.ColumnWrite {
			writes[c.ColumnName] = true
		}
	}
	if !writes["balance"] || !writes["status"] {
		t.Fatalf("Columns = %+v, want balance and status marked WRITE", got.Columns)
	}
}
