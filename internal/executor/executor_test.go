package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/r3e-labs/brm-core/internal/dependency"
	"github.com/r3e-labs/brm-core/internal/executor"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store/storetest"
	"github.com/r3e-labs/brm-core/internal/validation"
)

func seedRule(t *testing.T, s *storetest.Store, name string, parent *int64, sqlText string, critical bool, scope model.CriticalScope) *model.Rule {
	t.Helper()
	r, err := s.CreateRule(context.Background(), model.Actor{User: "creator", Group: "BG1"}, &model.Rule{
		Name:          name,
		OwnerGroup:    "BG1",
		Status:        model.StatusActive,
		Version:       1,
		ParentRuleID:  parent,
		SQLText:       sqlText,
		CriticalRule:  critical,
		CriticalScope: scope,
	}, nil)
	if err != nil {
		t.Fatalf("seed rule %s: %v", name, err)
	}
	return r
}

func newExecutor(s *storetest.Store) *executor.Executor {
	return executor.New(s, dependency.New(s), validation.New(s, 0), nil, nil)
}

func TestExecuteRunsRootWhenNoStartIDsGiven(t *testing.T) {
	s := storetest.New()
	r := seedRule(t, s, "root", nil, "SELECT 1", false, model.ScopeNone)

	result, err := newExecutor(s).Execute(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Executed) != 1 || result.Executed[0] != r.RuleID {
		t.Fatalf("Executed = %v, want [%d]", result.Executed, r.RuleID)
	}
}

func TestExecutePropagatesSkipOnCriticalFailure(t *testing.T) {
	s := storetest.New()
	root := seedRule(t, s, "root", nil, "SELECT 0", true, model.ScopeGlobal)
	child := seedRule(t, s, "child", &root.RuleID, "SELECT 1", false, model.ScopeNone)
	s.SeedSQLOutcome("SELECT 0", false, 1, nil)

	result, err := newExecutor(s).Execute(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Executed) != 0 {
		t.Fatalf("Executed = %v, want none (root failed)", result.Executed)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != child.RuleID {
		t.Fatalf("Skipped = %v, want [%d]", result.Skipped, child.RuleID)
	}
}

func TestExecuteLeavesDescendantsUnskippedOnNonCriticalFailure(t *testing.T) {
	s := storetest.New()
	root := seedRule(t, s, "root", nil, "SELECT 0", false, model.ScopeNone)
	child := seedRule(t, s, "child", &root.RuleID, "SELECT 1", false, model.ScopeNone)
	s.SeedSQLOutcome("SELECT 0", false, 1, nil)

	result, err := newExecutor(s).Execute(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Skipped) != 0 {
		t.Fatalf("Skipped = %v, want none: a non-critical failure doesn't propagate-skip", result.Skipped)
	}
	for _, id := range result.Executed {
		if id == child.RuleID {
			t.Fatalf("child %d should not run this pass: its only parent never passed to enqueue it", child.RuleID)
		}
	}
}

func TestExecuteRollsBackAndReportsErrorOnExecutionFailure(t *testing.T) {
	s := storetest.New()
	seedRule(t, s, "root", nil, "BROKEN SQL", false, model.ScopeNone)
	s.SeedSQLOutcome("BROKEN SQL", false, 0, errors.New("syntax error"))

	result, err := newExecutor(s).Execute(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil (failures are reported, not returned)", err)
	}
	if len(result.Executed) != 0 {
		t.Fatalf("Executed = %v, want none", result.Executed)
	}
}

func TestExecuteSkipsSubtreeOnValidationGateFailure(t *testing.T) {
	s := storetest.New()
	root := seedRule(t, s, "root", nil, "SELECT 1", false, model.ScopeNone)
	child := seedRule(t, s, "child", &root.RuleID, "SELECT 1", false, model.ScopeNone)
	if err := s.ReplaceDependencies(context.Background(), root.RuleID, []model.Dependency{
		{RuleID: root.RuleID, TableName: "accounts", ColumnName: "owner"},
	}); err != nil {
		t.Fatalf("seed dependency: %v", err)
	}
	s.SeedColumn("accounts", "owner", nil)
	s.SeedValidation(model.Validation{ValidationID: 1, TableName: "accounts", ColumnName: "owner", Type: model.ValidationNotNull})

	result, err := newExecutor(s).Execute(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Executed) != 0 {
		t.Fatalf("Executed = %v, want none (root gated out)", result.Executed)
	}
	var skippedRoot, skippedChild bool
	for _, id := range result.Skipped {
		if id == root.RuleID {
			skippedRoot = true
		}
		if id == child.RuleID {
			skippedChild = true
		}
	}
	if !skippedRoot || !skippedChild {
		t.Fatalf("Skipped = %v, want both root and child", result.Skipped)
	}
	if len(result.ValidationFailures) == 0 {
		t.Fatal("expected at least one reported validation failure")
	}
}
