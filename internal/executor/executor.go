// Package executor runs rules in dependency order: breadth-first over
// the execution graph, gating on data validations, executing each
// rule's SQL inside its own transaction, and propagate-skipping
// descendants when a critical rule fails.
package executor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/r3e-labs/brm-core/internal/dependency"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
	"github.com/r3e-labs/brm-core/internal/validation"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
)

// Result summarizes one Execute run.
type Result struct {
	Executed           []int64
	Skipped            []int64
	ValidationFailures []model.ValidationResult
}

// Executor traverses the dependency graph and runs each rule's SQL.
type Executor struct {
	store      store.Store
	graphs     *dependency.Builder
	validation *validation.Runner
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// New constructs an Executor.
func New(s store.Store, graphs *dependency.Builder, validationRunner *validation.Runner, log *logger.Logger, m *metrics.Metrics) *Executor {
	return &Executor{store: s, graphs: graphs, validation: validationRunner, log: log, metrics: m}
}

// errFailedPassCondition forces WithTx to roll back when a rule's SQL
// ran without error but didn't satisfy the pass condition; it is never
// surfaced to callers of Execute.
var errFailedPassCondition = errors.New("rule execution did not satisfy the pass condition")

// Execute runs the graph breadth-first from startIDs (or every root if
// startIDs is empty). skipValidations bypasses the data-validation gate
// ahead of each rule.
func (e *Executor) Execute(ctx context.Context, startIDs []int64, skipValidations bool) (Result, error) {
	graph, err := e.graphs.Build(ctx)
	if err != nil {
		return Result{}, err
	}

	roots := startIDs
	if len(roots) == 0 {
		roots = graph.Roots()
	}

	allRules, err := e.store.AllRules(ctx)
	if err != nil {
		return Result{}, err
	}
	rules := make(map[int64]model.Rule, len(allRules))
	for _, r := range allRules {
		rules[r.RuleID] = r
	}

	result := Result{}
	visited := map[int64]bool{}
	skipped := map[int64]bool{}
	queue := append([]int64(nil), roots...)

	for len(queue) > 0 {
		rid := queue[0]
		queue = queue[1:]

		if visited[rid] || skipped[rid] {
			continue
		}
		visited[rid] = true

		rule, ok := rules[rid]
		if !ok {
			continue
		}

		if !skipValidations {
			gateFailed, failures := e.runValidationGate(ctx, rid)
			result.ValidationFailures = append(result.ValidationFailures, failures...)
			if gateFailed {
				e.skipSubtree(graph, rid, skipped, &result)
				continue
			}
		}

		pass, rowCount, elapsed, execErr := e.runTransactional(ctx, rule.SQLText)

		entry := &model.ExecutionLogEntry{
			RuleID:      rid,
			FiredAt:     time.Now(),
			PassFlag:    pass,
			RecordCount: rowCount,
			ElapsedMS:   elapsed.Milliseconds(),
		}
		if execErr != nil {
			entry.Message = execErr.Error()
		}
		_ = e.store.AppendExecutionLog(ctx, entry)
		if e.log != nil {
			e.log.LogExecution(ctx, rid, pass, elapsed, entry.Message)
		}

		if e.metrics != nil {
			outcome := "passed"
			if !pass {
				outcome = "failed"
			}
			e.metrics.RecordRuleExecution(strconv.FormatInt(rid, 10), outcome, elapsed)
		}

		if pass {
			result.Executed = append(result.Executed, rid)
			for _, next := range graph.Outbound(rid) {
				if !visited[next] && !skipped[next] {
					queue = append(queue, next)
				}
			}
			continue
		}

		if rule.IsCritical() {
			for _, child := range graph.Outbound(rid) {
				e.skipSubtree(graph, child, skipped, &result)
			}
		}
	}

	return result, nil
}

func (e *Executor) runTransactional(ctx context.Context, sqlText string) (pass bool, rowCount int, elapsed time.Duration, execErr error) {
	start := time.Now()
	txErr := e.store.WithTx(ctx, func(txCtx context.Context) error {
		pass, rowCount, execErr = e.store.ExecuteRuleSQL(txCtx, sqlText)
		if execErr != nil {
			return execErr
		}
		if !pass {
			return errFailedPassCondition
		}
		return nil
	})
	elapsed = time.Since(start)

	if txErr != nil && !errors.Is(txErr, errFailedPassCondition) && execErr == nil {
		execErr = txErr
	}
	return pass, rowCount, elapsed, execErr
}

// runValidationGate runs every configured validation for each distinct
// table the rule depends on; any failing validation fails the gate.
func (e *Executor) runValidationGate(ctx context.Context, ruleID int64) (bool, []model.ValidationResult) {
	deps, err := e.store.DependenciesForRule(ctx, ruleID)
	if err != nil {
		return false, nil
	}

	tables := map[string]bool{}
	for _, d := range deps {
		tables[d.TableName] = true
	}

	var allResults []model.ValidationResult
	failed := false
	for table := range tables {
		results, err := e.validation.RunTable(ctx, table)
		if err != nil {
			continue
		}
		allResults = append(allResults, results...)
		for _, r := range results {
			if !r.Pass {
				failed = true
			}
		}
	}
	return failed, allResults
}

// skipSubtree marks rid and every node reachable from it via outbound
// edges as skipped, without executing any of them.
func (e *Executor) skipSubtree(g *dependency.Graph, rid int64, skipped map[int64]bool, result *Result) {
	stack := []int64{rid}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if skipped[n] {
			continue
		}
		skipped[n] = true
		result.Skipped = append(result.Skipped, n)
		if e.metrics != nil {
			e.metrics.RulesExecutedTotal.WithLabelValues("skipped").Inc()
		}
		stack = append(stack, g.Outbound(n)...)
	}
}
