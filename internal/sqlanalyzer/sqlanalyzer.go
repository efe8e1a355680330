// Package sqlanalyzer classifies a rule's SQL text and extracts the
// tables and columns it touches, without executing it. The default
// implementation is deliberately conservative: it is allowed to report
// extra tables, never to miss one the rule actually references.
package sqlanalyzer

import (
	"context"
	"regexp"
	"strings"

	"github.com/r3e-labs/brm-core/internal/model"
)

// Analysis is the result of analyzing one rule's SQL text.
type Analysis struct {
	OperationKind model.OperationKind
	Tables        []model.TableRef
	Columns       []model.Dependency
}

// Analyzer is the pluggable contract the Rule Lifecycle depends on. The
// core ships DefaultAnalyzer; a deployment may substitute a real SQL
// parser behind the same interface.
type Analyzer interface {
	Analyze(ctx context.Context, sqlText string, hasDecisionTable bool) (Analysis, error)
}

// DefaultAnalyzer is a conservative regex-based implementation: good
// enough to drive dependency tracking and the executor's table-level
// validation gate, not a substitute for a real SQL parser.
type DefaultAnalyzer struct{}

// NewDefaultAnalyzer constructs the default regex-based analyzer.
func NewDefaultAnalyzer() *DefaultAnalyzer {
	return &DefaultAnalyzer{}
}

var (
	leadingKeywordRe = regexp.MustCompile(`(?i)^\s*([A-Za-z]+)`)
	fromJoinRe       = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z0-9_."\[\]]+)`)
	updateTableRe    = regexp.MustCompile(`(?i)^\s*UPDATE\s+([A-Za-z0-9_."\[\]]+)`)
	insertTableRe    = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+([A-Za-z0-9_."\[\]]+)`)
	deleteTableRe    = regexp.MustCompile(`(?i)^\s*DELETE\s+FROM\s+([A-Za-z0-9_."\[\]]+)`)
	setColumnRe      = regexp.MustCompile(`(?i)\bSET\s+(.+?)(?:\bWHERE\b|$)`)
	insertColumnsRe  = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+[A-Za-z0-9_."\[\]]+\s*\(([^)]*)\)`)
	fromListRe       = regexp.MustCompile(`(?i)\bFROM\s+([^;()]+?)(?:\b(?:WHERE|JOIN|INNER|LEFT|RIGHT|FULL|CROSS|GROUP|ORDER|HAVING|LIMIT|UNION|ON)\b|[;()]|$)`)
)

// Analyze implements Analyzer.
func (a *DefaultAnalyzer) Analyze(_ context.Context, sqlText string, hasDecisionTable bool) (Analysis, error) {
	trimmed := strings.TrimSpace(sqlText)

	if trimmed == "" {
		if hasDecisionTable {
			return Analysis{OperationKind: model.OpDecisionTable}, nil
		}
		return Analysis{OperationKind: model.OpOther}, nil
	}

	kind := classify(trimmed)
	tables := extractTables(trimmed, kind)
	columns := extractColumns(trimmed, kind, tables)

	return Analysis{OperationKind: kind, Tables: tables, Columns: columns}, nil
}

func classify(sqlText string) model.OperationKind {
	m := leadingKeywordRe.FindStringSubmatch(sqlText)
	if m == nil {
		return model.OpOther
	}
	switch strings.ToUpper(m[1]) {
	case "SELECT", "WITH":
		return model.OpSelect
	case "INSERT":
		return model.OpInsert
	case "UPDATE":
		return model.OpUpdate
	case "DELETE":
		return model.OpDelete
	default:
		return model.OpOther
	}
}

func extractTables(sqlText string, kind model.OperationKind) []model.TableRef {
	seen := map[string]model.TableRef{}

	add := func(raw string) {
		ref := parseTableRef(raw)
		if ref.TableName == "" {
			return
		}
		key := ref.DatabaseName + "." + ref.TableName
		seen[key] = ref
	}

	switch kind {
	case model.OpUpdate:
		if m := updateTableRe.FindStringSubmatch(sqlText); m != nil {
			add(m[1])
		}
	case model.OpInsert:
		if m := insertTableRe.FindStringSubmatch(sqlText); m != nil {
			add(m[1])
		}
	case model.OpDelete:
		if m := deleteTableRe.FindStringSubmatch(sqlText); m != nil {
			add(m[1])
		}
	}

	for _, m := range fromJoinRe.FindAllStringSubmatch(sqlText, -1) {
		add(m[1])
	}

	// A comma-separated FROM list names further tables after its first one.
	for _, m := range fromListRe.FindAllStringSubmatch(sqlText, -1) {
		for _, item := range strings.Split(m[1], ",")[1:] {
			if fields := strings.Fields(item); len(fields) > 0 {
				add(fields[0])
			}
		}
	}

	out := make([]model.TableRef, 0, len(seen))
	for _, ref := range seen {
		out = append(out, ref)
	}
	return out
}

func parseTableRef(raw string) model.TableRef {
	raw = strings.Trim(raw, `"[]`)
	raw = strings.ReplaceAll(raw, "]", "")
	raw = strings.ReplaceAll(raw, "[", "")
	raw = strings.ReplaceAll(raw, `"`, "")

	parts := strings.Split(raw, ".")
	switch len(parts) {
	case 1:
		return model.TableRef{TableName: parts[0]}
	case 2:
		return model.TableRef{DatabaseName: parts[0], TableName: parts[1]}
	default:
		// database.schema.table — fold schema into the database segment.
		return model.TableRef{DatabaseName: strings.Join(parts[:len(parts)-1], "."), TableName: parts[len(parts)-1]}
	}
}

// extractColumns is intentionally shallow: it only recognizes the
// UPDATE SET list and the INSERT column list as column writes, and
// reports no column-level detail for SELECT/DELETE beyond the table
// itself (a table-level READ for SELECT, a table-level WRITE for DELETE) — a
// real parser can report finer-grained reads when substituted in.
func extractColumns(sqlText string, kind model.OperationKind, tables []model.TableRef) []model.Dependency {
	var cols []string
	op := model.ColumnRead

	switch kind {
	case model.OpUpdate:
		if m := setColumnRe.FindStringSubmatch(sqlText); m != nil {
			cols = assignedColumnNames(m[1])
		}
		op = model.ColumnWrite
	case model.OpInsert:
		if m := insertColumnsRe.FindStringSubmatch(sqlText); m != nil {
			cols = splitColumnList(m[1])
		}
		op = model.ColumnWrite
	}

	if len(cols) == 0 || len(tables) == 0 {
		out := make([]model.Dependency, 0, len(tables))
		for _, t := range tables {
			readOp := model.ColumnRead
			if kind == model.OpDelete {
				readOp = model.ColumnWrite
			}
			out = append(out, model.Dependency{DatabaseName: t.DatabaseName, TableName: t.TableName, ColumnOp: readOp})
		}
		return out
	}

	out := make([]model.Dependency, 0, len(cols)*len(tables))
	for _, t := range tables {
		for _, c := range cols {
			out = append(out, model.Dependency{DatabaseName: t.DatabaseName, TableName: t.TableName, ColumnName: c, ColumnOp: op})
		}
	}
	return out
}

func assignedColumnNames(setClause string) []string {
	var cols []string
	for _, assignment := range strings.Split(setClause, ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		name = strings.Trim(name, `"[]`)
		if name != "" {
			cols = append(cols, name)
		}
	}
	return cols
}

func splitColumnList(raw string) []string {
	var cols []string
	for _, c := range strings.Split(raw, ",") {
		name := strings.TrimSpace(c)
		name = strings.Trim(name, `"[]`)
		if name != "" {
			cols = append(cols, name)
		}
	}
	return cols
}
