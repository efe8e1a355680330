// Package store defines the persistence façade the rest of the engine
// depends on. Every other component reaches the database exclusively
// through this interface; only internal/store/postgres knows SQL.
package store

import (
	"context"
	"time"

	"github.com/r3e-labs/brm-core/internal/model"
)

// RuleFilter narrows ListRules results.
type RuleFilter struct {
	OwnerGroup string
	Status     model.RuleStatus
	ParentID   *int64
	Limit      int
	Offset     int
}

// AuditFilter narrows audit log reads.
type AuditFilter struct {
	Actor     string
	Action    string
	TableName string
	RecordID  *int64
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Store is the persistence façade over the relational backend. All
// mutating methods take an explicit model.Actor; implementations must
// reject calls with a zero Actor.
type Store interface {
	// Rules
	CreateRule(ctx context.Context, actor model.Actor, r *model.Rule, deps []model.Dependency) (*model.Rule, error)
	GetRule(ctx context.Context, ruleID int64) (*model.Rule, error)
	FindRuleByName(ctx context.Context, ownerGroup, name string) (*model.Rule, error)
	UpdateRule(ctx context.Context, actor model.Actor, r *model.Rule, deps []model.Dependency) (*model.Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]model.Rule, error)
	DeleteRule(ctx context.Context, actor model.Actor, ruleID int64) error
	ChildRules(ctx context.Context, ruleID int64) ([]model.Rule, error)
	AllRules(ctx context.Context) ([]model.Rule, error)

	// Dependencies
	ReplaceDependencies(ctx context.Context, ruleID int64, deps []model.Dependency) error
	DependenciesForRule(ctx context.Context, ruleID int64) ([]model.Dependency, error)
	AllDependencies(ctx context.Context) ([]model.Dependency, error)

	// Dependency graph raw edges
	AllGlobalCriticalLinks(ctx context.Context) ([]model.GlobalCriticalLink, error)
	AllConflicts(ctx context.Context) ([]model.Conflict, error)
	AllCompositeExpressions(ctx context.Context) ([]model.CompositeExpression, error)
	AllColumnMappings(ctx context.Context) ([]model.ColumnMapping, error)

	// Approvals
	ReplacePipeline(ctx context.Context, ruleID int64, actionType model.ActionType, rows []model.ApprovalRow) error
	PipelineRows(ctx context.Context, ruleID int64, actionType model.ActionType) ([]model.ApprovalRow, error)
	UpdateApprovalRow(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string, flag model.ApprovedFlag, decidedAt time.Time) error
	Group(ctx context.Context, name string) (*model.Group, error)

	// Locks
	GetLock(ctx context.Context, ruleID int64) (*model.Lock, error)
	UpsertLock(ctx context.Context, l *model.Lock) error
	DeactivateLock(ctx context.Context, ruleID int64) error

	// Schedules
	DueSchedules(ctx context.Context, asOf time.Time) ([]model.Schedule, error)
	UpdateScheduleStatus(ctx context.Context, scheduleID int64, status model.ScheduleStatus) error
	CreateSchedule(ctx context.Context, s *model.Schedule) (*model.Schedule, error)

	// Execution log
	AppendExecutionLog(ctx context.Context, e *model.ExecutionLogEntry) error

	// Validations
	AllValidations(ctx context.Context, tableName string) ([]model.Validation, error)
	AppendValidationLog(ctx context.Context, r *model.ValidationResult) error
	CountNull(ctx context.Context, table, column string) (int64, error)
	CountOutOfRange(ctx context.Context, table, column string, min, max float64) (int64, error)
	SampleNonNull(ctx context.Context, table, column string, limit int) ([]string, error)
	CountOrphans(ctx context.Context, table, column, refTable, refColumn string) (int64, error)

	// Audit
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error)

	// Execution
	// ExecuteRuleSQL runs a rule's SQL text against the backend and
	// reports the pass condition: no rows returned, or the first row's
	// first column equals integer 1. rowCount is the number of rows the
	// statement produced (0 for DML with no RETURNING clause).
	ExecuteRuleSQL(ctx context.Context, sqlText string) (pass bool, rowCount int, err error)

	// Transactions
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
