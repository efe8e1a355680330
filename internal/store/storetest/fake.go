// Package storetest provides an in-memory fake implementing store.Store,
// used by the unit tests of packages that depend on the Store
// abstraction without a running Postgres instance.
package storetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"
)

// Store is a minimal in-memory fake of store.Store: enough surface for
// exercising the components built on top of it, not a database.
type Store struct {
	mu sync.Mutex

	nextRuleID     int64
	nextScheduleID int64
	nextLogID      int64
	nextEntryID    int64

	rules         map[int64]model.Rule
	dependencies  map[int64][]model.Dependency
	globalLinks   []model.GlobalCriticalLink
	conflicts     []model.Conflict
	composites    []model.CompositeExpression
	columnMaps    []model.ColumnMapping
	approvals     map[string][]model.ApprovalRow // key: ruleID|actionType
	groups        map[string]model.Group
	locks         map[int64]model.Lock
	schedules     map[int64]model.Schedule
	executionLogs []model.ExecutionLogEntry
	validations   map[string][]model.Validation // key: tableName
	validationLog []model.ValidationResult
	auditLog      []model.AuditEntry

	tables map[string]map[string][]interface{} // table -> column -> values, for validation primitives

	sqlOutcomes map[string]sqlOutcome // sqlText -> forced outcome, for executor tests
}

type sqlOutcome struct {
	pass     bool
	rowCount int
	err      error
}

// New constructs an empty fake store.
func New() *Store {
	return &Store{
		rules:        map[int64]model.Rule{},
		dependencies: map[int64][]model.Dependency{},
		approvals:    map[string][]model.ApprovalRow{},
		groups:       map[string]model.Group{},
		locks:        map[int64]model.Lock{},
		schedules:    map[int64]model.Schedule{},
		validations:  map[string][]model.Validation{},
		tables:       map[string]map[string][]interface{}{},
		sqlOutcomes:  map[string]sqlOutcome{},
	}
}

// SeedSQLOutcome forces ExecuteRuleSQL(sqlText) to report the given
// outcome instead of its default (pass, no rows, no error).
func (s *Store) SeedSQLOutcome(sqlText string, pass bool, rowCount int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sqlOutcomes[sqlText] = sqlOutcome{pass: pass, rowCount: rowCount, err: err}
}

// ExecuteRuleSQL reports the outcome seeded for sqlText via
// SeedSQLOutcome, defaulting to an unconditional pass with no rows.
func (s *Store) ExecuteRuleSQL(ctx context.Context, sqlText string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.sqlOutcomes[sqlText]
	if !ok {
		return true, 0, nil
	}
	return out.pass, out.rowCount, out.err
}

// SeedGroup registers a group and its approvers for approval pipeline tests.
func (s *Store) SeedGroup(name string, approvers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[name] = model.Group{Name: name, Approvers: approvers}
}

// SeedConflict registers a conflict edge for dependency graph tests.
func (s *Store) SeedConflict(c model.Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, c)
}

// SeedGlobalCriticalLink registers a global-critical link for dependency graph tests.
func (s *Store) SeedGlobalCriticalLink(l model.GlobalCriticalLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalLinks = append(s.globalLinks, l)
}

// SeedCompositeExpression registers a composite expression for dependency graph tests.
func (s *Store) SeedCompositeExpression(c model.CompositeExpression) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composites = append(s.composites, c)
}

func pipelineKey(ruleID int64, actionType model.ActionType) string {
	return strconv.FormatInt(ruleID, 10) + "|" + string(actionType)
}

func (s *Store) CreateRule(ctx context.Context, actor model.Actor, r *model.Rule, deps []model.Dependency) (*model.Rule, error) {
	if actor.User == "" {
		return nil, brmerrors.InvalidInput("actor", "actor identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.OwnerGroup == r.OwnerGroup && existing.Name == r.Name {
			return nil, brmerrors.DuplicateName(r.OwnerGroup, r.Name)
		}
	}

	s.nextRuleID++
	out := *r
	out.RuleID = s.nextRuleID
	out.CreatedBy = actor.User
	out.UpdatedBy = actor.User
	out.CreatedAt = time.Now()
	out.UpdatedAt = time.Now()
	s.rules[out.RuleID] = out
	s.dependencies[out.RuleID] = deps

	result := out
	return &result, nil
}

func (s *Store) GetRule(ctx context.Context, ruleID int64) (*model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, brmerrors.NotFound("rule", ruleID)
	}
	out := r
	return &out, nil
}

func (s *Store) FindRuleByName(ctx context.Context, ownerGroup, name string) (*model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.OwnerGroup == ownerGroup && r.Name == name {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateRule(ctx context.Context, actor model.Actor, r *model.Rule, deps []model.Dependency) (*model.Rule, error) {
	if actor.User == "" {
		return nil, brmerrors.InvalidInput("actor", "actor identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[r.RuleID]
	if !ok {
		return nil, brmerrors.NotFound("rule", r.RuleID)
	}
	for _, other := range s.rules {
		if other.RuleID != r.RuleID && other.OwnerGroup == existing.OwnerGroup && other.Name == r.Name {
			return nil, brmerrors.DuplicateName(existing.OwnerGroup, r.Name)
		}
	}

	out := *r
	out.OwnerGroup = existing.OwnerGroup
	out.Version = existing.Version + 1
	out.UpdatedBy = actor.User
	out.UpdatedAt = time.Now()
	out.CreatedBy = existing.CreatedBy
	out.CreatedAt = existing.CreatedAt
	s.rules[out.RuleID] = out
	if deps != nil {
		s.dependencies[out.RuleID] = deps
	}

	result := out
	return &result, nil
}

func (s *Store) ListRules(ctx context.Context, filter store.RuleFilter) ([]model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Rule
	for _, r := range s.rules {
		if filter.OwnerGroup != "" && r.OwnerGroup != filter.OwnerGroup {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.ParentID != nil && (r.ParentRuleID == nil || *r.ParentRuleID != *filter.ParentID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) DeleteRule(ctx context.Context, actor model.Actor, ruleID int64) error {
	if actor.User == "" {
		return brmerrors.InvalidInput("actor", "actor identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[ruleID]; !ok {
		return brmerrors.NotFound("rule", ruleID)
	}
	delete(s.rules, ruleID)
	delete(s.dependencies, ruleID)
	return nil
}

func (s *Store) ChildRules(ctx context.Context, ruleID int64) ([]model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Rule
	for _, r := range s.rules {
		if r.ParentRuleID != nil && *r.ParentRuleID == ruleID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) AllRules(ctx context.Context) ([]model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ReplaceDependencies(ctx context.Context, ruleID int64, deps []model.Dependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependencies[ruleID] = deps
	return nil
}

func (s *Store) DependenciesForRule(ctx context.Context, ruleID int64) ([]model.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dependencies[ruleID], nil
}

func (s *Store) AllDependencies(ctx context.Context) ([]model.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Dependency
	for _, deps := range s.dependencies {
		out = append(out, deps...)
	}
	return out, nil
}

func (s *Store) AllGlobalCriticalLinks(ctx context.Context) ([]model.GlobalCriticalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalLinks, nil
}

func (s *Store) AllConflicts(ctx context.Context) ([]model.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflicts, nil
}

func (s *Store) AllCompositeExpressions(ctx context.Context) ([]model.CompositeExpression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composites, nil
}

func (s *Store) AllColumnMappings(ctx context.Context) ([]model.ColumnMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columnMaps, nil
}

func (s *Store) ReplacePipeline(ctx context.Context, ruleID int64, actionType model.ActionType, rows []model.ApprovalRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[pipelineKey(ruleID, actionType)] = rows
	return nil
}

func (s *Store) PipelineRows(ctx context.Context, ruleID int64, actionType model.ActionType) ([]model.ApprovalRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.approvals[pipelineKey(ruleID, actionType)]
	out := make([]model.ApprovalRow, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) UpdateApprovalRow(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string, flag model.ApprovedFlag, decidedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipelineKey(ruleID, actionType)
	rows := s.approvals[key]
	for i := range rows {
		if rows[i].GroupName == group && rows[i].Username == user && rows[i].ApprovedFlag == model.FlagPending {
			rows[i].ApprovedFlag = flag
			decided := decidedAt
			rows[i].DecidedAt = &decided
			s.approvals[key] = rows
			return nil
		}
	}
	return brmerrors.NotFound("approval row", ruleID)
}

func (s *Store) Group(ctx context.Context, name string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return nil, brmerrors.NotFound("group", name)
	}
	out := g
	return &out, nil
}

func (s *Store) GetLock(ctx context.Context, ruleID int64) (*model.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ruleID]
	if !ok {
		return nil, nil
	}
	out := l
	return &out, nil
}

func (s *Store) UpsertLock(ctx context.Context, l *model.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[l.RuleID] = *l
	return nil
}

func (s *Store) DeactivateLock(ctx context.Context, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ruleID]
	if !ok {
		return nil
	}
	l.ActiveLock = false
	s.locks[ruleID] = l
	return nil
}

func (s *Store) DueSchedules(ctx context.Context, asOf time.Time) ([]model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Schedule
	for _, sc := range s.schedules {
		if sc.Status == model.ScheduleScheduled && !sc.FireAt.After(asOf) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Store) UpdateScheduleStatus(ctx context.Context, scheduleID int64, status model.ScheduleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return brmerrors.NotFound("schedule", scheduleID)
	}
	sc.Status = status
	s.schedules[scheduleID] = sc
	return nil
}

func (s *Store) CreateSchedule(ctx context.Context, sc *model.Schedule) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextScheduleID++
	out := *sc
	out.ScheduleID = s.nextScheduleID
	out.CreatedAt = time.Now()
	s.schedules[out.ScheduleID] = out
	result := out
	return &result, nil
}

func (s *Store) AppendExecutionLog(ctx context.Context, e *model.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	e.LogID = s.nextLogID
	s.executionLogs = append(s.executionLogs, *e)
	return nil
}

func (s *Store) AllValidations(ctx context.Context, tableName string) ([]model.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validations[tableName], nil
}

func (s *Store) AppendValidationLog(ctx context.Context, r *model.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validationLog = append(s.validationLog, *r)
	return nil
}

func (s *Store) CountNull(ctx context.Context, table, column string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, v := range s.tables[table][column] {
		if v == nil {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountOutOfRange(ctx context.Context, table, column string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, v := range s.tables[table][column] {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		if f < min || f > max {
			count++
		}
	}
	return count, nil
}

func (s *Store) SampleNonNull(ctx context.Context, table, column string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, v := range s.tables[table][column] {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountOrphans(ctx context.Context, table, column, refTable, refColumn string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := map[interface{}]bool{}
	for _, v := range s.tables[refTable][refColumn] {
		refs[v] = true
	}
	var count int64
	for _, v := range s.tables[table][column] {
		if v == nil {
			continue
		}
		if !refs[v] {
			count++
		}
	}
	return count, nil
}

// SeedColumn populates an in-memory column for the Data Validation
// Runner primitives (CountNull / CountOutOfRange / SampleNonNull /
// CountOrphans) to operate against.
func (s *Store) SeedColumn(table, column string, values ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = map[string][]interface{}{}
	}
	s.tables[table][column] = values
}

// SeedValidation registers a validation for AllValidations to return.
func (s *Store) SeedValidation(v model.Validation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[v.TableName] = append(s.validations[v.TableName], v)
}

func (s *Store) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEntryID++
	e.EntryID = s.nextEntryID
	e.ActionTimestamp = time.Now()
	s.auditLog = append(s.auditLog, *e)
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.auditLog {
		if filter.Actor != "" && e.ActionBy != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.TableName != "" && e.TableName != filter.TableName {
			continue
		}
		if filter.RecordID != nil && e.RecordID != *filter.RecordID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ store.Store = (*Store)(nil)
