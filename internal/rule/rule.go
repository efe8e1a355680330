// Package rule implements the Rule Lifecycle: the CRUD operations that
// enforce invariants, refresh dependencies via the SQL Analyzer, mutate
// state, and open approval pipelines.
package rule

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/r3e-labs/brm-core/internal/approval"
	"github.com/r3e-labs/brm-core/internal/lock"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/notifier"
	"github.com/r3e-labs/brm-core/internal/sqlanalyzer"
	"github.com/r3e-labs/brm-core/internal/store"
	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
)

// CreateInput is the structurally-validated input to Create.
type CreateInput struct {
	Name            string `validate:"required"`
	OwnerGroup      string `validate:"required"`
	SQLText         string `validate:"required_without=DecisionTableID"`
	RuleType        string
	ParentRuleID    *int64
	GroupID         *int64
	IsGlobal        bool
	CriticalRule    bool
	CriticalScope   model.CriticalScope `validate:"omitempty,oneof=NONE GROUP CLUSTER GLOBAL"`
	CDCType         string
	DecisionTableID *int64
}

// UpdateInput is the structurally-validated input to Update.
type UpdateInput struct {
	RuleID          int64 `validate:"required"`
	Name            string `validate:"required"`
	SQLText         string `validate:"required_without=DecisionTableID"`
	RuleType        string
	ParentRuleID    *int64
	GroupID         *int64
	CriticalRule    bool
	CriticalScope   model.CriticalScope `validate:"omitempty,oneof=NONE GROUP CLUSTER GLOBAL"`
	CDCType         string
	DecisionTableID *int64
}

// Lifecycle implements rule Create/Update/Deactivate/Delete/ForceActivate.
type Lifecycle struct {
	store      store.Store
	analyzer   sqlanalyzer.Analyzer
	locks      *lock.Manager
	approvals  *approval.Machine
	notifier   notifier.Notifier
	log        *logger.Logger
	metrics    *metrics.Metrics
	validate   *validator.Validate
	adminGroup string
}

// Config bundles the Lifecycle's dependencies and tunables.
type Config struct {
	Store      store.Store
	Analyzer   sqlanalyzer.Analyzer
	Locks      *lock.Manager
	Approvals  *approval.Machine
	Notifier   notifier.Notifier
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	AdminGroup string
}

// New constructs a Lifecycle.
func New(cfg Config) *Lifecycle {
	return &Lifecycle{
		store:      cfg.Store,
		analyzer:   cfg.Analyzer,
		locks:      cfg.Locks,
		approvals:  cfg.Approvals,
		notifier:   cfg.Notifier,
		log:        cfg.Log,
		metrics:    cfg.Metrics,
		validate:   validator.New(),
		adminGroup: cfg.AdminGroup,
	}
}

func (l *Lifecycle) validateStruct(v interface{}) error {
	if err := l.validate.Struct(v); err != nil {
		return brmerrors.InvalidInput("input", err.Error())
	}
	return nil
}

func (l *Lifecycle) notifyBestEffort(ctx context.Context, subject, body string, recipients []string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(ctx, subject, body, recipients); err != nil && l.log != nil {
		l.log.WithContext(ctx).WithError(err).Warn("notifier failed")
	}
}

// Create inserts a new rule. Rejects DuplicateName on a name collision
// within the owner group, and AccessDenied if is_global is set by a
// non-Admin actor.
func (l *Lifecycle) Create(ctx context.Context, actor model.Actor, in CreateInput) (*model.Rule, error) {
	if err := l.validateStruct(in); err != nil {
		return nil, err
	}
	if in.IsGlobal && !actor.IsAdmin(l.adminGroup) {
		return nil, brmerrors.AccessDenied("only an admin may create a global rule")
	}

	existing, err := l.store.FindRuleByName(ctx, in.OwnerGroup, in.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, brmerrors.DuplicateName(in.OwnerGroup, in.Name)
	}

	hasDecisionTable := in.DecisionTableID != nil
	analysis, err := l.analyzer.Analyze(ctx, in.SQLText, hasDecisionTable)
	if err != nil {
		return nil, err
	}

	r := &model.Rule{
		Name:            in.Name,
		OwnerGroup:      in.OwnerGroup,
		SQLText:         in.SQLText,
		RuleType:        in.RuleType,
		ParentRuleID:    in.ParentRuleID,
		GroupID:         in.GroupID,
		OperationKind:   analysis.OperationKind,
		IsGlobal:        in.IsGlobal,
		CriticalRule:    in.CriticalRule,
		CriticalScope:   in.CriticalScope,
		CDCType:         in.CDCType,
		Status:          model.StatusInactive,
		ApprovalStatus:  model.ApprovalInProgress,
		LifecycleState:  model.LifecycleUnderApproval,
		Version:         1,
		DecisionTableID: in.DecisionTableID,
	}
	if r.CriticalScope == "" {
		r.CriticalScope = model.ScopeNone
	}

	deps := dependenciesFromAnalysis(analysis)

	var created *model.Rule
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		created, txErr = l.store.CreateRule(ctx, actor, r, deps)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "INSERT", created.RuleID, actor.User, nil, created)
	})
	if err != nil {
		return nil, err
	}

	if !created.IsGlobal {
		if err := l.triggerApprovalPipeline(ctx, created.RuleID, model.ActionCreateOrUpdate); err != nil {
			return nil, err
		}
	}

	l.notifyBestEffort(ctx, "rule created", "rule "+created.Name+" was created", []string{created.OwnerGroup})
	if l.log != nil {
		l.log.LogMutation(ctx, "create", created.RuleID, created.Version, nil)
	}
	return created, nil
}

// Update requires the caller to hold the rule's lock (Admin exempt). A
// global rule may only be updated by an Admin. It never elides an
// update as a no-op: version always increments and an audit entry is
// always written, even if every field matches the previous value.
func (l *Lifecycle) Update(ctx context.Context, actor model.Actor, in UpdateInput) (*model.Rule, error) {
	if err := l.validateStruct(in); err != nil {
		return nil, err
	}

	existing, err := l.store.GetRule(ctx, in.RuleID)
	if err != nil {
		return nil, err
	}

	if existing.IsGlobal && !actor.IsAdmin(l.adminGroup) {
		return nil, brmerrors.AccessDenied("only an admin may update a global rule")
	}

	if err := l.locks.RequireHeld(ctx, in.RuleID, actor, l.adminGroup); err != nil {
		return nil, err
	}

	if in.Name != existing.Name {
		dup, err := l.store.FindRuleByName(ctx, existing.OwnerGroup, in.Name)
		if err != nil {
			return nil, err
		}
		if dup != nil && dup.RuleID != existing.RuleID {
			return nil, brmerrors.DuplicateName(existing.OwnerGroup, in.Name)
		}
	}

	hasDecisionTable := in.DecisionTableID != nil
	analysis, err := l.analyzer.Analyze(ctx, in.SQLText, hasDecisionTable)
	if err != nil {
		return nil, err
	}

	next := *existing
	next.Name = in.Name
	next.SQLText = in.SQLText
	next.RuleType = in.RuleType
	next.ParentRuleID = in.ParentRuleID
	next.GroupID = in.GroupID
	next.OperationKind = analysis.OperationKind
	next.CriticalRule = in.CriticalRule
	next.CriticalScope = in.CriticalScope
	if next.CriticalScope == "" {
		next.CriticalScope = model.ScopeNone
	}
	next.CDCType = in.CDCType
	next.DecisionTableID = in.DecisionTableID
	next.Status = model.StatusInactive
	next.ApprovalStatus = model.ApprovalInProgress
	next.LifecycleState = model.LifecycleUnderApproval

	deps := dependenciesFromAnalysis(analysis)

	var updated *model.Rule
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		updated, txErr = l.store.UpdateRule(ctx, actor, &next, deps)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "UPDATE", updated.RuleID, actor.User, existing, updated)
	})
	if err != nil {
		return nil, err
	}

	if err := l.triggerApprovalPipeline(ctx, updated.RuleID, model.ActionCreateOrUpdate); err != nil {
		return nil, err
	}

	l.notifyBestEffort(ctx, "rule updated", "rule "+updated.Name+" was updated", []string{updated.OwnerGroup})
	if l.log != nil {
		l.log.LogMutation(ctx, "update", updated.RuleID, updated.Version, nil)
	}
	return updated, nil
}

// Deactivate requires the caller to hold the lock and rejects if any
// child rule is still ACTIVE. Admin may bypass approval entirely via
// force. A global rule may only be deactivated by an Admin.
func (l *Lifecycle) Deactivate(ctx context.Context, actor model.Actor, ruleID int64, force bool) (*model.Rule, error) {
	existing, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if force && !actor.IsAdmin(l.adminGroup) {
		return nil, brmerrors.AccessDenied("only an admin may force-deactivate a rule")
	}
	if existing.IsGlobal && !actor.IsAdmin(l.adminGroup) {
		return nil, brmerrors.AccessDenied("only an admin may deactivate a global rule")
	}
	if !force {
		if err := l.locks.RequireHeld(ctx, ruleID, actor, l.adminGroup); err != nil {
			return nil, err
		}
	}

	children, err := l.store.ChildRules(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Status == model.StatusActive {
			return nil, brmerrors.InvariantViolation(ruleID, "rule has an active child; deactivate children first")
		}
	}

	next := *existing
	if force {
		next.Status = model.StatusInactive
		next.ApprovalStatus = model.ApprovalForceDeactiv
	} else {
		next.Status = model.StatusDeactivateInProgress
		next.ApprovalStatus = model.ApprovalDeactivateWIP
	}
	next.LifecycleState = model.LifecycleDeactivating

	var updated *model.Rule
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		updated, txErr = l.store.UpdateRule(ctx, actor, &next, nil)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "DEACTIVATE", updated.RuleID, actor.User, existing, updated)
	})
	if err != nil {
		return nil, err
	}

	if !force {
		if err := l.triggerApprovalPipeline(ctx, ruleID, model.ActionDeactivate); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// Delete requires the caller to hold the lock and rejects if any child
// rules or column-mapping references exist. Admin may force-delete only
// from INACTIVE status with no children and no references. A global
// rule may only be deleted by an Admin.
func (l *Lifecycle) Delete(ctx context.Context, actor model.Actor, ruleID int64, force bool) error {
	existing, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}

	if force && !actor.IsAdmin(l.adminGroup) {
		return brmerrors.AccessDenied("only an admin may force-delete a rule")
	}
	if existing.IsGlobal && !actor.IsAdmin(l.adminGroup) {
		return brmerrors.AccessDenied("only an admin may delete a global rule")
	}
	if !force {
		if err := l.locks.RequireHeld(ctx, ruleID, actor, l.adminGroup); err != nil {
			return err
		}
	}

	children, err := l.store.ChildRules(ctx, ruleID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return brmerrors.InvariantViolation(ruleID, "rule has child rules; remove them first")
	}

	mappings, err := l.store.AllColumnMappings(ctx)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if m.SourceRuleID == ruleID || m.TargetRuleID == ruleID {
			return brmerrors.InvariantViolation(ruleID, "rule is referenced by a column mapping")
		}
	}

	if force {
		if existing.Status != model.StatusInactive {
			return brmerrors.InvariantViolation(ruleID, "force-delete requires the rule to be INACTIVE")
		}
		return l.store.WithTx(ctx, func(ctx context.Context) error {
			if err := l.store.DeleteRule(ctx, actor, ruleID); err != nil {
				return err
			}
			return l.audit(ctx, "DELETE", ruleID, actor.User, existing, nil)
		})
	}

	next := *existing
	next.Status = model.StatusDeleteInProgress
	next.ApprovalStatus = model.ApprovalDeleteWIP
	next.LifecycleState = model.LifecycleDeleting

	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		updated, txErr := l.store.UpdateRule(ctx, actor, &next, nil)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "DELETE_REQUESTED", ruleID, actor.User, existing, updated)
	})
	if err != nil {
		return err
	}

	return l.triggerApprovalPipeline(ctx, ruleID, model.ActionDelete)
}

// Approve advances the approval pipeline for (ruleID, actionType) on
// behalf of group/user and, once the pipeline clears completely, applies
// the terminal state transition via OnApprovalComplete. While stages
// remain, the rule is set to status INACTIVE with approval_status
// APPROVAL_IN_PROGRESS.
func (l *Lifecycle) Approve(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string) error {
	outcome, err := l.approvals.Approve(ctx, ruleID, actionType, group, user)
	if err != nil {
		return err
	}
	if outcome.PipelineComplete {
		return l.OnApprovalComplete(ctx, ruleID, actionType)
	}

	existing, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	next := *existing
	next.ApprovalStatus = model.ApprovalInProgress
	next.Status = model.StatusInactive
	return l.store.WithTx(ctx, func(ctx context.Context) error {
		updated, txErr := l.store.UpdateRule(ctx, model.Actor{User: "system", Group: l.adminGroup}, &next, nil)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "APPROVAL_PROGRESS", updated.RuleID, user, existing, updated)
	})
}

// Reject advances the approval pipeline to REJECTED for (ruleID,
// actionType) on behalf of group/user, setting the rule's
// approval_status to REJECTED.
func (l *Lifecycle) Reject(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string) error {
	if err := l.approvals.Reject(ctx, ruleID, actionType, group, user); err != nil {
		return err
	}

	existing, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	next := *existing
	next.ApprovalStatus = model.ApprovalRejected
	next.Status = model.StatusInactive
	next.LifecycleState = model.LifecycleRejected

	return l.store.WithTx(ctx, func(ctx context.Context) error {
		updated, txErr := l.store.UpdateRule(ctx, model.Actor{User: "system", Group: l.adminGroup}, &next, nil)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "APPROVAL_REJECTED", updated.RuleID, user, existing, updated)
	})
}

// ForceActivate sets status=ACTIVE, approval_status=FORCE_ACTIVATED
// regardless of pipeline state. Admin-only.
func (l *Lifecycle) ForceActivate(ctx context.Context, actor model.Actor, ruleID int64) (*model.Rule, error) {
	if !actor.IsAdmin(l.adminGroup) {
		return nil, brmerrors.AccessDenied("only an admin may force-activate a rule")
	}

	existing, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	next := *existing
	next.Status = model.StatusActive
	next.ApprovalStatus = model.ApprovalForceActivated
	next.LifecycleState = model.LifecycleActive

	var updated *model.Rule
	err = l.store.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		updated, txErr = l.store.UpdateRule(ctx, actor, &next, nil)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "FORCE_ACTIVATE", updated.RuleID, actor.User, existing, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// OnApprovalComplete is the lifecycle completion handler invoked once an
// approval pipeline's last stage clears. It applies the terminal state
// transition appropriate to the action_type that triggered the pipeline.
func (l *Lifecycle) OnApprovalComplete(ctx context.Context, ruleID int64, actionType model.ActionType) error {
	existing, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}

	next := *existing
	switch actionType {
	case model.ActionCreateOrUpdate:
		next.Status = model.StatusActive
		next.ApprovalStatus = model.ApprovalApproved
		next.LifecycleState = model.LifecycleActive
	case model.ActionDeactivate:
		next.Status = model.StatusInactive
		next.ApprovalStatus = model.ApprovalApproved
		next.LifecycleState = model.LifecycleDeactivating
	case model.ActionDelete:
		return l.store.WithTx(ctx, func(ctx context.Context) error {
			if err := l.store.DeleteRule(ctx, model.Actor{User: "system", Group: l.adminGroup}, ruleID); err != nil {
				return err
			}
			return l.audit(ctx, "DELETE", ruleID, "system", existing, nil)
		})
	default:
		return brmerrors.InvariantViolation(ruleID, "unknown action type on pipeline completion")
	}

	return l.store.WithTx(ctx, func(ctx context.Context) error {
		updated, txErr := l.store.UpdateRule(ctx, model.Actor{User: "system", Group: l.adminGroup}, &next, nil)
		if txErr != nil {
			return txErr
		}
		return l.audit(ctx, "APPROVAL_COMPLETE", updated.RuleID, "system", existing, updated)
	})
}

func (l *Lifecycle) triggerApprovalPipeline(ctx context.Context, ruleID int64, actionType model.ActionType) error {
	groups, err := l.approvals.ImpactedGroups(ctx, ruleID)
	if err != nil {
		return err
	}
	return l.approvals.Trigger(ctx, ruleID, actionType, groups)
}

func (l *Lifecycle) audit(ctx context.Context, action string, ruleID int64, actionBy string, oldData, newData interface{}) error {
	var old, nw interface{}
	if oldData != nil {
		old = oldData
	}
	if newData != nil {
		nw = newData
	}
	entry := &model.AuditEntry{
		Action:    action,
		TableName: "rules",
		RecordID:  ruleID,
		ActionBy:  actionBy,
	}
	if old != nil {
		b, err := json.Marshal(old)
		if err != nil {
			return err
		}
		entry.OldData = b
	}
	if nw != nil {
		b, err := json.Marshal(nw)
		if err != nil {
			return err
		}
		entry.NewData = b
	}
	return l.store.AppendAudit(ctx, entry)
}

func dependenciesFromAnalysis(a sqlanalyzer.Analysis) []model.Dependency {
	return a.Columns
}
