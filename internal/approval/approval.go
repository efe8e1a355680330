// Package approval implements the multi-stage approval pipeline that
// gates a rule's create/update, deactivate, and delete mutations.
package approval

import (
	"context"
	"strconv"
	"time"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
)

// baseGroupOrder is the fixed stage ordering every pipeline follows;
// FINAL always appears last regardless of which of BG1/BG2/BG3 are
// impacted.
var baseGroupOrder = []string{"BG1", "BG2", "BG3"}

// FinalApprover is the identity stamped on the FINAL stage's single
// approval row.
const FinalApprover = "final-approver"

// Outcome reports what happened after Approve/Reject resolved a row.
type Outcome struct {
	PipelineComplete bool
	Rejected         bool
}

// Machine builds, advances, and closes approval pipelines.
type Machine struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New constructs a Machine.
func New(s store.Store, log *logger.Logger, m *metrics.Metrics) *Machine {
	return &Machine{store: s, log: log, metrics: m}
}

// ImpactedGroups computes the rule's own owner_group plus the
// owner_groups of every rule reachable by following hierarchical and
// column-mapping edges outward from it. Column-mapping traversal
// degrades gracefully: an absent or empty mapping table contributes no
// extra groups rather than erroring.
func (m *Machine) ImpactedGroups(ctx context.Context, ruleID int64) (map[string]bool, error) {
	groups := map[string]bool{}

	rule, err := m.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	groups[rule.OwnerGroup] = true

	visited := map[int64]bool{ruleID: true}
	queue := []int64{ruleID}

	mappings, err := m.store.AllColumnMappings(ctx)
	if err != nil {
		return nil, err
	}
	outwardMappings := map[int64][]int64{}
	for _, cm := range mappings {
		outwardMappings[cm.SourceRuleID] = append(outwardMappings[cm.SourceRuleID], cm.TargetRuleID)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := m.store.ChildRules(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.RuleID] {
				continue
			}
			visited[child.RuleID] = true
			groups[child.OwnerGroup] = true
			queue = append(queue, child.RuleID)
		}

		for _, targetID := range outwardMappings[current] {
			if visited[targetID] {
				continue
			}
			visited[targetID] = true
			target, err := m.store.GetRule(ctx, targetID)
			if err != nil {
				continue
			}
			groups[target.OwnerGroup] = true
			queue = append(queue, targetID)
		}
	}

	return groups, nil
}

// Trigger builds and replaces the pipeline for (ruleID, actionType). It
// emits a stage for each of BG1/BG2/BG3 present in impactedGroups, then
// always a FINAL stage, with one PENDING row per registered approver of
// each non-FINAL stage's group.
func (m *Machine) Trigger(ctx context.Context, ruleID int64, actionType model.ActionType, impactedGroups map[string]bool) error {
	var rows []model.ApprovalRow
	stage := 1

	for _, group := range baseGroupOrder {
		if !impactedGroups[group] {
			continue
		}
		g, err := m.store.Group(ctx, group)
		if err != nil {
			if brmerrors.As(err) != nil && brmerrors.As(err).Code == brmerrors.CodeNotFound {
				continue
			}
			return err
		}
		for _, approver := range g.Approvers {
			rows = append(rows, model.ApprovalRow{
				RuleID:       ruleID,
				GroupName:    group,
				Username:     approver,
				ApprovedFlag: model.FlagPending,
				Stage:        stage,
				ActionType:   actionType,
			})
		}
		stage++
	}

	rows = append(rows, model.ApprovalRow{
		RuleID:       ruleID,
		GroupName:    "FINAL",
		Username:     FinalApprover,
		ApprovedFlag: model.FlagPending,
		Stage:        stage,
		ActionType:   actionType,
	})

	return m.store.ReplacePipeline(ctx, ruleID, actionType, rows)
}

// PipelineRows returns the current rows for (ruleID, actionType), most
// useful for inspection and tests; the state machine itself only needs
// the rows transiently inside Approve/Reject.
func (m *Machine) PipelineRows(ctx context.Context, ruleID int64, actionType model.ActionType) ([]model.ApprovalRow, error) {
	return m.store.PipelineRows(ctx, ruleID, actionType)
}

// currentStage returns the minimum stage index with any PENDING row, or
// 0 if the pipeline is complete.
func currentStage(rows []model.ApprovalRow) int {
	min := 0
	for _, r := range rows {
		if r.ApprovedFlag != model.FlagPending {
			continue
		}
		if min == 0 || r.Stage < min {
			min = r.Stage
		}
	}
	return min
}

// Approve flips one PENDING row at the current active stage to
// APPROVED. Only rows at the minimum unapproved stage are actionable,
// and a pipeline holding a REJECTED row accepts no further approvals.
func (m *Machine) Approve(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string) (Outcome, error) {
	rows, err := m.store.PipelineRows(ctx, ruleID, actionType)
	if err != nil {
		return Outcome{}, err
	}
	for _, r := range rows {
		if r.ApprovedFlag == model.FlagRejected {
			return Outcome{}, brmerrors.InvariantViolation(ruleID, "pipeline was rejected; no further approvals are accepted")
		}
	}

	active := currentStage(rows)
	if active == 0 {
		return Outcome{}, brmerrors.InvariantViolation(ruleID, "pipeline has no pending approvals")
	}

	target, err := findActionableRow(rows, active, group, user)
	if err != nil {
		return Outcome{}, err
	}

	if err := m.store.UpdateApprovalRow(ctx, ruleID, actionType, target.GroupName, target.Username, model.FlagApproved, time.Now()); err != nil {
		return Outcome{}, err
	}
	if m.log != nil {
		m.log.LogApproval(ctx, ruleID, string(actionType), group, user, true)
	}
	if m.metrics != nil {
		m.metrics.RecordApprovalTransition(strconv.Itoa(target.Stage), "approved")
	}

	rows, err = m.store.PipelineRows(ctx, ruleID, actionType)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{PipelineComplete: currentStage(rows) == 0}, nil
}

// Reject flips one PENDING row to REJECTED and abandons the pipeline.
// Remaining PENDING rows are preserved for audit but have no further
// effect once a rejection has occurred.
func (m *Machine) Reject(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string) error {
	rows, err := m.store.PipelineRows(ctx, ruleID, actionType)
	if err != nil {
		return err
	}

	active := currentStage(rows)
	if active == 0 {
		return brmerrors.InvariantViolation(ruleID, "pipeline has no pending approvals")
	}

	target, err := findActionableRow(rows, active, group, user)
	if err != nil {
		return err
	}

	if err := m.store.UpdateApprovalRow(ctx, ruleID, actionType, target.GroupName, target.Username, model.FlagRejected, time.Now()); err != nil {
		return err
	}
	if m.log != nil {
		m.log.LogApproval(ctx, ruleID, string(actionType), group, user, false)
	}
	if m.metrics != nil {
		m.metrics.RecordApprovalTransition(strconv.Itoa(target.Stage), "rejected")
	}
	return nil
}

func findActionableRow(rows []model.ApprovalRow, activeStage int, group, user string) (model.ApprovalRow, error) {
	for _, r := range rows {
		if r.Stage == activeStage && r.ApprovedFlag == model.FlagPending && r.GroupName == group && r.Username == user {
			return r, nil
		}
	}
	return model.ApprovalRow{}, brmerrors.InvariantViolation(0, "no actionable pending approval for this group/user at the current stage")
}
