package dependency_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/r3e-labs/brm-core/internal/dependency"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store/storetest"
)

func seed(t *testing.T, s *storetest.Store, name, group string, parent *int64) *model.Rule {
	t.Helper()
	r, err := s.CreateRule(context.Background(), model.Actor{User: "creator", Group: group}, &model.Rule{
		Name:         name,
		OwnerGroup:   group,
		Status:       model.StatusActive,
		Version:      1,
		ParentRuleID: parent,
	}, nil)
	if err != nil {
		t.Fatalf("seed rule %s: %v", name, err)
	}
	return r
}

func TestBuildAddsParentChildEdges(t *testing.T) {
	s := storetest.New()
	parent := seed(t, s, "parent", "BG1", nil)
	child := seed(t, s, "child", "BG1", &parent.RuleID)

	g, err := dependency.New(s).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out := g.Outbound(parent.RuleID)
	if len(out) != 1 || out[0] != child.RuleID {
		t.Fatalf("Outbound(parent) = %v, want [%d]", out, child.RuleID)
	}
}

func TestRootsExcludesNodesWithInboundEdges(t *testing.T) {
	s := storetest.New()
	parent := seed(t, s, "parent", "BG1", nil)
	seed(t, s, "child", "BG1", &parent.RuleID)

	g, err := dependency.New(s).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	roots := g.Roots()
	if len(roots) != 1 || roots[0] != parent.RuleID {
		t.Fatalf("Roots() = %v, want [%d]", roots, parent.RuleID)
	}
}

func TestBuildConflictEdgeRunsRuleOneToRuleTwo(t *testing.T) {
	s := storetest.New()
	r1 := seed(t, s, "r1", "BG1", nil)
	r2 := seed(t, s, "r2", "BG1", nil)
	s.SeedConflict(model.Conflict{RuleID1: r1.RuleID, RuleID2: r2.RuleID, Priority: 1})

	g, err := dependency.New(s).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out := g.Outbound(r1.RuleID)
	if len(out) != 1 || out[0] != r2.RuleID {
		t.Fatalf("Outbound(r1) = %v, want [%d]", out, r2.RuleID)
	}
}

func TestBuildCompositeExpressionEdgesFromReferencedRules(t *testing.T) {
	s := storetest.New()
	r1 := seed(t, s, "r1", "BG1", nil)
	composite := seed(t, s, "composite", "BG1", nil)
	s.SeedCompositeExpression(model.CompositeExpression{RuleID: composite.RuleID, LogicExpr: "Rule" + strconv.FormatInt(r1.RuleID, 10) + " AND TRUE"})

	g, err := dependency.New(s).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out := g.Outbound(r1.RuleID)
	if len(out) != 1 || out[0] != composite.RuleID {
		t.Fatalf("Outbound(r1) = %v, want [%d]", out, composite.RuleID)
	}
}
