// Package dependency assembles the execution DAG from parent/child
// relationships, global-critical links, conflicts, and composite
// expressions.
package dependency

import (
	"context"
	"regexp"
	"strconv"

	"github.com/r3e-labs/brm-core/internal/store"
)

// Graph is a read-only adjacency map from rule_id to the set of rule_ids
// that depend on it (child-ward edges).
type Graph struct {
	adjacency map[int64]map[int64]bool
	allNodes  map[int64]bool
}

// Outbound returns the rule ids that rid gates, in no particular order.
func (g *Graph) Outbound(rid int64) []int64 {
	neighbors := g.adjacency[rid]
	out := make([]int64, 0, len(neighbors))
	for n := range neighbors {
		out = append(out, n)
	}
	return out
}

// Roots returns every node with no inbound edge in the graph.
func (g *Graph) Roots() []int64 {
	hasInbound := map[int64]bool{}
	for _, targets := range g.adjacency {
		for t := range targets {
			hasInbound[t] = true
		}
	}
	var roots []int64
	for n := range g.allNodes {
		if !hasInbound[n] {
			roots = append(roots, n)
		}
	}
	return roots
}

var compositeRuleRefRe = regexp.MustCompile(`Rule(\d+)`)

// Builder reads the raw edge tables and produces a Graph. It is pure and
// read-only: it never mutates the store.
type Builder struct {
	store store.Store
}

// New constructs a Builder.
func New(s store.Store) *Builder {
	return &Builder{store: s}
}

// Build assembles the full adjacency map from every edge source named in
// the specification: hierarchical parent/child, global-critical links,
// conflicts (always rule_id1 -> rule_id2; the row's priority is not
// consulted), and composite expressions referencing Rule<digits> tokens.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	g := &Graph{adjacency: map[int64]map[int64]bool{}, allNodes: map[int64]bool{}}

	addEdge := func(from, to int64) {
		if g.adjacency[from] == nil {
			g.adjacency[from] = map[int64]bool{}
		}
		g.adjacency[from][to] = true
		g.allNodes[from] = true
		g.allNodes[to] = true
	}

	rules, err := b.store.AllRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		g.allNodes[r.RuleID] = true
		if r.ParentRuleID != nil {
			addEdge(*r.ParentRuleID, r.RuleID)
		}
	}

	links, err := b.store.AllGlobalCriticalLinks(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		addEdge(l.GCRRuleID, l.TargetRuleID)
	}

	conflicts, err := b.store.AllConflicts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		// A conflict row carries one priority for the whole pair and rules
		// have no priority of their own to compare, so the edge always runs
		// rule_id1 -> rule_id2 and Priority is not read.
		addEdge(c.RuleID1, c.RuleID2)
	}

	composites, err := b.store.AllCompositeExpressions(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range composites {
		for _, m := range compositeRuleRefRe.FindAllStringSubmatch(c.LogicExpr, -1) {
			referencedID, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			addEdge(referencedID, c.RuleID)
		}
	}

	return g, nil
}
