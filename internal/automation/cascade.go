package automation

import "boardflow/internal/models"

// DefaultMaxCascadeDepth bounds how many times an action-caused event may re-enter the engine.
const DefaultMaxCascadeDepth = 5

// CascadeGuard stops runaway automation chains.
//
// The guard is stateless: depth and the chain of rules that already fired
// travel on each Event, so independent chains processed concurrently never
// share a budget. An originating event has depth 0; each event produced by
// an action is one deeper than the event that fired the action.
type CascadeGuard struct {
	maxDepth int
}

// NewCascadeGuard creates a guard; maxDepth <= 0 uses DefaultMaxCascadeDepth.
func NewCascadeGuard(maxDepth int) CascadeGuard {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCascadeDepth
	}
	return CascadeGuard{maxDepth: maxDepth}
}

func (g CascadeGuard) MaxDepth() int {
	return g.maxDepth
}

// Exceeded reports whether evt is past the depth limit and must match no rules.
func (g CascadeGuard) Exceeded(evt Event) bool {
	return evt.Depth > g.maxDepth
}

// Admit reports whether rule may fire on evt: a rule fires at most once per chain.
func (g CascadeGuard) Admit(rule models.AutomationRule, evt Event) bool {
	for _, id := range evt.Chain {
		if id == rule.ID {
			return false
		}
	}
	return true
}

// childEvent stamps follow-up with the cascade state inherited from parent
// after rule fired on it.
func childEvent(parent Event, rule models.AutomationRule, followUp Event) Event {
	child := followUp
	if child.ScopeID == "" {
		child.ScopeID = parent.ScopeID
	}
	child.Depth = parent.Depth + 1
	child.Chain = make([]string, 0, len(parent.Chain)+1)
	child.Chain = append(child.Chain, parent.Chain...)
	child.Chain = append(child.Chain, rule.ID)

	meta := make(map[string]interface{}, len(followUp.Metadata)+1)
	for k, v := range followUp.Metadata {
		meta[k] = v
	}
	meta["triggered_by_rule"] = rule.ID
	child.Metadata = meta
	return child
}
