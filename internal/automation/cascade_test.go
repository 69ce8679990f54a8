package automation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/internal/models"
)

func TestCascadeGuard_Depth(t *testing.T) {
	g := NewCascadeGuard(0)
	assert.Equal(t, DefaultMaxCascadeDepth, g.MaxDepth())

	g = NewCascadeGuard(2)
	for depth, want := range []bool{false, false, false, true, true} {
		assert.Equal(t, want, g.Exceeded(Event{Depth: depth}), "depth %d", depth)
	}
}

func TestCascadeGuard_AdmitOncePerChain(t *testing.T) {
	g := NewCascadeGuard(5)
	a := models.AutomationRule{ID: "a"}
	b := models.AutomationRule{ID: "b"}

	root := Event{Type: models.TriggerStatusChanged, ScopeID: "b1"}
	assert.True(t, g.Admit(a, root))

	child := childEvent(root, a, Event{Type: models.TriggerPriorityChanged})
	assert.False(t, g.Admit(a, child))
	assert.True(t, g.Admit(b, child))

	grandchild := childEvent(child, b, Event{Type: models.TriggerTagAdded})
	assert.False(t, g.Admit(a, grandchild))
	assert.False(t, g.Admit(b, grandchild))
	assert.Equal(t, []string{"a", "b"}, grandchild.Chain)
}

func TestChildEvent(t *testing.T) {
	parent := Event{ScopeID: "b1", Depth: 1, Chain: []string{"x"}}
	followUp := Event{Type: models.TriggerTagAdded, EntityID: "t1", Metadata: map[string]interface{}{"k": "v"}}

	child := childEvent(parent, models.AutomationRule{ID: "r1"}, followUp)

	assert.Equal(t, "b1", child.ScopeID, "inherits scope when unset")
	assert.Equal(t, 2, child.Depth)
	assert.Equal(t, []string{"x", "r1"}, child.Chain)
	assert.Equal(t, "r1", child.Metadata["triggered_by_rule"])
	assert.Equal(t, "v", child.Metadata["k"])

	assert.Equal(t, []string{"x"}, parent.Chain, "parent chain is not aliased")
	_, touched := followUp.Metadata["triggered_by_rule"]
	assert.False(t, touched, "follow-up metadata is copied")

	sibling := childEvent(parent, models.AutomationRule{ID: "r2"}, Event{Type: models.TriggerTagAdded, ScopeID: "b2"})
	assert.Equal(t, "b2", sibling.ScopeID)
	assert.Equal(t, []string{"x", "r1"}, child.Chain)
}

func TestRecentLog_Ring(t *testing.T) {
	r := NewRecentLog(3)
	assert.Equal(t, 3, r.Capacity())
	assert.Empty(t, r.Latest(0))

	for i := 1; i <= 5; i++ {
		r.Add(ExecutionResult{RuleID: fmt.Sprintf("r%d", i)})
	}
	assert.Equal(t, 3, r.Len())

	latest := r.Latest(0)
	require.Len(t, latest, 3)
	assert.Equal(t, "r5", latest[0].RuleID)
	assert.Equal(t, "r4", latest[1].RuleID)
	assert.Equal(t, "r3", latest[2].RuleID)

	assert.Len(t, r.Latest(2), 2)
	assert.Len(t, r.Latest(50), 3)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Latest(0))

	assert.Equal(t, DefaultRecentCapacity, NewRecentLog(0).Capacity())
}

func TestRecentLog_ConcurrentAdds(t *testing.T) {
	r := NewRecentLog(100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Add(ExecutionResult{RuleID: fmt.Sprintf("w%d-%d", w, i)})
				_ = r.Latest(5)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 100, r.Len())
}
