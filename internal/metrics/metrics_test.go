package metrics

import (
	"sync"
	"testing"
)

func TestIncExecution(t *testing.T) {
	Reset()

	tests := []struct {
		name       string
		status     string
		actionType string
	}{
		{name: "completed change_status", status: "completed", actionType: "change_status"},
		{name: "failed rag query", status: "failed", actionType: "synseekr_rag_query"},
		{name: "completed again", status: "completed", actionType: "change_status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := AutomationSnapshot()
			IncExecution(tt.status, tt.actionType)
			after := AutomationSnapshot()

			if after.ByStatus[tt.status] != before.ByStatus[tt.status]+1 {
				t.Errorf("status %s = %d, want %d", tt.status, after.ByStatus[tt.status], before.ByStatus[tt.status]+1)
			}
			if after.ByActionType[tt.actionType] != before.ByActionType[tt.actionType]+1 {
				t.Errorf("action %s not incremented", tt.actionType)
			}
		})
	}
}

func TestAutomationCounters_Concurrent(t *testing.T) {
	Reset()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				IncEvent()
				IncCascadeStop()
				IncExecution("completed", "add_tag")
			}
		}()
	}
	wg.Wait()

	s := AutomationSnapshot()
	want := uint64(goroutines * perGoroutine)
	if s.Events != want {
		t.Errorf("events = %d, want %d", s.Events, want)
	}
	if s.CascadeStops != want {
		t.Errorf("cascade stops = %d, want %d", s.CascadeStops, want)
	}
	if s.ByActionType["add_tag"] != want {
		t.Errorf("add_tag = %d, want %d", s.ByActionType["add_tag"], want)
	}
}

func TestAutomationSnapshot_Isolation(t *testing.T) {
	Reset()

	IncExecution("failed", "ai_summarize")
	snap := AutomationSnapshot()
	snap.ByStatus["failed"] = 100

	if got := AutomationSnapshot().ByStatus["failed"]; got != 1 {
		t.Errorf("snapshot mutation leaked: failed = %d, want 1", got)
	}

	IncLedgerError()
	if got := AutomationSnapshot().LedgerErrors; got != 1 {
		t.Errorf("ledger errors = %d, want 1", got)
	}

	Reset()
	if s := AutomationSnapshot(); s.Events != 0 || len(s.ByStatus) != 0 {
		t.Errorf("reset did not clear counters: %+v", s)
	}
}
