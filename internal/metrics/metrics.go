package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds engine counters. Kept simple/thread-safe for use
// from the engine and the metrics endpoint.
type automationStats struct {
	events       uint64
	cascadeStops uint64
	ledgerErrors uint64
	mu           sync.Mutex
	byStatus     map[string]uint64
	byActionType map[string]uint64
}

var as automationStats

// IncEvent counts one ProcessEvent call that passed validation.
func IncEvent() {
	atomic.AddUint64(&as.events, 1)
}

// IncCascadeStop counts events dropped by the cascade limit.
func IncCascadeStop() {
	atomic.AddUint64(&as.cascadeStops, 1)
}

// IncLedgerError counts swallowed ledger write failures.
func IncLedgerError() {
	atomic.AddUint64(&as.ledgerErrors, 1)
}

// IncExecution records one rule dispatch by final status and action type.
func IncExecution(status, actionType string) {
	as.mu.Lock()
	if as.byStatus == nil {
		as.byStatus = make(map[string]uint64)
		as.byActionType = make(map[string]uint64)
	}
	as.byStatus[status]++
	as.byActionType[actionType]++
	as.mu.Unlock()
}

// Snapshot is a point-in-time copy of the automation counters.
type Snapshot struct {
	Events       uint64            `json:"events"`
	CascadeStops uint64            `json:"cascade_stops"`
	LedgerErrors uint64            `json:"ledger_errors"`
	ByStatus     map[string]uint64 `json:"executions_by_status"`
	ByActionType map[string]uint64 `json:"executions_by_action"`
}

// AutomationSnapshot returns a copy of the current counters.
func AutomationSnapshot() Snapshot {
	s := Snapshot{
		Events:       atomic.LoadUint64(&as.events),
		CascadeStops: atomic.LoadUint64(&as.cascadeStops),
		LedgerErrors: atomic.LoadUint64(&as.ledgerErrors),
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	s.ByStatus = make(map[string]uint64, len(as.byStatus))
	for k, v := range as.byStatus {
		s.ByStatus[k] = v
	}
	s.ByActionType = make(map[string]uint64, len(as.byActionType))
	for k, v := range as.byActionType {
		s.ByActionType[k] = v
	}
	return s
}

// Reset zeroes every counter. Tests only.
func Reset() {
	atomic.StoreUint64(&as.events, 0)
	atomic.StoreUint64(&as.cascadeStops, 0)
	atomic.StoreUint64(&as.ledgerErrors, 0)
	as.mu.Lock()
	as.byStatus = nil
	as.byActionType = nil
	as.mu.Unlock()
}
