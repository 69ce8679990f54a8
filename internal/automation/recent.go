package automation

import "sync"

// DefaultRecentCapacity is the size of the recent-activity ring.
const DefaultRecentCapacity = 1000

// RecentLog is a fixed-capacity ring of the latest ExecutionResults. The
// oldest entry is overwritten once the ring is full.
type RecentLog struct {
	mu    sync.RWMutex
	buf   []ExecutionResult
	next  int
	count int
}

// NewRecentLog creates a ring; capacity <= 0 uses DefaultRecentCapacity.
func NewRecentLog(capacity int) *RecentLog {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentLog{buf: make([]ExecutionResult, capacity)}
}

func (r *RecentLog) Add(res ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = res
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Latest returns up to limit results, newest first. limit <= 0 returns all.
func (r *RecentLog) Latest(limit int) []ExecutionResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]ExecutionResult, 0, limit)
	idx := r.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *RecentLog) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *RecentLog) Capacity() int {
	return len(r.buf)
}

// Clear drops every entry.
func (r *RecentLog) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = make([]ExecutionResult, len(r.buf))
	r.next = 0
	r.count = 0
}
