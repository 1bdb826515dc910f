package sequencer

import "sort"

// TimerService maps correlation ids to deadlines, polled once per tick on
// the leader (spec.md §3 "TimerService", §4.6). The Java source backs this
// with a flat array rather than a heap; a map sorted into a slice on demand
// is the Go analogue at the same cardinality (see DESIGN.md "pkg/sequencer").
type TimerService struct {
	deadlines map[int64]int64
}

func NewTimerService() *TimerService {
	return &TimerService{deadlines: make(map[int64]int64)}
}

// ScheduleTimer inserts or overwrites the deadline for correlation
// (spec.md §4.6).
func (t *TimerService) ScheduleTimer(correlationID, deadlineMs int64) {
	t.deadlines[correlationID] = deadlineMs
}

// CancelTimer removes correlation's timer, reporting whether one existed.
func (t *TimerService) CancelTimer(correlationID int64) bool {
	_, ok := t.deadlines[correlationID]
	delete(t.deadlines, correlationID)
	return ok
}

// Len reports how many timers are currently scheduled.
func (t *TimerService) Len() int { return len(t.deadlines) }

// Snapshot returns every (correlationID, deadlineMs) pair in ascending
// deadline order, used by the snapshot pipeline (spec.md §4.8 "emit
// timer-service snapshot").
func (t *TimerService) Snapshot() []TimerEntry {
	out := make([]TimerEntry, 0, len(t.deadlines))
	for cid, dl := range t.deadlines {
		out = append(out, TimerEntry{CorrelationID: cid, DeadlineMs: dl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineMs < out[j].DeadlineMs })
	return out
}

// Restore repopulates the timer map from a snapshot (spec.md §4.7 "restores
// timers").
func (t *TimerService) Restore(entries []TimerEntry) {
	t.deadlines = make(map[int64]int64, len(entries))
	for _, e := range entries {
		t.deadlines[e.CorrelationID] = e.DeadlineMs
	}
}

// TimerEntry is one (correlation, deadline) pair as carried in a snapshot
// or a fired TimerEvent log record.
type TimerEntry struct {
	CorrelationID int64
	DeadlineMs    int64
}

// Poll fires every timer whose deadline has passed, invoking fire for each
// in ascending deadline order. fire returns false on back-pressure, in
// which case the timer is left scheduled for retry next tick (spec.md §4.6
// "on back-pressure, leave the timer scheduled"). Poll returns the number
// of timers actually fired.
func (t *TimerService) Poll(nowMs int64, fire func(correlationID, nowMs int64) bool) int {
	due := t.Snapshot()
	fired := 0
	for _, e := range due {
		if e.DeadlineMs > nowMs {
			break
		}
		if !fire(e.CorrelationID, nowMs) {
			continue
		}
		delete(t.deadlines, e.CorrelationID)
		fired++
	}
	return fired
}
