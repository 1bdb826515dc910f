package sequencer

import (
	"github.com/latticehq/sequencer/pkg/controlfile"
	"github.com/latticehq/sequencer/pkg/observability/metrics"
	"github.com/latticehq/sequencer/pkg/transport"
)

// serviceCtlQueueCapacity bounds the inbound upward-ACK queue the same way
// ingress/member-status are bounded (design note §9).
const serviceCtlQueueCapacity = 1024

func (a *Agent) OnAck(msg transport.Ack) {
	select {
	case a.serviceCtlCh <- msg:
	default:
	}
}

var _ transport.ServiceControlAdapter = (*Agent)(nil)

// drainServiceControl is spec.md §4.1 "On slow tick additionally: ...
// drains service-control adapter".
func (a *Agent) drainServiceControl() int {
	n := 0
	for {
		select {
		case ack := <-a.serviceCtlCh:
			if err := a.handleAck(ack); err != nil {
				a.terminate(err)
				return n
			}
			n++
		default:
			return n
		}
	}
}

// handleAck validates and counts one service ACK (spec.md §4.5 "ACK
// validation").
func (a *Agent) handleAck(msg transport.Ack) error {
	wantPos := a.baseLogPosition + a.currentTermPosition()
	if msg.LogPosition != wantPos || msg.LeadershipTermID != a.leadershipTermID {
		return fatalf("ack position mismatch", ErrAckPositionMismatch)
	}
	action, ok := toClusterAction(msg.Action)
	if !ok || !a.consensusState.IsValid(action) {
		return fatalf("ack invalid for state", ErrInvalidActionForState)
	}
	a.serviceAckCount++
	if a.serviceAckCount > a.cfg.ServiceCount {
		return fatalf("ack count exceeded", ErrAckCountExceeded)
	}
	if a.serviceAckCount == a.cfg.ServiceCount {
		a.onAllServicesAcked(action)
	}
	return nil
}

// toClusterAction rejects anything other than the three ServiceAction values
// a service ACK can legitimately carry (spec.md §4.5's ACK validation is
// meant to reject malformed/stale acks, not silently fold them into
// SNAPSHOT).
func toClusterAction(a transport.ServiceAction) (ClusterAction, bool) {
	switch a {
	case transport.ServiceActionSnapshot:
		return ActionSnapshot, true
	case transport.ServiceActionShutdown:
		return ActionShutdown, true
	case transport.ServiceActionAbort:
		return ActionAbort, true
	default:
		return 0, false
	}
}

// onAllServicesAcked applies the per-action completion described in
// spec.md §4.5.
func (a *Agent) onAllServicesAcked(action ClusterAction) {
	now, _ := a.nowMs()
	a.serviceAckCount = 0
	metrics.ServiceAcksTotal.WithLabelValues(action.String()).Inc()
	switch action {
	case ActionSnapshot:
		a.takeSnapshot(now)
		if a.closed {
			// takeSnapshot hit a fatal append failure and already terminated
			// the agent; do not resurrect it into ACTIVE.
			return
		}
		a.consensusState = StateActive
		a.col.Toggle.Reset()
		a.stampAllOpenSessions(now)
	case ActionShutdown:
		_ = a.col.RecordingLog.CommitLeadershipTermPosition(a.leadershipTermID, a.currentTermPosition())
		a.consensusState = StateClosed
		a.terminate(nil)
	case ActionAbort:
		_ = a.col.RecordingLog.CommitLeadershipTermPosition(a.leadershipTermID, a.currentTermPosition())
		a.consensusState = StateClosed
		a.terminate(nil)
	}
}

// processControlToggle is spec.md §4.5 "Cluster Actions (Toggle & Ack)".
// SUSPEND/RESUME need no service ACK gate beyond the action record itself;
// SNAPSHOT/SHUTDOWN/ABORT wait for onAllServicesAcked. Called for every
// leader slow tick regardless of consensusState (original_source
// SequencerAgent.java's checkControlToggle is gated only on role==LEADER,
// with the ACTIVE check scoped to the session/timer polling that follows
// it, not the toggle check itself) — RESUME must still be observable while
// SUSPENDED, or a suspended cluster can never resume.
func (a *Agent) processControlToggle(now int64) int {
	v := a.col.Toggle.Get()
	if v == controlfile.ToggleNeutral {
		return 0
	}

	target, action := targetForToggle(v)
	if !CanTransition(a.consensusState, target) {
		// spec.md §8 "Control toggle SNAPSHOT while not ACTIVE -> no action
		// appended, toggle remains pending (toggle only reset on apply)".
		return 0
	}
	if v == controlfile.ToggleSuspend || v == controlfile.ToggleResume {
		if !a.appendClusterAction(action, now) {
			return 0
		}
		a.consensusState = target
		a.col.Toggle.Reset()
		return 1
	}
	if a.appendClusterAction(action, now) {
		a.consensusState = target
		return 1
	}
	return 0
}

// targetForToggle maps a controlfile toggle to the ConsensusState it moves
// to and the ClusterAction record it appends.
func targetForToggle(v controlfile.ToggleValue) (ConsensusState, ClusterAction) {
	switch v {
	case controlfile.ToggleSuspend:
		return StateSuspended, ActionSuspend
	case controlfile.ToggleResume:
		return StateActive, ActionResume
	case controlfile.ToggleShutdown:
		return StateShutdown, ActionShutdown
	case controlfile.ToggleAbort:
		return StateAbort, ActionAbort
	default:
		return StateSnapshot, ActionSnapshot
	}
}

// appendClusterAction is spec.md §4.5 "appends a ClusterAction record into
// the log; only upon successful append does it transition local state".
func (a *Agent) appendClusterAction(action ClusterAction, now int64) bool {
	rec, err := transport.EncodeLogRecord(transport.LogRecordClusterAction, a.leadershipTermID,
		a.baseLogPosition+a.currentTermPosition(), transport.ClusterActionPayload{Action: int32(action), TimestampMs: now})
	if err != nil {
		return false
	}
	_, back := a.logAppender.Append(rec)
	return !back
}
