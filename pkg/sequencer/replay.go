package sequencer

import (
	"encoding/json"

	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/transport"
)

// pollLogAdapter is spec.md §4.1 "Follower, state ∈ {ACTIVE, SUSPENDED}:
// polls the log adapter up to follower_commit_position, delivering
// fragments for replay-dispatch".
func (a *Agent) pollLogAdapter(now int64) int {
	if a.logAdapter == nil {
		return 0
	}
	limit := a.cfg.IngressFragmentLimit
	if limit <= 0 {
		limit = 1
	}
	consumed := 0
	for consumed < limit {
		if a.followerCommitPos != membership.NullPosition && a.logAdapter.Position() >= a.followerCommitPos {
			break
		}
		n := a.logAdapter.Poll(1, func(data []byte) { a.dispatchReplay(data, now) })
		if n == 0 {
			break
		}
		consumed += n
	}
	return consumed
}

// dispatchReplay is spec.md §4.4 "Replay dispatch (follower and recovery)":
// framed records are decoded and delivered to the sequencer's reply
// handlers, each of which updates cached clock, mutates in-memory state,
// and maintains next_session_id.
func (a *Agent) dispatchReplay(data []byte, now int64) {
	rec, err := transport.DecodeLogRecord(data)
	if err != nil {
		return
	}
	a.cachedTimeMs = now
	switch rec.Kind {
	case transport.LogRecordSessionOpen:
		var p transport.SessionOpenPayload
		if unmarshalPayload(rec.Payload, &p) {
			a.onReplaySessionOpen(p, rec.LogPosition)
		}
	case transport.LogRecordSessionMessage:
		var p transport.SessionMessagePayload
		if unmarshalPayload(rec.Payload, &p) {
			a.onReplaySessionMessage(p)
		}
	case transport.LogRecordSessionClose:
		var p transport.SessionClosePayload
		if unmarshalPayload(rec.Payload, &p) {
			a.onReplaySessionClose(p)
		}
	case transport.LogRecordTimerEvent:
		var p transport.TimerEventPayload
		if unmarshalPayload(rec.Payload, &p) {
			a.onReplayTimerEvent(p)
		}
	case transport.LogRecordClusterAction:
		var p transport.ClusterActionPayload
		if unmarshalPayload(rec.Payload, &p) {
			a.onReplayClusterAction(p)
		}
	}
}

// onReplaySessionOpen is spec.md §4.4 "on_replay_session_open".
func (a *Agent) onReplaySessionOpen(p transport.SessionOpenPayload, logPosition int64) {
	a.sessions[p.SessionID] = &Session{
		ID:                   p.SessionID,
		State:                SessionOpen,
		ResponseStreamID:     p.ResponseStreamID,
		ResponseChannel:      p.ResponseChannel,
		TimeOfLastActivityMs: p.TimestampMs,
		OpenTermPosition:     logPosition,
	}
	a.bumpNextSessionID(p.SessionID)
}

// onReplaySessionMessage is spec.md §4.4 "on_replay_session_message".
func (a *Agent) onReplaySessionMessage(p transport.SessionMessagePayload) {
	if s, ok := a.sessions[p.SessionID]; ok {
		s.TimeOfLastActivityMs = a.cachedTimeMs
	}
}

// onReplaySessionClose is spec.md §4.4 "on_replay_session_close".
func (a *Agent) onReplaySessionClose(p transport.SessionClosePayload) {
	delete(a.sessions, p.SessionID)
}

// onReplayTimerEvent is spec.md §4.4 "on_replay_timer_event" and §4.6
// "During replay, timer events arrive via the log; if a replayed cancel
// finds no timer, it is queued in failed_timer_cancellations".
func (a *Agent) onReplayTimerEvent(p transport.TimerEventPayload) {
	if !a.timers.CancelTimer(p.CorrelationID) {
		a.failedTimerCancellations = append(a.failedTimerCancellations, p.CorrelationID)
	}
}

// onReplayClusterAction is spec.md §4.4 "on_replay_cluster_action".
func (a *Agent) onReplayClusterAction(p transport.ClusterActionPayload) {
	switch ClusterAction(p.Action) {
	case ActionSuspend:
		a.consensusState = StateSuspended
	case ActionResume:
		a.consensusState = StateActive
	case ActionSnapshot:
		a.consensusState = StateSnapshot
	case ActionShutdown:
		a.consensusState = StateShutdown
	case ActionAbort:
		a.consensusState = StateAbort
	}
}

// bumpNextSessionID maintains next_session_id = max(seen_id+1, current)
// (spec.md §4.4).
func (a *Agent) bumpNextSessionID(seenID int64) {
	if seenID+1 > a.nextSessionID {
		a.nextSessionID = seenID + 1
	}
}

// drainFailedTimerCancellations retries cancellations that arrived before
// their corresponding schedule within the same replay boundary (spec.md
// §4.6 "re-tried once the current term finishes").
func (a *Agent) drainFailedTimerCancellations() {
	pending := a.failedTimerCancellations
	a.failedTimerCancellations = nil
	for _, cid := range pending {
		if !a.timers.CancelTimer(cid) {
			a.failedTimerCancellations = append(a.failedTimerCancellations, cid)
		}
	}
}

func unmarshalPayload(raw []byte, out interface{}) bool {
	return json.Unmarshal(raw, out) == nil
}
