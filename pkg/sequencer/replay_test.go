package sequencer

import (
	"testing"

	"github.com/latticehq/sequencer/pkg/transport"
)

func TestDispatchReplaySessionOpenAddsSessionAndBumpsNextID(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	rec, _ := transport.EncodeLogRecord(transport.LogRecordSessionOpen, 1, 100, transport.SessionOpenPayload{
		SessionID: 5, ResponseStreamID: 2, ResponseChannel: "c", TimestampMs: 1000,
	})

	h.agent.dispatchReplay(rec, 1000)

	s, ok := h.agent.sessions[5]
	if !ok {
		t.Fatalf("session 5 not added by replay")
	}
	if s.State != SessionOpen {
		t.Fatalf("State = %s, want OPEN", s.State)
	}
	if h.agent.nextSessionID != 6 {
		t.Fatalf("nextSessionID = %d, want 6", h.agent.nextSessionID)
	}
}

func TestDispatchReplaySessionMessageTouchesActivity(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.sessions[5] = &Session{ID: 5, State: SessionOpen}
	rec, _ := transport.EncodeLogRecord(transport.LogRecordSessionMessage, 1, 100, transport.SessionMessagePayload{SessionID: 5, Payload: []byte("x")})

	h.agent.dispatchReplay(rec, 2000)

	if h.agent.sessions[5].TimeOfLastActivityMs != 2000 {
		t.Fatalf("TimeOfLastActivityMs = %d, want 2000", h.agent.sessions[5].TimeOfLastActivityMs)
	}
}

func TestDispatchReplaySessionCloseRemovesSession(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.sessions[5] = &Session{ID: 5, State: SessionOpen}
	rec, _ := transport.EncodeLogRecord(transport.LogRecordSessionClose, 1, 100, transport.SessionClosePayload{SessionID: 5})

	h.agent.dispatchReplay(rec, 2000)

	if _, ok := h.agent.sessions[5]; ok {
		t.Fatalf("session 5 still present after replayed close")
	}
}

func TestDispatchReplayTimerEventCancelsScheduledTimer(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.timers.ScheduleTimer(42, 5000)
	rec, _ := transport.EncodeLogRecord(transport.LogRecordTimerEvent, 1, 100, transport.TimerEventPayload{CorrelationID: 42, TimestampMs: 5000})

	h.agent.dispatchReplay(rec, 5000)

	if h.agent.timers.Len() != 0 {
		t.Fatalf("timers.Len() = %d, want 0 after replayed fire", h.agent.timers.Len())
	}
	if len(h.agent.failedTimerCancellations) != 0 {
		t.Fatalf("failedTimerCancellations = %v, want empty", h.agent.failedTimerCancellations)
	}
}

func TestDispatchReplayTimerEventQueuesFailedCancellation(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	rec, _ := transport.EncodeLogRecord(transport.LogRecordTimerEvent, 1, 100, transport.TimerEventPayload{CorrelationID: 99, TimestampMs: 5000})

	h.agent.dispatchReplay(rec, 5000)

	if len(h.agent.failedTimerCancellations) != 1 || h.agent.failedTimerCancellations[0] != 99 {
		t.Fatalf("failedTimerCancellations = %v, want [99]", h.agent.failedTimerCancellations)
	}
}

func TestDrainFailedTimerCancellationsRetriesOnce(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.failedTimerCancellations = []int64{7}
	h.agent.timers.ScheduleTimer(7, 1000)

	h.agent.drainFailedTimerCancellations()

	if len(h.agent.failedTimerCancellations) != 0 {
		t.Fatalf("failedTimerCancellations = %v, want empty once the timer exists", h.agent.failedTimerCancellations)
	}
	if h.agent.timers.Len() != 0 {
		t.Fatalf("timers.Len() = %d, want 0", h.agent.timers.Len())
	}
}

func TestDispatchReplayClusterActionUpdatesConsensusState(t *testing.T) {
	cases := []struct {
		action ClusterAction
		want   ConsensusState
	}{
		{ActionSuspend, StateSuspended},
		{ActionResume, StateActive},
		{ActionSnapshot, StateSnapshot},
		{ActionShutdown, StateShutdown},
		{ActionAbort, StateAbort},
	}
	for _, tc := range cases {
		h := newTestHarness(Config{MemberID: 0}, []int32{0})
		rec, _ := transport.EncodeLogRecord(transport.LogRecordClusterAction, 1, 100, transport.ClusterActionPayload{Action: int32(tc.action)})
		h.agent.dispatchReplay(rec, 1000)
		if h.agent.ConsensusState() != tc.want {
			t.Fatalf("action %s: ConsensusState() = %s, want %s", tc.action, h.agent.ConsensusState(), tc.want)
		}
	}
}

func TestBumpNextSessionIDOnlyIncreases(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.nextSessionID = 10
	h.agent.bumpNextSessionID(3)
	if h.agent.nextSessionID != 10 {
		t.Fatalf("nextSessionID = %d, want unchanged 10 for a lower seen id", h.agent.nextSessionID)
	}
	h.agent.bumpNextSessionID(20)
	if h.agent.nextSessionID != 21 {
		t.Fatalf("nextSessionID = %d, want 21", h.agent.nextSessionID)
	}
}

func TestPollLogAdapterStopsAtFollowerCommitPosition(t *testing.T) {
	h := newTestHarness(Config{MemberID: 1, IngressFragmentLimit: 16}, []int32{0, 1})
	h.agent.logAdapter = &fakeLogAdapter{pos: 0}
	h.agent.followerCommitPos = 0

	n := h.agent.pollLogAdapter(1000)
	if n != 0 {
		t.Fatalf("pollLogAdapter() = %d, want 0 when already at follower commit position", n)
	}
}
