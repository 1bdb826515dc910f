package sequencer

import (
	"testing"

	"github.com/latticehq/sequencer/pkg/archive"
	"github.com/latticehq/sequencer/pkg/transport"
)

func TestTakeSnapshotWritesFullRecordSequence(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.consensusState = StateSnapshot
	h.agent.role = RoleLeader
	h.agent.logAppender = &fakeLogAppender{}
	h.agent.sessions[7] = &Session{ID: 7, State: SessionOpen, ResponseStreamID: 1, ResponseChannel: "c", OpenTermPosition: 10}
	h.agent.timers.ScheduleTimer(42, 9999)
	h.agent.nextSessionID = 8

	h.agent.takeSnapshot(1234)

	if h.terminated != nil {
		t.Fatalf("takeSnapshot() terminated the agent: %v", h.terminated)
	}

	sessionID, err := h.archive.StartReplay(1, 0, archive.MaxLength)
	if err != nil {
		t.Fatalf("StartReplay on snapshot recording: %v", err)
	}
	img, ok := h.archive.Image(sessionID)
	if !ok {
		t.Fatalf("snapshot recording image not found")
	}

	var kinds []transport.LogRecordKind
	for {
		n, _ := img.Poll(1, func(data []byte) {
			rec, err := transport.DecodeLogRecord(data)
			if err != nil {
				t.Fatalf("DecodeLogRecord: %v", err)
			}
			kinds = append(kinds, rec.Kind)
		})
		if n == 0 {
			break
		}
	}

	want := []transport.LogRecordKind{
		transport.LogRecordSnapshotMarkerBegin,
		transport.LogRecordSessionSnapshot,
		transport.LogRecordTimerSnapshot,
		transport.LogRecordSequencerState,
		transport.LogRecordSnapshotMarkerEnd,
	}
	if len(kinds) != len(want) {
		t.Fatalf("record kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("record[%d] kind = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestTakeSnapshotSkipsNonOpenSessions(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.consensusState = StateSnapshot
	h.agent.role = RoleLeader
	h.agent.logAppender = &fakeLogAppender{}
	h.agent.sessions[1] = &Session{ID: 1, State: SessionClosed}

	h.agent.takeSnapshot(1234)

	sessionID, _ := h.archive.StartReplay(1, 0, archive.MaxLength)
	img, _ := h.archive.Image(sessionID)

	var sawSessionSnapshot bool
	for {
		n, _ := img.Poll(1, func(data []byte) {
			rec, _ := transport.DecodeLogRecord(data)
			if rec.Kind == transport.LogRecordSessionSnapshot {
				sawSessionSnapshot = true
			}
		})
		if n == 0 {
			break
		}
	}
	if sawSessionSnapshot {
		t.Fatalf("takeSnapshot() emitted a session record for a non-OPEN session")
	}
}

// TestOnAllServicesAckedSnapshotFailureStaysClosed is a regression test: a
// fatal fault partway through takeSnapshot must not be undone by the
// unconditional consensusState=ACTIVE assignment that follows it in
// onAllServicesAcked's ActionSnapshot case.
func TestOnAllServicesAckedSnapshotFailureStaysClosed(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.consensusState = StateSnapshot
	h.agent.role = RoleLeader
	h.agent.logAppender = &fakeLogAppender{}
	h.recordingLog.failAppendSnapshot = true

	h.agent.onAllServicesAcked(ActionSnapshot)

	if h.terminated == nil {
		t.Fatalf("expected the agent to be terminated on a failed AppendSnapshot")
	}
	if h.agent.ConsensusState() != StateClosed {
		t.Fatalf("ConsensusState() = %s, want CLOSED: a failed snapshot must not resurrect the agent into ACTIVE", h.agent.ConsensusState())
	}
}

func TestTakeSnapshotAppendsToRecordingLog(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.consensusState = StateSnapshot
	h.agent.role = RoleLeader
	h.agent.logAppender = &fakeLogAppender{}

	h.agent.takeSnapshot(5555)

	if h.terminated != nil {
		t.Fatalf("takeSnapshot() terminated the agent: %v", h.terminated)
	}
}
