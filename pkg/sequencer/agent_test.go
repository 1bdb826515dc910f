package sequencer

import (
	"testing"

	"github.com/latticehq/sequencer/pkg/membership"
)

func TestNewDefaultsRoleAndState(t *testing.T) {
	a := New(Config{MemberID: 0}, Collaborators{})
	if a.Role() != RoleFollower {
		t.Fatalf("Role() = %s, want FOLLOWER", a.Role())
	}
	if a.ConsensusState() != StateInit {
		t.Fatalf("ConsensusState() = %s, want INIT", a.ConsensusState())
	}
	if a.leaderMemberID != membership.NullID {
		t.Fatalf("leaderMemberID = %d, want NullID", a.leaderMemberID)
	}
	if a.col.Idle == nil {
		t.Fatalf("Idle collaborator not defaulted")
	}
	if a.col.Clock == nil {
		t.Fatalf("Clock collaborator not defaulted")
	}
}

func TestNowMsReportsSlowTickOnlyOnChange(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	_, slow := h.agent.nowMs()
	if !slow {
		t.Fatalf("first nowMs() call should be a slow tick")
	}
	_, slow = h.agent.nowMs()
	if slow {
		t.Fatalf("second nowMs() call at same time should not be a slow tick")
	}
	h.clk.Advance(1)
	_, slow = h.agent.nowMs()
	if !slow {
		t.Fatalf("nowMs() call after clock advance should be a slow tick")
	}
}

func TestDoWorkNoopWhenClosed(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	h.agent.consensusState = StateClosed
	if got := h.agent.DoWork(nil); got != 0 {
		t.Fatalf("DoWork() = %d, want 0 when closed", got)
	}
}

func TestTerminateInvokesCallbackAndClosesState(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	want := fatalf("boom", nil)
	h.agent.terminate(want)
	if h.terminated != want {
		t.Fatalf("Terminate callback received %v, want %v", h.terminated, want)
	}
	if h.agent.ConsensusState() != StateClosed {
		t.Fatalf("ConsensusState() = %s, want CLOSED", h.agent.ConsensusState())
	}
	if !h.agent.closed {
		t.Fatalf("closed = false, want true")
	}
}

func TestCurrentTermPositionZeroWithoutLogCollaborator(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	if got := h.agent.currentTermPosition(); got != 0 {
		t.Fatalf("currentTermPosition() = %d, want 0", got)
	}
}
