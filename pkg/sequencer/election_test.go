package sequencer

import (
	"context"
	"testing"

	"github.com/latticehq/sequencer/pkg/archive"
)

func TestRunSingleMemberClusterBecomesLeader(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0})
	if err := h.agent.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.agent.Role() != RoleLeader {
		t.Fatalf("Role() = %s, want LEADER", h.agent.Role())
	}
	if h.agent.ConsensusState() != StateActive {
		t.Fatalf("ConsensusState() = %s, want ACTIVE", h.agent.ConsensusState())
	}
	if !h.agent.IsRecovered() {
		t.Fatalf("IsRecovered() = false, want true")
	}
}

func TestRunAppointedLeaderSelfBecomesLeader(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0, AppointedLeaderID: 0}, []int32{0, 1})
	if err := h.agent.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.agent.Role() != RoleLeader {
		t.Fatalf("Role() = %s, want LEADER", h.agent.Role())
	}
}

func TestRunAppointedLeaderOtherBecomesFollowerTimesOut(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0, AppointedLeaderID: 1}, []int32{0, 1})
	err := h.agent.Run(context.Background())
	if err == nil {
		t.Fatalf("Run: expected error, leader never sends a commit position in this test")
	}
	if h.agent.Role() != RoleFollower {
		t.Fatalf("Role() = %s, want FOLLOWER", h.agent.Role())
	}
}

func TestAwaitConnectedMembersWaitsForEveryPeer(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0, 1, 2})
	h.memberStatus.disconnected = map[int32]bool{2: true}

	errCh := make(chan error, 1)
	go func() { errCh <- h.agent.awaitConnectedMembers(context.Background()) }()

	select {
	case <-errCh:
		t.Fatalf("awaitConnectedMembers returned before peer 2 connected")
	default:
	}

	h.memberStatus.mu.Lock()
	h.memberStatus.disconnected[2] = false
	h.memberStatus.mu.Unlock()

	if err := <-errCh; err != nil {
		t.Fatalf("awaitConnectedMembers: %v", err)
	}
}

func TestVotesForCandidateCountsOnlyMatchingVotes(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0, 1, 2})
	h.agent.col.Members.ResetVotes()
	if m, ok := h.agent.col.Members.Get(0); ok {
		m.RecordVote(0)
	}
	if m, ok := h.agent.col.Members.Get(1); ok {
		m.RecordVote(0)
	}
	if m, ok := h.agent.col.Members.Get(2); ok {
		m.RecordVote(2)
	}
	if got := h.agent.votesForCandidate(0); got != 2 {
		t.Fatalf("votesForCandidate(0) = %d, want 2", got)
	}
	if got := h.agent.votesForCandidate(2); got != 1 {
		t.Fatalf("votesForCandidate(2) = %d, want 1", got)
	}
}

func TestImageLogAdapterAdaptsArchiveImage(t *testing.T) {
	img := newArchiveImageWithOneFrame(t)
	wrapped := imageLogAdapter{img: img}
	var got []byte
	n := wrapped.Poll(10, func(data []byte) { got = data })
	if n != 1 {
		t.Fatalf("Poll() = %d, want 1", n)
	}
	if string(got) != "hello" {
		t.Fatalf("Poll() payload = %q, want %q", got, "hello")
	}
}

func newArchiveImageWithOneFrame(t *testing.T) archive.Image {
	t.Helper()
	ar := archive.NewInProcess()
	pub, recID, err := ar.AddRecordedExclusivePublication("log")
	if err != nil {
		t.Fatalf("AddRecordedExclusivePublication: %v", err)
	}
	pub.Append([]byte("hello"))
	pub.Close()
	sid, err := ar.StartReplay(recID, 0, archive.MaxLength)
	if err != nil {
		t.Fatalf("StartReplay: %v", err)
	}
	img, ok := ar.Image(sid)
	if !ok {
		t.Fatalf("Image(%d) not found", sid)
	}
	return img
}
