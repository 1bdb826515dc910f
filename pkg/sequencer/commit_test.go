package sequencer

import (
	"testing"

	"github.com/latticehq/sequencer/pkg/transport"
)

type fakeLogAppender struct {
	pos          int64
	backpressure bool
	appended     [][]byte
}

func (f *fakeLogAppender) Append(data []byte) (int64, bool) {
	if f.backpressure {
		return f.pos, true
	}
	f.appended = append(f.appended, data)
	f.pos += int64(len(data))
	return f.pos, false
}
func (f *fakeLogAppender) Position() int64   { return f.pos }
func (f *fakeLogAppender) RecordingID() int64 { return 1 }
func (f *fakeLogAppender) Close() error       { return nil }

var _ transport.LogAppender = (*fakeLogAppender)(nil)

type fakeLogAdapter struct {
	pos    int64
	closed bool
}

func (f *fakeLogAdapter) Poll(limit int, fn func(data []byte)) int { return 0 }
func (f *fakeLogAdapter) Position() int64                          { return f.pos }
func (f *fakeLogAdapter) Closed() bool                             { return f.closed }

var _ transport.LogAdapter = (*fakeLogAdapter)(nil)

func TestHandleRequestVoteGrantsWhenCaughtUp(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0, 1, 2})
	h.agent.leadershipTermID = 5

	h.agent.handleRequestVote(1, transport.RequestVote{
		LeadershipTermID: 5, LastBaseLogPosition: 0, LastTermPosition: 0, CandidateID: 1,
	})

	if len(h.memberStatus.votes) != 1 {
		t.Fatalf("votes sent = %d, want 1", len(h.memberStatus.votes))
	}
	if !h.memberStatus.votes[0].VoteGranted {
		t.Fatalf("VoteGranted = false, want true")
	}
}

func TestHandleRequestVoteRejectsStaleTerm(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0, 1})
	h.agent.leadershipTermID = 5

	h.agent.handleRequestVote(1, transport.RequestVote{LeadershipTermID: 4, CandidateID: 1})

	if h.memberStatus.votes[0].VoteGranted {
		t.Fatalf("VoteGranted = true, want false for stale term")
	}
}

func TestHandleVoteRecordsInMembershipTable(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0, 1})
	h.agent.handleVote(1, transport.Vote{CandidateID: 0, FollowerID: 1, VoteGranted: true})

	m, _ := h.members.Get(1)
	if !m.HasVoted() || m.VotedForID != 0 {
		t.Fatalf("member 1 vote not recorded for candidate 0")
	}
}

func TestHandleAppendedPositionUpdatesMemberTable(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0}, []int32{0, 1})
	h.agent.handleAppendedPosition(1, transport.AppendedPosition{TermPosition: 42, FollowerID: 1})

	m, _ := h.members.Get(1)
	if m.TermPosition != 42 {
		t.Fatalf("TermPosition = %d, want 42", m.TermPosition)
	}
}

func TestHandleCommitPositionUpdatesFollowerState(t *testing.T) {
	h := newTestHarness(Config{MemberID: 1}, []int32{0, 1})
	h.agent.role = RoleFollower
	h.agent.handleCommitPosition(0, transport.CommitPosition{
		TermPosition: 77, LeaderID: 0, LogSessionID: 3,
	})

	if h.agent.leaderMemberID != 0 {
		t.Fatalf("leaderMemberID = %d, want 0", h.agent.leaderMemberID)
	}
	if h.agent.logSessionID != 3 {
		t.Fatalf("logSessionID = %d, want 3", h.agent.logSessionID)
	}
	if h.agent.followerCommitPos != 77 {
		t.Fatalf("followerCommitPos = %d, want 77", h.agent.followerCommitPos)
	}
}

func TestUpdatePositionsLeaderBroadcastsOnQuorumAdvance(t *testing.T) {
	h := newTestHarness(Config{MemberID: 0, HeartbeatIntervalMs: 1000}, []int32{0, 1, 2})
	h.agent.role = RoleLeader
	h.agent.logAppender = &fakeLogAppender{pos: 100}

	m1, _ := h.members.Get(1)
	m1.TermPosition = 100
	m2, _ := h.members.Get(2)
	m2.TermPosition = 100

	work := h.agent.updatePositions(1000)
	if work == 0 {
		t.Fatalf("updatePositions() did no work when quorum advanced")
	}
	if h.agent.commitCounter != 100 {
		t.Fatalf("commitCounter = %d, want 100", h.agent.commitCounter)
	}
	if len(h.memberStatus.commitPositions) != 2 {
		t.Fatalf("commitPositions broadcast = %d, want 2", len(h.memberStatus.commitPositions))
	}
}

func TestUpdatePositionsFollowerReportsAppendedPosition(t *testing.T) {
	h := newTestHarness(Config{MemberID: 1}, []int32{0, 1})
	h.agent.role = RoleFollower
	h.agent.leaderMemberID = 0
	h.agent.logAdapter = &fakeLogAdapter{pos: 55}

	work := h.agent.updatePositions(10)
	if work == 0 {
		t.Fatalf("updatePositions() did no work on follower position change")
	}
	if len(h.memberStatus.appendedPositions) != 1 {
		t.Fatalf("appendedPositions sent = %d, want 1", len(h.memberStatus.appendedPositions))
	}
	if h.agent.commitCounter != 55 {
		t.Fatalf("commitCounter = %d, want 55 (tracks log adapter position)", h.agent.commitCounter)
	}
}

func TestCheckHeartbeatTimeoutNoopBeforeFirstHeartbeat(t *testing.T) {
	h := newTestHarness(Config{MemberID: 1, HeartbeatTimeoutMs: 5000}, []int32{0, 1})
	if err := h.agent.checkHeartbeatTimeout(100000); err != nil {
		t.Fatalf("checkHeartbeatTimeout() = %v, want nil before first heartbeat", err)
	}
}

func TestCheckHeartbeatTimeoutFatalAfterWindow(t *testing.T) {
	h := newTestHarness(Config{MemberID: 1, HeartbeatTimeoutMs: 5000}, []int32{0, 1})
	h.agent.lastHeartbeatRecvMs = 1000
	if err := h.agent.checkHeartbeatTimeout(10000); err == nil {
		t.Fatalf("checkHeartbeatTimeout() = nil, want error after timeout window")
	}
}
