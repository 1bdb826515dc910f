package sequencer

import (
	"context"

	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/observability/metrics"
	"github.com/latticehq/sequencer/pkg/transport"
)

// memberStatusQueueCapacity bounds the inbound peer-RPC queue the same way
// ingressQueueCapacity bounds client RPCs (design note §9 "do not buffer
// unbounded"); MemberStatus is likewise request/response gRPC rather than a
// pollable subscription, so pollMemberStatus is where the single-threaded
// ownership boundary is actually enforced.
const memberStatusQueueCapacity = 4096

type memberStatusKind int8

const (
	msRequestVote memberStatusKind = iota
	msVote
	msAppendedPosition
	msCommitPosition
)

type memberStatusItem struct {
	kind             memberStatusKind
	from             int32
	requestVote      transport.RequestVote
	vote             transport.Vote
	appendedPosition transport.AppendedPosition
	commitPosition   transport.CommitPosition
}

func (a *Agent) enqueueMemberStatus(item memberStatusItem) {
	select {
	case a.memberStatusCh <- item:
	default:
	}
}

func (a *Agent) OnRequestVote(from int32, msg transport.RequestVote) {
	a.enqueueMemberStatus(memberStatusItem{kind: msRequestVote, from: from, requestVote: msg})
}

func (a *Agent) OnVote(from int32, msg transport.Vote) {
	a.enqueueMemberStatus(memberStatusItem{kind: msVote, from: from, vote: msg})
}

func (a *Agent) OnAppendedPosition(from int32, msg transport.AppendedPosition) {
	a.enqueueMemberStatus(memberStatusItem{kind: msAppendedPosition, from: from, appendedPosition: msg})
}

func (a *Agent) OnCommitPosition(from int32, msg transport.CommitPosition) {
	a.enqueueMemberStatus(memberStatusItem{kind: msCommitPosition, from: from, commitPosition: msg})
}

var _ transport.MemberStatusAdapter = (*Agent)(nil)

// pollMemberStatus drains every queued peer RPC ("Always: polls
// member-status", spec.md §4.1). Unlike ingress this is never rate-limited
// per tick — peer traffic is small and bounded by cluster size.
func (a *Agent) pollMemberStatus() int {
	n := 0
	for {
		select {
		case item := <-a.memberStatusCh:
			a.dispatchMemberStatus(item)
			n++
		default:
			return n
		}
	}
}

func (a *Agent) dispatchMemberStatus(item memberStatusItem) {
	switch item.kind {
	case msRequestVote:
		a.handleRequestVote(item.from, item.requestVote)
	case msVote:
		a.handleVote(item.from, item.vote)
	case msAppendedPosition:
		a.handleAppendedPosition(item.from, item.appendedPosition)
	case msCommitPosition:
		a.handleCommitPosition(item.from, item.commitPosition)
	}
}

// handleRequestVote implements the tie-break in spec.md §4.2 "Election
// (appointed-leader variant)": grant only when the candidate's term matches
// ours and its reported log position/term position are not behind our own
// recovery plan's tail.
func (a *Agent) handleRequestVote(from int32, msg transport.RequestVote) {
	granted := msg.LeadershipTermID == a.leadershipTermID &&
		msg.LastBaseLogPosition == a.recoveryPlan.LastLogPosition() &&
		msg.LastTermPosition >= a.recoveryPlan.LastTermPositionAppended()

	if m, ok := a.col.Members.Get(a.cfg.MemberID); ok {
		m.RecordVote(msg.CandidateID)
	}

	a.col.MemberStatus.Vote(context.Background(), msg.CandidateID, transport.Vote{
		LeadershipTermID:    msg.LeadershipTermID,
		LastBaseLogPosition: msg.LastBaseLogPosition,
		LastTermPosition:    msg.LastTermPosition,
		CandidateID:         msg.CandidateID,
		FollowerID:          a.cfg.MemberID,
		VoteGranted:         granted,
	})

	if !granted {
		// spec.md §9 open question 1: voting against an out-of-date candidate
		// has no defined retry-as-new-candidacy path in the source; left as a
		// documented gap rather than guessed at.
		return
	}
}

func (a *Agent) handleVote(from int32, msg transport.Vote) {
	if !msg.VoteGranted {
		return
	}
	// Recorded for runElection to observe via votesForCandidate; no direct
	// state change here beyond the table update.
	if m, ok := a.col.Members.Get(from); ok {
		m.RecordVote(msg.CandidateID)
	}
}

// handleAppendedPosition is spec.md §4.4 "Followers ... send
// appended_position ... to the leader".
func (a *Agent) handleAppendedPosition(from int32, msg transport.AppendedPosition) {
	if m, ok := a.col.Members.Get(from); ok {
		m.TermPosition = msg.TermPosition
	}
}

// handleCommitPosition is spec.md §4.4 "Followers ... advance the local
// commit counter up to what the log adapter has consumed" and §4.2
// "become follower" (the message becomeFollower waits for before it
// subscribes to the leader's log).
func (a *Agent) handleCommitPosition(from int32, msg transport.CommitPosition) {
	a.lastHeartbeatRecvMs, _ = a.nowMs()
	if msg.LeaderID != a.leaderMemberID {
		a.leaderMemberID = msg.LeaderID
	}
	if a.role == RoleFollower {
		a.logSessionID = msg.LogSessionID
		a.followerCommitPos = msg.TermPosition
	}
}

// updatePositions is spec.md §4.4 "Commit position"/"Followers, on each
// tick". On the leader it recomputes the quorum position and broadcasts
// commit_position on advance or heartbeat; on the follower it reports its
// own appended position when it has moved.
func (a *Agent) updatePositions(now int64) int {
	work := 0
	switch a.role {
	case RoleLeader:
		if m, ok := a.col.Members.Get(a.cfg.MemberID); ok {
			m.TermPosition = a.currentTermPosition()
		}
		quorumPos, scratch := a.col.Members.QuorumPosition(a.quorumScratch)
		a.quorumScratch = scratch
		metrics.QuorumPosition.Set(float64(quorumPos))

		advanced := quorumPos > a.commitCounter
		heartbeatDue := now-a.lastHeartbeatBroadcastMs >= a.cfg.HeartbeatIntervalMs
		if advanced {
			a.commitCounter = quorumPos
		}
		if advanced || heartbeatDue {
			a.lastHeartbeatBroadcastMs = now
			a.col.Members.Each(func(m *membership.Member) {
				if m.ID == a.cfg.MemberID {
					return
				}
				a.col.MemberStatus.CommitPosition(context.Background(), m.ID, transport.CommitPosition{
					TermPosition:     a.commitCounter,
					LeadershipTermID: a.leadershipTermID,
					LeaderID:         a.cfg.MemberID,
					LogSessionID:     a.logSessionID,
				})
			})
			work++
		}
	case RoleFollower:
		pos := a.currentTermPosition()
		if pos != a.lastReportedTermPosition {
			a.lastReportedTermPosition = pos
			a.col.MemberStatus.AppendedPosition(context.Background(), a.leaderMemberID, transport.AppendedPosition{
				TermPosition:     pos,
				LeadershipTermID: a.leadershipTermID,
				FollowerID:       a.cfg.MemberID,
			})
			work++
		}
		if a.logAdapter != nil {
			consumed := a.logAdapter.Position()
			if consumed > a.commitCounter {
				a.commitCounter = consumed
			}
		}
	}
	return work
}

// checkHeartbeatTimeout is spec.md §4.4 "if no heartbeat from leader within
// heartbeat_timeout, terminate (throws a fatal agent-termination condition)".
func (a *Agent) checkHeartbeatTimeout(now int64) error {
	if a.lastHeartbeatRecvMs == 0 {
		return nil
	}
	if now-a.lastHeartbeatRecvMs > a.cfg.HeartbeatTimeoutMs {
		return fatalf("heartbeat timeout", ErrHeartbeatTimeout)
	}
	return nil
}
