package sequencer

import (
	"context"

	"github.com/latticehq/sequencer/pkg/archive"
	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/observability/metrics"
	"github.com/latticehq/sequencer/pkg/transport"
)

// runElection is spec.md §4.2 "Election": an appointed leader short-circuits
// voting entirely; otherwise every member votes for itself, broadcasts
// request_vote, and the first candidate to observe a quorum of votes cast
// for its own id wins. Simultaneous candidacies are resolved the same way
// Aeron Cluster resolves them: a member only ever has one recorded vote, so
// a member that grants a vote to a rival candidate (handleRequestVote, in
// commit.go) can no longer also be counted for us.
func (a *Agent) runElection(ctx context.Context) error {
	startMs := a.col.Clock.TimeMillis()
	defer func() {
		metrics.ElectionDurationSeconds.Observe(float64(a.col.Clock.TimeMillis()-startMs) / 1000)
	}()

	a.role = RoleCandidate
	selfID := a.cfg.MemberID

	if err := a.awaitConnectedMembers(ctx); err != nil {
		return err
	}

	if a.cfg.AppointedLeaderID != membership.NullID {
		a.leaderMemberID = a.cfg.AppointedLeaderID
		a.votedForMemberID = a.cfg.AppointedLeaderID
		if m, ok := a.col.Members.Get(selfID); ok {
			m.RecordVote(a.cfg.AppointedLeaderID)
		}
		return nil
	}

	a.col.Members.ResetVotes()
	if self, ok := a.col.Members.Get(selfID); ok {
		self.RecordVote(selfID)
	}
	a.votedForMemberID = selfID

	req := transport.RequestVote{
		LeadershipTermID:    a.leadershipTermID,
		LastBaseLogPosition: a.recoveryPlan.LastLogPosition(),
		LastTermPosition:    a.recoveryPlan.LastTermPositionAppended(),
		CandidateID:         selfID,
	}
	a.col.Members.Each(func(m *membership.Member) {
		if m.ID == selfID {
			return
		}
		a.col.MemberStatus.RequestVote(ctx, m.ID, req)
	})

	quorum := a.col.Members.Quorum()
	for attempt := 0; attempt < awaitRetries; attempt++ {
		n := a.pollMemberStatus()
		if a.votesForCandidate(selfID) >= quorum {
			a.col.Idle.Reset()
			a.leaderMemberID = selfID
			return nil
		}
		if a.leaderMemberID != membership.NullID && a.leaderMemberID != selfID {
			// Another member's commit_position reached us first; concede.
			a.col.Idle.Reset()
			return nil
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return fatalf("election: interrupted", ErrInterrupted)
		default:
		}
		a.col.Idle.Idle(0)
	}
	return fatalf("election: no quorum reached", ErrElectionTimeout)
}

// awaitConnectedMembers is spec.md §4.2 "Await all peer publications
// connected" and §5's named spin-await `await_connected_members`: block
// until the outbound member-status channel to every other cluster member is
// established, before casting or soliciting any vote.
func (a *Agent) awaitConnectedMembers(ctx context.Context) error {
	selfID := a.cfg.MemberID
	for attempt := 0; attempt < awaitRetries; attempt++ {
		allConnected := true
		a.col.Members.Each(func(m *membership.Member) {
			if m.ID == selfID {
				return
			}
			if !a.col.MemberStatus.Connected(ctx, m.ID) {
				allConnected = false
			}
		})
		if allConnected {
			a.col.Idle.Reset()
			return nil
		}
		select {
		case <-ctx.Done():
			return fatalf("election: interrupted", ErrInterrupted)
		default:
		}
		a.col.Idle.Idle(0)
	}
	return fatalf("election: peer publications never connected", ErrElectionTimeout)
}

// votesForCandidate counts members whose recorded vote is for candidateID.
func (a *Agent) votesForCandidate(candidateID int32) int {
	n := 0
	a.col.Members.Each(func(m *membership.Member) {
		if m.HasVoted() && m.VotedForID == candidateID {
			n++
		}
	})
	return n
}

// becomeLeader is spec.md §4.2 "become leader": create the exclusive
// recorded log publication, signal co-hosted services to join, and wait for
// their ACKs before the term is considered open for ingress.
func (a *Agent) becomeLeader(ctx context.Context) error {
	a.role = RoleLeader
	a.leaderMemberID = a.cfg.MemberID

	a.col.Members.Each(func(m *membership.Member) {
		m.IsLeader = m.ID == a.cfg.MemberID
		m.TermPosition = 0
	})

	pub, recID, err := a.col.Archive.AddRecordedExclusivePublication(a.cfg.LogChannel)
	if err != nil {
		return fatalf("become leader: add recorded publication", err)
	}
	a.logAppender = pub
	a.logRecordingID = recID
	a.logSessionID = recID
	a.commitCounter = 0
	a.lastReportedTermPosition = 0

	if !a.signalServicesJoinLog(ctx) {
		return fatalf("become leader: join log send failed", ErrRequestVoteSendFailed)
	}
	if err := a.awaitServiceAcks(ctx); err != nil {
		return err
	}

	return a.awaitFollowersReady(ctx)
}

// becomeFollower is spec.md §4.2 "become follower": poll member-status until
// the leader's first commit_position names this node's log session and a
// follower_commit_position, then subscribe to the leader's recorded log and
// wait for service ACKs before accepting replay traffic.
func (a *Agent) becomeFollower(ctx context.Context) error {
	a.role = RoleFollower

	for attempt := 0; attempt < awaitRetries; attempt++ {
		n := a.pollMemberStatus()
		if a.logSessionID != membership.NullPosition && a.followerCommitPos != membership.NullPosition {
			a.col.Idle.Reset()
			break
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return fatalf("become follower: interrupted", ErrInterrupted)
		default:
		}
		a.col.Idle.Idle(0)
		if attempt == awaitRetries-1 {
			return fatalf("become follower: leader sync timed out", ErrFollowerSyncTimeout)
		}
	}

	recID, err := a.col.Archive.StartRecording(a.cfg.LogChannel)
	if err != nil {
		return fatalf("become follower: start recording", err)
	}
	a.logRecordingID = recID

	sessionID, err := a.col.Archive.StartReplay(recID, 0, archive.MaxLength)
	if err != nil {
		return fatalf("become follower: start replay", err)
	}
	img, ok := a.awaitImage(sessionID)
	if !ok {
		return fatalf("become follower: await image", ErrRecordingIDNotFound)
	}
	a.logAdapter = imageLogAdapter{img: img}

	if !a.signalServicesJoinLog(ctx) {
		return fatalf("become follower: join log send failed", ErrRequestVoteSendFailed)
	}
	return a.awaitServiceAcks(ctx)
}

// signalServicesJoinLog is spec.md §4.5 "signal services to join the log".
func (a *Agent) signalServicesJoinLog(ctx context.Context) bool {
	return a.col.ServiceControl.JoinLog(ctx, transport.JoinLog{
		LeadershipTermID: a.leadershipTermID,
		CommitPositionID: a.commitCounter,
		SessionID:        a.logSessionID,
		Channel:          a.cfg.ServiceSpyChannel,
	})
}

// awaitFollowersReady is spec.md §4.2 "await followers reaching position 0"
// before the leader starts accepting ingress for the new term; with a fresh
// term every follower's reported position already defaults to 0, so this is
// a formality kept so a future out-of-process archive can make it a real wait.
func (a *Agent) awaitFollowersReady(ctx context.Context) error {
	for attempt := 0; attempt < awaitRetries; attempt++ {
		ready := true
		a.col.Members.Each(func(m *membership.Member) {
			if m.ID != a.cfg.MemberID && m.TermPosition < 0 {
				ready = false
			}
		})
		if ready {
			a.col.Idle.Reset()
			return nil
		}
		select {
		case <-ctx.Done():
			return fatalf("become leader: interrupted", ErrInterrupted)
		default:
		}
		a.col.Idle.Idle(0)
	}
	return fatalf("become leader: followers never reported ready", ErrFollowerSyncTimeout)
}

// imageLogAdapter adapts an archive.Image (leader/recovery-oriented, reports
// back-pressure on Poll) to transport.LogAdapter (follower live-replication
// path, which never back-pressures a reader).
type imageLogAdapter struct {
	img archive.Image
}

func (l imageLogAdapter) Poll(limit int, fn func(data []byte)) int {
	n, _ := l.img.Poll(limit, fn)
	return n
}

func (l imageLogAdapter) Position() int64 { return l.img.Position() }
func (l imageLogAdapter) Closed() bool    { return l.img.Closed() }
