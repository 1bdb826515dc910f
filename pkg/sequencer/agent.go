package sequencer

import (
	"context"

	"github.com/latticehq/sequencer/pkg/archive"
	"github.com/latticehq/sequencer/pkg/authenticator"
	"github.com/latticehq/sequencer/pkg/clock"
	"github.com/latticehq/sequencer/pkg/controlfile"
	"github.com/latticehq/sequencer/pkg/idle"
	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/observability/metrics"
	"github.com/latticehq/sequencer/pkg/recordinglog"
	"github.com/latticehq/sequencer/pkg/transport"
)

// Config bundles every tunable the spec names by name (spec.md §5
// "Cancellation/timeouts", §4.3 session cap).
type Config struct {
	MemberID              int32
	AppointedLeaderID     int32 // membership.NullID if no appointed leader
	IngressFragmentLimit  int
	SessionTimeoutMs      int64
	HeartbeatIntervalMs   int64
	HeartbeatTimeoutMs    int64
	MaxConcurrentSessions int
	LogChannel            string
	ServiceSpyChannel     string
	ServiceCount          int32
}

// Collaborators bundles every external capability the sequencer consumes
// (spec.md §6 "Consumed collaborators"). All are out of scope of the core
// per spec.md §1; the sequencer only ever calls through these interfaces.
type Collaborators struct {
	Members        *membership.Table
	Archive        archive.Archive
	RecordingLog   recordinglog.RecordingLog
	Authenticator  authenticator.Authenticator
	MemberStatus   transport.MemberStatusPublisher
	ServiceControl transport.ServiceControlPublisher
	Egress         transport.EgressPublisher
	ControlFile    controlfile.ControlFile
	Toggle         *controlfile.Toggle
	Idle           idle.Strategy
	Clock          clock.EpochClock

	// Terminate is invoked exactly once when a FatalError would otherwise
	// propagate out of DoWork (spec.md §7 "Protocol and environmental faults
	// terminate the agent; the outer runner's lifecycle takes over").
	Terminate func(err error)
}

// Agent is the Sequencer Agent: one instance per cluster node, driven by
// repeated calls to DoWork from an external runner (spec.md §2).
type Agent struct {
	cfg Config
	col Collaborators

	role           Role
	consensusState ConsensusState

	leaderMemberID    int32
	votedForMemberID  int32
	leadershipTermID  int64
	baseLogPosition   int64
	followerCommitPos int64

	timeOfLastLogUpdateMs int64
	nextSessionID         int64
	serviceAckCount       int32
	logSessionID          int64
	logRecordingID        int64
	isRecovered           bool

	failedTimerCancellations []int64

	cachedTimeMs int64

	sessions map[int64]*Session
	pending  []*Session
	rejected []*Session
	timers   *TimerService

	quorumScratch            []int64
	commitCounter            int64
	lastReportedTermPosition int64

	lastHeartbeatBroadcastMs int64
	lastHeartbeatRecvMs      int64

	recoveryPlan  recordinglog.RecoveryPlan
	recoveryState RecoveryStateCounter

	logAppender transport.LogAppender
	logAdapter  transport.LogAdapter

	ingressCh      chan *ingressItem
	memberStatusCh chan memberStatusItem
	serviceCtlCh   chan transport.Ack

	closed bool
}

// New constructs an Agent in role=FOLLOWER, state=INIT. Run (or the
// caller's equivalent startup call) must be invoked once before DoWork
// (spec.md §4.2 "Startup sequence").
func New(cfg Config, col Collaborators) *Agent {
	if col.Idle == nil {
		col.Idle = idle.Spin{}
	}
	if col.Clock == nil {
		col.Clock = clock.System{}
	}
	return &Agent{
		cfg:              cfg,
		col:              col,
		role:             RoleFollower,
		consensusState:   StateInit,
		leaderMemberID:   membership.NullID,
		votedForMemberID: membership.NullID,
		leadershipTermID: -1,
		followerCommitPos: membership.NullPosition,
		nextSessionID:    0,
		logSessionID:     membership.NullPosition,
		sessions:         make(map[int64]*Session),
		timers:           NewTimerService(),
		ingressCh:        make(chan *ingressItem, ingressQueueCapacity),
		memberStatusCh:   make(chan memberStatusItem, memberStatusQueueCapacity),
		serviceCtlCh:     make(chan transport.Ack, serviceCtlQueueCapacity),
	}
}

func (a *Agent) Role() Role                     { return a.role }
func (a *Agent) ConsensusState() ConsensusState { return a.consensusState }
func (a *Agent) LeadershipTermID() int64        { return a.leadershipTermID }
func (a *Agent) BaseLogPosition() int64         { return a.baseLogPosition }
func (a *Agent) CommitPosition() int64          { return a.commitCounter }
func (a *Agent) IsRecovered() bool              { return a.isRecovered }
func (a *Agent) LeaderMemberID() int32          { return a.leaderMemberID }
func (a *Agent) OpenSessions() int              { return len(a.sessions) }
func (a *Agent) RecoveryState() RecoveryStateCounter { return a.recoveryState }

// nowMs returns the cached wall clock, refreshing it and reporting whether
// this tick is a slow tick (spec.md §4.1 "if the coarse cached clock
// changed ... it marks the tick as a slow tick").
func (a *Agent) nowMs() (now int64, slowTick bool) {
	now = a.col.Clock.TimeMillis()
	if now != a.cachedTimeMs {
		a.cachedTimeMs = now
		return now, true
	}
	return now, false
}

// currentTermPosition is the local node's offset within the current term —
// for the leader this is the log appender's position, for a follower the
// log adapter's consumed position (GLOSSARY "Base log position").
func (a *Agent) currentTermPosition() int64 {
	if a.role == RoleLeader && a.logAppender != nil {
		return a.logAppender.Position()
	}
	if a.logAdapter != nil {
		return a.logAdapter.Position()
	}
	return 0
}

// DoWork performs one tick and returns a non-negative work count for the
// runner's backpressure idling (spec.md §4.1).
func (a *Agent) DoWork(ctx context.Context) int {
	if a.consensusState == StateClosed {
		return 0
	}

	now, slow := a.nowMs()
	work := 0

	switch {
	case a.role == RoleLeader && a.consensusState == StateActive:
		work += a.pollIngress()
	case a.role == RoleFollower && (a.consensusState == StateActive || a.consensusState == StateSuspended):
		work += a.pollLogAdapter(now)
	}

	work += a.pollMemberStatus()
	work += a.updatePositions(now)

	if slow {
		a.col.ControlFile.UpdateActivityTimestamp(now)
		work += a.drainServiceControl()

		if a.role == RoleLeader {
			work += a.processControlToggle(now)
		}
		if a.role == RoleLeader && a.consensusState == StateActive {
			work += a.pollPendingSessions(now)
			work += a.pollOpenSessions(now)
			work += a.pollRejectedSessions(now)
			work += a.timers.Poll(now, a.onTimerFire)
		}
	}

	if a.role == RoleFollower && a.consensusState != StateClosed {
		if err := a.checkHeartbeatTimeout(now); err != nil {
			a.terminate(err)
		}
	}

	metrics.ClusterMembers.Set(float64(a.col.Members.Len()))
	metrics.IsLeader.Set(boolToFloat(a.role == RoleLeader))
	metrics.Role.Set(float64(a.role))
	metrics.ConsensusState.Set(float64(a.consensusState))
	metrics.CommitPosition.Set(float64(a.commitCounter))
	metrics.LeadershipTermID.Set(float64(a.leadershipTermID))
	metrics.OpenSessions.Set(float64(len(a.sessions)))
	metrics.RecoveryStateLeadershipTermID.Set(float64(a.recoveryState.LeadershipTermID))
	metrics.RecoveryStateTermPosition.Set(float64(a.recoveryState.TermPosition))
	metrics.RecoveryStateTimestamp.Set(float64(a.recoveryState.TimestampMs))
	metrics.RecoveryStateTermCount.Set(float64(a.recoveryState.TermCount))

	return work
}

func (a *Agent) terminate(err error) {
	a.consensusState = StateClosed
	a.closed = true
	if a.col.Terminate != nil {
		a.col.Terminate(err)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
