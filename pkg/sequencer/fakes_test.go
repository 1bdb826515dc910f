package sequencer

import (
	"context"
	"errors"
	"sync"

	"github.com/latticehq/sequencer/pkg/archive"
	"github.com/latticehq/sequencer/pkg/authenticator"
	"github.com/latticehq/sequencer/pkg/clock"
	"github.com/latticehq/sequencer/pkg/controlfile"
	"github.com/latticehq/sequencer/pkg/idle"
	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/recordinglog"
	"github.com/latticehq/sequencer/pkg/transport"
)

var errAppendSnapshotFailed = errors.New("fake: append snapshot failed")

// fakeRecordingLog is an in-memory stand-in for recordinglog.RecordingLog
// good enough to drive Run() through cold-start and a handful of recovery
// steps without touching the filesystem.
type fakeRecordingLog struct {
	mu      sync.Mutex
	plan    recordinglog.RecoveryPlan
	terms   []recordinglog.TermEntry
	commits map[int64]int64

	// failAppendSnapshot, if set, makes AppendSnapshot return an error —
	// used to simulate a fatal recording-log fault partway through a
	// snapshot.
	failAppendSnapshot bool
}

func newFakeRecordingLog(plan recordinglog.RecoveryPlan) *fakeRecordingLog {
	return &fakeRecordingLog{plan: plan, commits: make(map[int64]int64)}
}

func (f *fakeRecordingLog) AppendTerm(recordingID, logPosition, leadershipTermID, timestampMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, recordinglog.TermEntry{
		RecordingID: recordingID, StartPosition: 0, StopPosition: 0,
		LogPosition: logPosition, LeadershipTermID: leadershipTermID,
	})
	return nil
}

func (f *fakeRecordingLog) AppendSnapshot(recordingID, logPosition, leadershipTermID, timestampMs, termPosition int64) error {
	if f.failAppendSnapshot {
		return errAppendSnapshotFailed
	}
	return nil
}

func (f *fakeRecordingLog) CommitLeadershipTermPosition(leadershipTermID, position int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[leadershipTermID] = position
	return nil
}

func (f *fakeRecordingLog) CreateRecoveryPlan() (recordinglog.RecoveryPlan, error) {
	return f.plan, nil
}

func (f *fakeRecordingLog) Close() error { return nil }

var _ recordinglog.RecordingLog = (*fakeRecordingLog)(nil)

// fakeMemberStatus records every outbound peer RPC and always reports
// success; tests inspect the recorded calls directly rather than routing
// through a second Agent.
type fakeMemberStatus struct {
	mu                sync.Mutex
	requestVotes      []transport.RequestVote
	votes             []transport.Vote
	appendedPositions []transport.AppendedPosition
	commitPositions   []transport.CommitPosition

	// disconnected, if set, names member ids Connected should report false
	// for; everything else reports connected.
	disconnected map[int32]bool
}

func (f *fakeMemberStatus) RequestVote(ctx context.Context, to int32, msg transport.RequestVote) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestVotes = append(f.requestVotes, msg)
	return true
}

func (f *fakeMemberStatus) Vote(ctx context.Context, to int32, msg transport.Vote) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, msg)
	return true
}

func (f *fakeMemberStatus) AppendedPosition(ctx context.Context, to int32, msg transport.AppendedPosition) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendedPositions = append(f.appendedPositions, msg)
	return true
}

func (f *fakeMemberStatus) CommitPosition(ctx context.Context, to int32, msg transport.CommitPosition) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitPositions = append(f.commitPositions, msg)
	return true
}

func (f *fakeMemberStatus) Connected(ctx context.Context, to int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected[to]
}

var _ transport.MemberStatusPublisher = (*fakeMemberStatus)(nil)

// fakeServiceControl always succeeds and records the JoinLog calls it saw.
type fakeServiceControl struct {
	mu       sync.Mutex
	joinLogs []transport.JoinLog
}

func (f *fakeServiceControl) JoinLog(ctx context.Context, msg transport.JoinLog) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinLogs = append(f.joinLogs, msg)
	return true
}

var _ transport.ServiceControlPublisher = (*fakeServiceControl)(nil)

// fakeEgress records every outbound client-facing send and always succeeds.
type fakeEgress struct {
	mu               sync.Mutex
	challenges       []transport.Challenge
	connectResponses []transport.ConnectResponse
	sessionEvents    []transport.SessionEvent
	adminResponses   int
}

func (f *fakeEgress) SendChallenge(ctx context.Context, sessionID int64, msg transport.Challenge) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges = append(f.challenges, msg)
	return true
}

func (f *fakeEgress) SendConnectResponse(ctx context.Context, sessionID int64, msg transport.ConnectResponse) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectResponses = append(f.connectResponses, msg)
	return true
}

func (f *fakeEgress) SendSessionEvent(ctx context.Context, sessionID int64, msg transport.SessionEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionEvents = append(f.sessionEvents, msg)
	return true
}

func (f *fakeEgress) SendAdminResponse(ctx context.Context, sessionID int64, correlationID int64, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminResponses++
	return true
}

var _ transport.EgressPublisher = (*fakeEgress)(nil)

// testHarness bundles one Agent with every collaborator fake/real-in-memory
// implementation it needs, for tests that drive DoWork directly rather than
// through Run().
type testHarness struct {
	agent        *Agent
	clk          *clock.Fixed
	members      *membership.Table
	memberStatus *fakeMemberStatus
	serviceCtl   *fakeServiceControl
	egress       *fakeEgress
	archive      *archive.InProcess
	recordingLog *fakeRecordingLog
	terminated   error
}

func newTestHarness(cfg Config, memberIDs []int32) *testHarness {
	var members []membership.Member
	for _, id := range memberIDs {
		members = append(members, membership.Member{ID: id})
	}
	table := membership.NewTable(members)

	h := &testHarness{
		clk:          clock.NewFixed(1000),
		members:      table,
		memberStatus: &fakeMemberStatus{},
		serviceCtl:   &fakeServiceControl{},
		egress:       &fakeEgress{},
		archive:      archive.NewInProcess(),
	}
	h.recordingLog = newFakeRecordingLog(recordinglog.RecoveryPlan{})

	col := Collaborators{
		Members:        table,
		Archive:        h.archive,
		RecordingLog:   h.recordingLog,
		Authenticator:  authenticator.AllowAll{},
		MemberStatus:   h.memberStatus,
		ServiceControl: h.serviceCtl,
		Egress:         h.egress,
		ControlFile:    &controlfile.InMemory{},
		Toggle:         &controlfile.Toggle{},
		Idle:           idle.Spin{},
		Clock:          h.clk,
		Terminate:      func(err error) { h.terminated = err },
	}
	if cfg.IngressFragmentLimit == 0 {
		cfg.IngressFragmentLimit = 16
	}
	if cfg.MaxConcurrentSessions == 0 {
		cfg.MaxConcurrentSessions = 16
	}
	if cfg.SessionTimeoutMs == 0 {
		cfg.SessionTimeoutMs = 60000
	}
	if cfg.HeartbeatIntervalMs == 0 {
		cfg.HeartbeatIntervalMs = 1000
	}
	if cfg.LogChannel == "" {
		cfg.LogChannel = "test-log"
	}
	h.agent = New(cfg, col)
	return h
}
