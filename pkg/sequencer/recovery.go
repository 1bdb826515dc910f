package sequencer

import (
	"context"

	"github.com/latticehq/sequencer/pkg/archive"
	"github.com/latticehq/sequencer/pkg/recordinglog"
	"github.com/latticehq/sequencer/pkg/transport"
)

// RecoveryStateCounter is spec.md §3/§6's externally observable
// "recovery-state counter": allocated once at startup, carrying
// (leadership_term_id, term_position, timestamp, term_count). Aeron models
// this as an entry in the shared counters file; this module's counters
// substrate is Prometheus (spec.md §1 "counters/telemetry substrate" is an
// external collaborator), so installRecoveryStateCounter sets these fields
// on the Agent and DoWork publishes them as the metrics.RecoveryState*
// gauges every tick.
type RecoveryStateCounter struct {
	LeadershipTermID int64
	TermPosition     int64
	TimestampMs      int64
	TermCount        int32
}

// installRecoveryStateCounter is spec.md §4.2 "install a recovery-state
// counter", run once immediately after the recovery plan is built and
// before any snapshot/term replay, with term_count=0 (§8 scenario 1).
func (a *Agent) installRecoveryStateCounter(plan recordinglog.RecoveryPlan, now int64) {
	a.recoveryState = RecoveryStateCounter{
		LeadershipTermID: plan.LastLeadershipTermID(),
		TermPosition:     plan.LastTermPositionAppended(),
		TimestampMs:      now,
		TermCount:        0,
	}
}

// Run is the spec.md §4.2 "Startup sequence": build the recovery plan,
// replay any snapshot and term steps, then run the election and become
// leader or follower. Run must be called exactly once before the first
// DoWork.
func (a *Agent) Run(ctx context.Context) error {
	plan, err := a.col.RecordingLog.CreateRecoveryPlan()
	if err != nil {
		return fatalf("startup: create recovery plan", err)
	}
	a.recoveryPlan = plan
	a.baseLogPosition = 0

	now, _ := a.nowMs()
	a.installRecoveryStateCounter(plan, now)

	if plan.HasSnapshot {
		if err := a.recoverFromSnapshot(ctx, plan); err != nil {
			return err
		}
	}

	for i, term := range plan.Terms {
		if err := a.recoverTerm(ctx, i, term); err != nil {
			return err
		}
	}

	a.isRecovered = true
	a.consensusState = StateActive
	a.leadershipTermID = plan.LastLeadershipTermID() + 1

	if a.col.Members.Len() > 1 {
		if err := a.runElection(ctx); err != nil {
			return err
		}
	} else {
		a.votedForMemberID = a.cfg.MemberID
		a.leaderMemberID = a.cfg.MemberID
	}

	if a.leaderMemberID == a.cfg.MemberID {
		if err := a.becomeLeader(ctx); err != nil {
			return err
		}
	} else {
		if err := a.becomeFollower(ctx); err != nil {
			return err
		}
	}

	now, _ = a.nowMs()
	return a.col.RecordingLog.AppendTerm(a.logRecordingID, a.baseLogPosition, a.leadershipTermID, now)
}

// recoverFromSnapshot is spec.md §4.7 "If a snapshot exists: replay it
// through a snapshot loader ... until done or image closes (closing
// mid-stream is fatal). Await service ACKs."
func (a *Agent) recoverFromSnapshot(ctx context.Context, plan recordinglog.RecoveryPlan) error {
	snap := plan.Snapshot
	sessionID, err := a.col.Archive.StartReplay(snap.RecordingID, 0, archive.MaxLength)
	if err != nil {
		return fatalf("recover snapshot: start replay", err)
	}
	img, ok := a.awaitImage(sessionID)
	if !ok {
		return fatalf("recover snapshot: await image", ErrRecordingIDNotFound)
	}

	for {
		n, _ := img.Poll(1, func(data []byte) { a.dispatchSnapshotRecord(data) })
		if n > 0 {
			continue
		}
		if img.Closed() {
			break
		}
		a.col.Idle.Idle(0)
	}
	a.col.Idle.Reset()
	a.baseLogPosition = snap.LogPosition
	a.leadershipTermID = snap.LeadershipTermID

	return a.awaitServiceAcks(ctx)
}

func (a *Agent) dispatchSnapshotRecord(data []byte) {
	rec, err := transport.DecodeLogRecord(data)
	if err != nil {
		return
	}
	switch rec.Kind {
	case transport.LogRecordSessionSnapshot:
		var p transport.SessionSnapshotPayload
		if unmarshalPayload(rec.Payload, &p) {
			a.sessions[p.SessionID] = &Session{
				ID: p.SessionID, State: SessionOpen, ResponseStreamID: p.ResponseStreamID,
				ResponseChannel: p.ResponseChannel, OpenTermPosition: p.OpenTermPosition,
				TimeOfLastActivityMs: p.TimeOfLastActivityMs,
			}
			a.bumpNextSessionID(p.SessionID)
		}
	case transport.LogRecordTimerSnapshot:
		var p transport.TimerSnapshotPayload
		if unmarshalPayload(rec.Payload, &p) {
			a.timers.ScheduleTimer(p.CorrelationID, p.DeadlineMs)
		}
	case transport.LogRecordSequencerState:
		var p transport.SequencerStatePayload
		if unmarshalPayload(rec.Payload, &p) {
			a.bumpNextSessionID(p.NextSessionID - 1)
		}
	}
}

// recoverTerm is spec.md §4.7 "For each term step i".
func (a *Agent) recoverTerm(ctx context.Context, i int, term recordinglog.TermEntry) error {
	if term.LogPosition != a.baseLogPosition {
		return fatalf("recover term: base position mismatch", ErrReplayBasePositionMismatch)
	}
	a.leadershipTermID = term.LeadershipTermID

	length := archive.MaxLength
	if term.StopPosition > 0 {
		length = term.StopPosition - term.StartPosition
	}
	sessionID, err := a.col.Archive.StartReplay(term.RecordingID, term.StartPosition, length)
	if err != nil {
		return fatalf("recover term: start replay", err)
	}
	_ = i // term index only orders recovery, not tied to the replay session id our Archive assigns

	img, ok := a.awaitImage(sessionID)
	if !ok {
		return fatalf("recover term: await image", ErrRecordingIDNotFound)
	}

	if err := a.replayTerm(img, term.StopPosition-term.StartPosition); err != nil {
		return err
	}

	if err := a.awaitServiceAcks(ctx); err != nil {
		return err
	}

	termPos := img.Position()
	if termPos > term.StopPosition-term.StartPosition {
		if err := a.col.RecordingLog.CommitLeadershipTermPosition(term.LeadershipTermID, termPos); err != nil {
			return fatalf("recover term: commit position", err)
		}
	}
	a.baseLogPosition += termPos
	a.drainFailedTimerCancellations()

	a.recoveryState.LeadershipTermID = term.LeadershipTermID
	a.recoveryState.TermPosition = termPos
	a.recoveryState.TimestampMs, _ = a.nowMs()
	a.recoveryState.TermCount++

	return nil
}

// replayTerm is spec.md §4.7 "drive replayTerm(image, stopPosition) which
// pumps the log adapter until image.position ≥ stopPosition or image
// closes at end-of-stream".
func (a *Agent) replayTerm(img archive.Image, stopPosition int64) error {
	for img.Position() < stopPosition {
		n, _ := img.Poll(1, func(data []byte) { a.dispatchReplay(data, a.cachedTimeMs) })
		if n > 0 {
			continue
		}
		if img.Closed() {
			return fatalf("recover term: image closed mid-stream", ErrRecoveryImageClosedMidStream)
		}
		a.col.Idle.Idle(0)
	}
	a.col.Idle.Reset()
	return nil
}

// awaitImage spin-polls Archive.Image until the replay session's image is
// available (spec.md §5 "await_image").
func (a *Agent) awaitImage(sessionID int64) (archive.Image, bool) {
	for attempt := 0; attempt < awaitRetries; attempt++ {
		if img, ok := a.col.Archive.Image(sessionID); ok {
			a.col.Idle.Reset()
			return img, true
		}
		a.col.Idle.Idle(0)
	}
	return nil, false
}

// awaitServiceAcks spin-polls the service-control queue until ServiceCount
// ACKs have arrived (spec.md §5 "await_service_acks"). Recovery and startup
// join-log do not gate on log-position/action validity the way the live
// handleAck path does: during replay and startup the sequencer itself is
// the source of truth for what position services should have reached.
func (a *Agent) awaitServiceAcks(ctx context.Context) error {
	if a.cfg.ServiceCount == 0 {
		return nil
	}
	var count int32
	for attempt := 0; attempt < awaitRetries*4; attempt++ {
		select {
		case <-a.serviceCtlCh:
			count++
			if count >= a.cfg.ServiceCount {
				a.col.Idle.Reset()
				return nil
			}
			a.col.Idle.Reset()
		case <-ctx.Done():
			return fatalf("await service acks: interrupted", ErrInterrupted)
		default:
			a.col.Idle.Idle(0)
		}
	}
	return fatalf("await service acks: timed out", ErrAckCountExceeded)
}

// awaitRetries bounds every spin-idle so a startup collaborator that never
// becomes ready fails loudly instead of hanging a node forever; a real
// deployment would tune this far higher or make it unbounded with
// interruption handled purely via ctx (spec.md §5 "Interrupt of the host
// task during any spin-idle is fatal").
const awaitRetries = 10000
