package sequencer

import (
	"github.com/latticehq/sequencer/pkg/observability/metrics"
	"github.com/latticehq/sequencer/pkg/transport"
)

// takeSnapshot is spec.md §4.8 "Snapshot": add a new recorded publication,
// write the marker-begin/marker-end bracket, one record per OPEN session,
// the timer-service snapshot and the trailing sequencer_state record, then
// append a snapshot entry to the recording log.
func (a *Agent) takeSnapshot(now int64) {
	pub, recID, err := a.col.Archive.AddRecordedExclusivePublication(a.cfg.LogChannel + ".snapshot")
	if err != nil {
		a.terminate(fatalf("snapshot: add recorded publication", err))
		return
	}
	a.awaitRecordingCounter(pub)

	logPos := a.baseLogPosition + a.currentTermPosition()

	if !a.appendSnapshotFrame(pub, transport.LogRecordSnapshotMarkerBegin, transport.SnapshotMarkerPayload{
		LogPosition: logPos, LeadershipTermID: a.leadershipTermID,
	}) {
		a.terminate(fatalf("snapshot: marker-begin append failed", nil))
		return
	}

	for _, s := range a.sessions {
		if s.State != SessionOpen {
			continue
		}
		if !a.appendSnapshotFrame(pub, transport.LogRecordSessionSnapshot, transport.SessionSnapshotPayload{
			SessionID: s.ID, ResponseStreamID: s.ResponseStreamID, ResponseChannel: s.ResponseChannel,
			OpenTermPosition: s.OpenTermPosition, TimeOfLastActivityMs: s.TimeOfLastActivityMs,
		}) {
			a.terminate(fatalf("snapshot: session record append failed", nil))
			return
		}
	}

	for _, t := range a.timers.Snapshot() {
		if !a.appendSnapshotFrame(pub, transport.LogRecordTimerSnapshot, transport.TimerSnapshotPayload{
			CorrelationID: t.CorrelationID, DeadlineMs: t.DeadlineMs,
		}) {
			a.terminate(fatalf("snapshot: timer record append failed", nil))
			return
		}
	}

	if !a.appendSnapshotFrame(pub, transport.LogRecordSequencerState, transport.SequencerStatePayload{NextSessionID: a.nextSessionID}) {
		a.terminate(fatalf("snapshot: sequencer_state append failed", nil))
		return
	}

	if !a.appendSnapshotFrame(pub, transport.LogRecordSnapshotMarkerEnd, transport.SnapshotMarkerPayload{
		LogPosition: logPos, LeadershipTermID: a.leadershipTermID,
	}) {
		a.terminate(fatalf("snapshot: marker-end append failed", nil))
		return
	}

	a.awaitRecordingReachesPublicationPosition(pub)

	if err := a.col.RecordingLog.AppendSnapshot(recID, logPos, a.leadershipTermID, now, a.currentTermPosition()); err != nil {
		a.terminate(fatalf("snapshot: append to recording log failed", err))
		return
	}
	metrics.SnapshotsTotal.Inc()
}

func (a *Agent) appendSnapshotFrame(pub interface {
	Append(data []byte) (int64, bool)
}, kind transport.LogRecordKind, payload interface{}) bool {
	rec, err := transport.EncodeLogRecord(kind, a.leadershipTermID, a.baseLogPosition+a.currentTermPosition(), payload)
	if err != nil {
		return false
	}
	idle := a.col.Idle
	for attempt := 0; attempt < snapshotAppendRetries; attempt++ {
		if _, back := pub.Append(rec); !back {
			idle.Reset()
			return true
		}
		idle.Idle(0)
	}
	return false
}

// snapshotAppendRetries bounds the spin-await described in spec.md §5
// ("await_recording_counter" etc. poll a collaborator and invoke the idle
// strategy between idles") so a permanently back-pressured archive cannot
// spin the snapshot pipeline forever.
const snapshotAppendRetries = 64

// awaitRecordingCounter and awaitRecordingReachesPublicationPosition model
// the spin-idles spec.md §5 names explicitly. The in-process archive never
// actually needs to wait (Append is synchronous), but the idle strategy is
// still invoked once per design note §9 so a real out-of-process archive
// adapter can be substituted without changing this call site.
func (a *Agent) awaitRecordingCounter(pub interface{ RecordingID() int64 }) {
	a.col.Idle.Idle(1)
	a.col.Idle.Reset()
	_ = pub.RecordingID()
}

func (a *Agent) awaitRecordingReachesPublicationPosition(pub interface{ Position() int64 }) {
	a.col.Idle.Idle(1)
	a.col.Idle.Reset()
	_ = pub.Position()
}
