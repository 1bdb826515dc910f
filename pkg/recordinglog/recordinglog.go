// Package recordinglog implements the "Recording log metadata" external
// collaborator (spec.md §6): appendTerm, appendSnapshot,
// commitLeadershipTermPosition, createRecoveryPlan. It is consumed by the
// sequencer only through the RecordingLog interface below (spec.md §1 lists
// this store as out of scope of the core); this package provides the one
// concrete adapter this module ships, backed by raft-boltdb's BoltStore
// (see DESIGN.md for why raft.Log/raft.LogStore are reused without ever
// constructing a raft.Raft node).
package recordinglog

// SnapshotEntry records a completed snapshot (spec.md §3 RecoveryPlan).
type SnapshotEntry struct {
	RecordingID       int64
	LogPosition       int64
	LeadershipTermID  int64
	TimestampMs       int64
	TermBaseLogPos    int64
	TermPosition      int64
}

// TermEntry records a completed (or in-progress) leadership term
// (spec.md §3 RecoveryPlan "ordered list of term replay steps").
type TermEntry struct {
	RecordingID      int64
	StartPosition    int64
	StopPosition     int64
	LogPosition      int64
	LeadershipTermID int64
}

// RecoveryPlan is built once at startup and is then immutable (spec.md §3
// "Ownership").
type RecoveryPlan struct {
	HasSnapshot bool
	Snapshot    SnapshotEntry
	Terms       []TermEntry
}

// LastLogPosition is the absolute log position the plan's most recent step
// ends at — used as the tie-break base in vote grants (spec.md §4.2).
func (p RecoveryPlan) LastLogPosition() int64 {
	if len(p.Terms) > 0 {
		last := p.Terms[len(p.Terms)-1]
		return last.LogPosition + (last.StopPosition - last.StartPosition)
	}
	if p.HasSnapshot {
		return p.Snapshot.LogPosition
	}
	return 0
}

// LastTermPositionAppended is the term position at the end of the plan —
// the other half of the vote-grant tie-break (spec.md §4.2).
func (p RecoveryPlan) LastTermPositionAppended() int64 {
	if len(p.Terms) > 0 {
		last := p.Terms[len(p.Terms)-1]
		return last.StopPosition - last.StartPosition
	}
	if p.HasSnapshot {
		return p.Snapshot.TermPosition
	}
	return 0
}

// LastLeadershipTermID is the leadership term id the plan leaves off at,
// used to seed the sequencer's leadership_term_id before it is incremented
// for the new term at startup (spec.md §4.2).
func (p RecoveryPlan) LastLeadershipTermID() int64 {
	if len(p.Terms) > 0 {
		return p.Terms[len(p.Terms)-1].LeadershipTermID
	}
	if p.HasSnapshot {
		return p.Snapshot.LeadershipTermID
	}
	return -1
}

// RecordingLog is the capability set spec.md §6 names for this collaborator.
type RecordingLog interface {
	// AppendTerm records that leadershipTermID began at logPosition, with
	// the recording identified by recordingID carrying its bytes.
	AppendTerm(recordingID int64, logPosition int64, leadershipTermID int64, timestampMs int64) error

	// AppendSnapshot records a completed snapshot.
	AppendSnapshot(recordingID int64, logPosition int64, leadershipTermID int64, timestampMs int64, termPosition int64) error

	// CommitLeadershipTermPosition updates the term position committed for
	// a previously appended term (spec.md §4.7 "commit the term position if
	// it advanced beyond the plan entry").
	CommitLeadershipTermPosition(leadershipTermID int64, position int64) error

	// CreateRecoveryPlan scans the persisted entries and builds the
	// immutable RecoveryPlan consumed at startup (spec.md §4.7).
	CreateRecoveryPlan() (RecoveryPlan, error)

	Close() error
}
