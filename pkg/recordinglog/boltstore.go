package recordinglog

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// entryKind discriminates the JSON payloads stored in each raft.Log's Data
// field. We reuse raft-boltdb purely as an append-only, index-ordered KV
// log store (raft.LogStore) — no raft.Raft node is ever constructed (see
// DESIGN.md "Dropped / rejected teacher dependencies").
type entryKind string

const (
	kindTerm     entryKind = "term"
	kindSnapshot entryKind = "snapshot"
	kindCommit   entryKind = "commit"
)

type entry struct {
	Kind entryKind `json:"kind"`

	RecordingID      int64 `json:"recordingId,omitempty"`
	LogPosition      int64 `json:"logPosition,omitempty"`
	LeadershipTermID int64 `json:"leadershipTermId,omitempty"`
	TimestampMs      int64 `json:"timestampMs,omitempty"`
	TermPosition     int64 `json:"termPosition,omitempty"`
}

// BoltStore persists recording-log metadata in a single bbolt file via
// hashicorp/raft-boltdb's BoltStore, grounded on the teacher's
// pkg/consensus/raft/raft.go use of raftboltdb.NewBoltStore for on-disk
// persistence.
type BoltStore struct {
	store *raftboltdb.BoltStore
}

func NewBoltStore(path string) (*BoltStore, error) {
	bs, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("recordinglog: open bolt store: %w", err)
	}
	return &BoltStore{store: bs}, nil
}

func (b *BoltStore) append(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	last, err := b.store.LastIndex()
	if err != nil {
		return err
	}
	return b.store.StoreLog(&raft.Log{
		Index: last + 1,
		Term:  uint64(e.LeadershipTermID + 1),
		Type:  raft.LogCommand,
		Data:  data,
	})
}

func (b *BoltStore) AppendTerm(recordingID, logPosition, leadershipTermID, timestampMs int64) error {
	return b.append(entry{
		Kind:             kindTerm,
		RecordingID:      recordingID,
		LogPosition:      logPosition,
		LeadershipTermID: leadershipTermID,
		TimestampMs:      timestampMs,
	})
}

func (b *BoltStore) AppendSnapshot(recordingID, logPosition, leadershipTermID, timestampMs, termPosition int64) error {
	return b.append(entry{
		Kind:             kindSnapshot,
		RecordingID:      recordingID,
		LogPosition:      logPosition,
		LeadershipTermID: leadershipTermID,
		TimestampMs:      timestampMs,
		TermPosition:     termPosition,
	})
}

func (b *BoltStore) CommitLeadershipTermPosition(leadershipTermID, position int64) error {
	return b.append(entry{
		Kind:             kindCommit,
		LeadershipTermID: leadershipTermID,
		TermPosition:     position,
	})
}

func (b *BoltStore) CreateRecoveryPlan() (RecoveryPlan, error) {
	first, err := b.store.FirstIndex()
	if err != nil {
		return RecoveryPlan{}, err
	}
	last, err := b.store.LastIndex()
	if err != nil {
		return RecoveryPlan{}, err
	}

	var plan RecoveryPlan
	terms := make(map[int64]*TermEntry)
	var termOrder []int64
	commits := make(map[int64]int64)

	for idx := first; idx <= last && last > 0; idx++ {
		var l raft.Log
		if err := b.store.GetLog(idx, &l); err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(l.Data, &e); err != nil {
			continue
		}
		switch e.Kind {
		case kindSnapshot:
			plan.HasSnapshot = true
			plan.Snapshot = SnapshotEntry{
				RecordingID:      e.RecordingID,
				LogPosition:      e.LogPosition,
				LeadershipTermID: e.LeadershipTermID,
				TimestampMs:      e.TimestampMs,
				TermPosition:     e.TermPosition,
			}
			// A snapshot truncates prior term history from the plan.
			terms = make(map[int64]*TermEntry)
			termOrder = nil
		case kindTerm:
			if _, seen := terms[e.LeadershipTermID]; !seen {
				termOrder = append(termOrder, e.LeadershipTermID)
			}
			terms[e.LeadershipTermID] = &TermEntry{
				RecordingID:      e.RecordingID,
				StartPosition:    0,
				LogPosition:      e.LogPosition,
				LeadershipTermID: e.LeadershipTermID,
			}
		case kindCommit:
			commits[e.LeadershipTermID] = e.TermPosition
		}
	}

	for _, termID := range termOrder {
		te := terms[termID]
		if stop, ok := commits[termID]; ok {
			te.StopPosition = stop
		}
		plan.Terms = append(plan.Terms, *te)
	}
	return plan, nil
}

func (b *BoltStore) Close() error { return b.store.Close() }

var _ RecordingLog = (*BoltStore)(nil)
