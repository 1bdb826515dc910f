// Package membership implements the ClusterMember table (spec.md §3, §4.2).
// Membership is static: the member set is fixed at startup from
// configuration, unlike the teacher's gossip-joined membership. Table holds
// the fixed configured set (Get, Each, Ids, Len, Quorum, QuorumPosition and
// the vote helpers); there is no Membership interface. The optional
// liveness side channel lives in the memberlist subpackage.
package membership

import "sort"

// Endpoints groups the three addresses a ClusterMember exposes (spec.md §3).
type Endpoints struct {
	ClientFacing string
	MemberFacing string
	Log          string
}

// Member is one row of the static ClusterMember table.
type Member struct {
	ID        int32
	Endpoints Endpoints

	// TermPosition is the last position that member reported for the
	// current leadership term (spec.md §3, §4.4).
	TermPosition int64

	// VotedForID is the candidate this member voted for in the current
	// term, or NullID if it has not voted yet (spec.md §3, §4.2).
	VotedForID int32

	// IsLeader marks the member the table believes is currently leading.
	IsLeader bool

	// hasVoted distinguishes "voted for member 0" from "has not voted".
	hasVoted bool
}

// NullID marks the absence of a member id (candidate, leader, vote target).
const NullID int32 = -1

// NullPosition marks the absence of a known position.
const NullPosition int64 = -1

func (m *Member) RecordVote(candidateID int32) {
	m.VotedForID = candidateID
	m.hasVoted = true
}

func (m *Member) HasVoted() bool { return m.hasVoted }

func (m *Member) ResetVote() {
	m.VotedForID = NullID
	m.hasVoted = false
}

// Table is the set of ClusterMembers known at startup, keyed by id. It is
// built once from configuration and never grows or shrinks for the
// lifetime of the process — dynamic membership reconfiguration is an
// explicit Non-goal (spec.md §1).
type Table struct {
	members map[int32]*Member
	order   []int32
}

// NewTable builds a Table from a fixed member list. The list must include
// an entry for every member in the cluster, including the local node.
func NewTable(members []Member) *Table {
	t := &Table{members: make(map[int32]*Member, len(members))}
	for i := range members {
		m := members[i]
		m.VotedForID = NullID
		cp := m
		t.members[cp.ID] = &cp
		t.order = append(t.order, cp.ID)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	return t
}

func (t *Table) Get(id int32) (*Member, bool) {
	m, ok := t.members[id]
	return m, ok
}

func (t *Table) Len() int { return len(t.members) }

// Quorum returns floor(n/2)+1, the minimum number of members that must
// agree on a position for it to be considered committed (spec.md §4.4,
// GLOSSARY "Quorum position").
func (t *Table) Quorum() int { return len(t.members)/2 + 1 }

// Each invokes fn for every member in ascending id order, deterministically.
func (t *Table) Each(fn func(*Member)) {
	for _, id := range t.order {
		fn(t.members[id])
	}
}

// Ids returns the member ids in ascending order.
func (t *Table) Ids() []int32 {
	out := make([]int32, len(t.order))
	copy(out, t.order)
	return out
}

// QuorumPosition computes the largest term position reported by at least
// Quorum() members, using a reusable descending-sorted scratch buffer
// (spec.md §4.4, SPEC_FULL.md supplemented feature #4 — grounded on the
// Aeron Cluster source's ClusterMember.quorumPosition).
func (t *Table) QuorumPosition(scratch []int64) (int64, []int64) {
	if cap(scratch) < len(t.members) {
		scratch = make([]int64, len(t.members))
	}
	scratch = scratch[:0]
	for _, id := range t.order {
		scratch = append(scratch, t.members[id].TermPosition)
	}
	sort.Slice(scratch, func(i, j int) bool { return scratch[i] > scratch[j] })
	q := t.Quorum()
	if q <= 0 || q > len(scratch) {
		return NullPosition, scratch
	}
	return scratch[q-1], scratch
}

// ResetVotes clears every member's vote record; called at the start of a
// new election (spec.md §4.2).
func (t *Table) ResetVotes() {
	for _, m := range t.members {
		m.ResetVote()
	}
}

// VoteCount returns how many members have cast a vote in the current term.
func (t *Table) VoteCount() int {
	n := 0
	for _, m := range t.members {
		if m.HasVoted() {
			n++
		}
	}
	return n
}
