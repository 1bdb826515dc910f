// Package sequencer implements the Sequencer Agent: the single-threaded
// control loop that drives leader election, client session lifecycle,
// ordered command sequencing onto a replicated log, commit-position
// propagation, snapshotting and crash recovery (spec.md §1, §2).
package sequencer

// Role is the node's position in the FOLLOWER→CANDIDATE→LEADER state
// machine (spec.md §3, §4.2). Kept as its own tagged variant rather than
// folded into ConsensusState per design note §9 "model as two orthogonal
// tagged variants".
type Role int8

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLeader:
		return "LEADER"
	default:
		return "FOLLOWER"
	}
}

// ConsensusState is the cooperative-state-transition axis orthogonal to
// Role (spec.md §3, §4.5). Every cluster action (suspend/resume/snapshot/
// shutdown/abort) moves this, never Role.
type ConsensusState int8

const (
	StateInit ConsensusState = iota
	StateActive
	StateSuspended
	StateSnapshot
	StateShutdown
	StateAbort
	StateClosed
)

func (s ConsensusState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateSnapshot:
		return "SNAPSHOT"
	case StateShutdown:
		return "SHUTDOWN"
	case StateAbort:
		return "ABORT"
	case StateClosed:
		return "CLOSED"
	default:
		return "INIT"
	}
}

// transitions enumerates every allowed ConsensusState move. Startup moves
// INIT→ACTIVE once recovery completes (spec.md §4.2); the toggle-driven
// moves come from spec.md §4.5; SHUTDOWN/ABORT are terminal into CLOSED.
var transitions = map[ConsensusState]map[ConsensusState]bool{
	StateInit:      {StateActive: true},
	StateActive:    {StateSuspended: true, StateSnapshot: true, StateShutdown: true, StateAbort: true},
	StateSuspended: {StateActive: true, StateShutdown: true, StateAbort: true},
	StateSnapshot:  {StateActive: true, StateShutdown: true, StateAbort: true},
	StateShutdown:  {StateClosed: true},
	StateAbort:     {StateClosed: true},
	StateClosed:    {},
}

// CanTransition reports whether moving from s to next is a legal
// ConsensusState transition (spec.md §4.5 "only upon successful append does
// it transition local state").
func CanTransition(from, to ConsensusState) bool {
	return transitions[from][to]
}

// IsValid reports whether a service ACK for the given action is acceptable
// while the sequencer is in state s (spec.md §4.5 "state.is_valid(action)
// must hold; else fatal").
func (s ConsensusState) IsValid(action ClusterAction) bool {
	switch action {
	case ActionSnapshot:
		return s == StateSnapshot
	case ActionShutdown:
		return s == StateShutdown
	case ActionAbort:
		return s == StateAbort
	default:
		return false
	}
}

// ClusterAction is the action a log-appended ClusterAction record carries
// (spec.md §4.5, §6 "Log record kinds"). It is distinct from
// controlfile.ToggleValue: SUSPEND/RESUME are appended as ClusterAction
// records too, but need no service ACK gate, so the local state changes as
// soon as the append succeeds.
type ClusterAction int32

const (
	ActionSnapshot ClusterAction = iota
	ActionShutdown
	ActionAbort
	ActionSuspend
	ActionResume
)

func (a ClusterAction) String() string {
	switch a {
	case ActionShutdown:
		return "SHUTDOWN"
	case ActionAbort:
		return "ABORT"
	case ActionSuspend:
		return "SUSPEND"
	case ActionResume:
		return "RESUME"
	default:
		return "SNAPSHOT"
	}
}
