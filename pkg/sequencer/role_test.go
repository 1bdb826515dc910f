package sequencer

import "testing"

func TestConsensusStateCanTransition(t *testing.T) {
	cases := []struct {
		from, to ConsensusState
		want     bool
	}{
		{StateInit, StateActive, true},
		{StateActive, StateSuspended, true},
		{StateActive, StateInit, false},
		{StateSuspended, StateActive, true},
		{StateShutdown, StateClosed, true},
		{StateClosed, StateActive, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestConsensusStateIsValid(t *testing.T) {
	cases := []struct {
		state  ConsensusState
		action ClusterAction
		want   bool
	}{
		{StateSnapshot, ActionSnapshot, true},
		{StateActive, ActionSnapshot, false},
		{StateShutdown, ActionShutdown, true},
		{StateAbort, ActionAbort, true},
		{StateSuspended, ActionSuspend, false},
	}
	for _, c := range cases {
		if got := c.state.IsValid(c.action); got != c.want {
			t.Errorf("%s.IsValid(%s) = %v, want %v", c.state, c.action, got, c.want)
		}
	}
}

func TestRoleString(t *testing.T) {
	if RoleLeader.String() != "LEADER" {
		t.Errorf("got %q, want LEADER", RoleLeader.String())
	}
	if RoleFollower.String() != "FOLLOWER" {
		t.Errorf("got %q, want FOLLOWER", RoleFollower.String())
	}
}
