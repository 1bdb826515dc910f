package grpc

import (
	"testing"

	"github.com/latticehq/sequencer/pkg/membership"
)

func TestMemberStatusRouterResolvesAddr(t *testing.T) {
	table := membership.NewTable([]membership.Member{
		{ID: 0, Endpoints: membership.Endpoints{MemberFacing: "10.0.0.1:9001"}},
		{ID: 1, Endpoints: membership.Endpoints{MemberFacing: "10.0.0.2:9001"}},
	})
	r := NewMemberStatusRouter(NewClient(0), table)

	addr, ok := r.addr(1)
	if !ok || addr != "10.0.0.2:9001" {
		t.Fatalf("got (%q, %v), want (10.0.0.2:9001, true)", addr, ok)
	}

	if _, ok := r.addr(99); ok {
		t.Fatalf("expected unknown member id to resolve false")
	}
}
