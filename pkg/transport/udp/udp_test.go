package udp

import (
	"sort"
	"testing"

	"github.com/latticehq/sequencer/pkg/membership"
)

func newTable() *membership.Table {
	return membership.NewTable([]membership.Member{
		{ID: 0, Endpoints: membership.Endpoints{Log: "10.0.0.1:9000"}},
		{ID: 1, Endpoints: membership.Endpoints{Log: "10.0.0.2:9000"}},
		{ID: 2, Endpoints: membership.Endpoints{Log: "10.0.0.3:9000"}},
	})
}

func TestAddNonSelfPeersSkipsSelf(t *testing.T) {
	d := New("aeron:udp?control-mode=manual")
	added := d.AddNonSelfPeers(newTable(), 1)
	sort.Strings(added)
	want := []string{"10.0.0.1:9000", "10.0.0.3:9000"}
	if len(added) != len(want) {
		t.Fatalf("got %v, want %v", added, want)
	}
	for i := range want {
		if added[i] != want[i] {
			t.Fatalf("got %v, want %v", added, want)
		}
	}
}

func TestAddNonSelfPeersIsIdempotent(t *testing.T) {
	d := New("aeron:udp?control-mode=manual")
	d.AddNonSelfPeers(newTable(), 0)
	second := d.AddNonSelfPeers(newTable(), 0)
	if len(second) != 0 {
		t.Fatalf("expected no new destinations on second call, got %v", second)
	}
	if len(d.Endpoints()) != 2 {
		t.Fatalf("expected 2 endpoints tracked, got %d", len(d.Endpoints()))
	}
}

func TestRemoveDropsDestination(t *testing.T) {
	d := New("aeron:udp?control-mode=manual")
	d.AddNonSelfPeers(newTable(), 0)
	d.Remove(1)
	if len(d.Endpoints()) != 1 {
		t.Fatalf("expected 1 endpoint after remove, got %d", len(d.Endpoints()))
	}
}
