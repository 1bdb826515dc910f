// Package udp builds the leader's UDP log-channel destination set
// (spec.md §4.2 "become leader": "for a UDP log channel with no endpoint
// parameter, add one destination per non-self peer using that peer's log
// endpoint"). It is grounded on the teacher's pkg/transport/udp/udp.go,
// which only ever carried a bare advertise address; this expands it into a
// manual multi-destination-cast builder over the static ClusterMember table.
package udp

import (
	"fmt"

	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/transport"
)

// ManualDestinations tracks which peer log endpoints are currently attached
// to the leader's log publication. Aeron calls this manual MDC (multi-
// destination-cast); this module only needs the endpoint bookkeeping, not
// an actual media-driver control channel, since pkg/archive's Publication
// already fans writes out to every replay session.
type ManualDestinations struct {
	channel string
	added   map[int32]string
}

// New builds the destination set for a UDP log channel that carries no
// endpoint parameter of its own — every non-self peer's log endpoint is
// added individually.
func New(channel string) *ManualDestinations {
	return &ManualDestinations{channel: channel, added: make(map[int32]string)}
}

// AddNonSelfPeers adds one destination per member other than selfID, using
// that member's log endpoint (spec.md §4.2).
func (d *ManualDestinations) AddNonSelfPeers(table *membership.Table, selfID int32) []string {
	var added []string
	table.Each(func(m *membership.Member) {
		if m.ID == selfID {
			return
		}
		if _, ok := d.added[m.ID]; ok {
			return
		}
		d.added[m.ID] = m.Endpoints.Log
		added = append(added, m.Endpoints.Log)
	})
	return added
}

// Remove drops a member's destination, e.g. once it is deemed unreachable.
func (d *ManualDestinations) Remove(memberID int32) { delete(d.added, memberID) }

// Endpoints returns the currently attached destination addresses.
func (d *ManualDestinations) Endpoints() []string {
	out := make([]string, 0, len(d.added))
	for _, ep := range d.added {
		out = append(out, ep)
	}
	return out
}

func (d *ManualDestinations) Channel() string { return d.channel }

// impl is a trivial transport.Transport that exposes the log channel's
// advertise address; no sockets are opened here because the byte-level fan
// out is handled by pkg/archive's in-process Publication/Image pair.
type impl struct {
	addr string
}

func (i *impl) Addr() string { return i.addr }

// NewTransport constructs the local UDP log transport handle used for logging and
// admin display purposes.
func NewTransport(addr string) (transport.Transport, error) {
	if addr == "" {
		return nil, fmt.Errorf("udp: empty advertise address")
	}
	return &impl{addr: addr}, nil
}
