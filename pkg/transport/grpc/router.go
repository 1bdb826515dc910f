package grpc

import (
	"context"

	"github.com/latticehq/sequencer/pkg/membership"
	"github.com/latticehq/sequencer/pkg/transport"
)

// MemberStatusRouter resolves a ClusterMember id to its member-facing
// address before dispatching over the shared Client, implementing
// transport.MemberStatusPublisher.
type MemberStatusRouter struct {
	client *Client
	table  *membership.Table
}

func NewMemberStatusRouter(client *Client, table *membership.Table) *MemberStatusRouter {
	return &MemberStatusRouter{client: client, table: table}
}

func (r *MemberStatusRouter) addr(to int32) (string, bool) {
	m, ok := r.table.Get(to)
	if !ok {
		return "", false
	}
	return m.Endpoints.MemberFacing, true
}

func (r *MemberStatusRouter) RequestVote(ctx context.Context, to int32, msg transport.RequestVote) bool {
	addr, ok := r.addr(to)
	if !ok {
		return false
	}
	return r.client.call(ctx, addr, "/sequencer.v1.MemberStatus/RequestVote", &msg, &empty{})
}

func (r *MemberStatusRouter) Vote(ctx context.Context, to int32, msg transport.Vote) bool {
	addr, ok := r.addr(to)
	if !ok {
		return false
	}
	return r.client.call(ctx, addr, "/sequencer.v1.MemberStatus/Vote", &msg, &empty{})
}

func (r *MemberStatusRouter) AppendedPosition(ctx context.Context, to int32, msg transport.AppendedPosition) bool {
	addr, ok := r.addr(to)
	if !ok {
		return false
	}
	return r.client.call(ctx, addr, "/sequencer.v1.MemberStatus/AppendedPosition", &msg, &empty{})
}

func (r *MemberStatusRouter) CommitPosition(ctx context.Context, to int32, msg transport.CommitPosition) bool {
	addr, ok := r.addr(to)
	if !ok {
		return false
	}
	return r.client.call(ctx, addr, "/sequencer.v1.MemberStatus/CommitPosition", &msg, &empty{})
}

// Connected reports whether a channel to member "to" can currently be
// established, without sending any control RPC (spec.md §4.2 "await all
// peer publications connected").
func (r *MemberStatusRouter) Connected(ctx context.Context, to int32) bool {
	addr, ok := r.addr(to)
	if !ok {
		return false
	}
	return r.client.connected(ctx, addr)
}

var _ transport.MemberStatusPublisher = (*MemberStatusRouter)(nil)

// ServiceControlDialer sends JoinLog to a co-hosted service's fixed listen
// address (spec.md §4.5). Unlike MemberStatus this is not a cluster-member
// lookup — services run alongside a single node, addressed directly.
type ServiceControlDialer struct {
	client *Client
	addr   string
}

func NewServiceControlDialer(client *Client, addr string) *ServiceControlDialer {
	return &ServiceControlDialer{client: client, addr: addr}
}

func (d *ServiceControlDialer) JoinLog(ctx context.Context, msg transport.JoinLog) bool {
	return d.client.call(ctx, d.addr, "/sequencer.v1.ServiceControl/JoinLog", &msg, &empty{})
}

var _ transport.ServiceControlPublisher = (*ServiceControlDialer)(nil)
