// Package memberlist repoints the teacher's gossip-based Membership
// implementation from cluster join/leave discovery to a pure liveness side
// channel for the statically configured ClusterMember table (see
// DESIGN.md "pkg/membership"). The sequencer's own vote/commit-position
// RPCs are the source of truth for membership and leadership; this package
// only answers "is member X currently reachable" through IsAlive and
// HealthScore. The admin ENDPOINTS query and the Prometheus gauges do not
// consult it.
package memberlist

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	base "github.com/latticehq/sequencer/pkg/membership"
)

// Options configures the liveness gossip ring. Every statically configured
// ClusterMember joins the same ring at startup so each node can observe the
// others without relying on the vote/commit-position RPCs.
type Options struct {
	// NodeID is the local node's membership id, distinct from the numeric
	// ClusterMember id (memberlist names are strings).
	NodeID string

	// Bind is the local bind address in host:port form.
	Bind string

	// Advertise is the advertised address; derived from Bind when empty.
	Advertise string

	// Seeds lists the other members' gossip addresses, resolved once at
	// startup from the static ClusterMember table.
	Seeds []string

	Logger *log.Logger
}

// LivenessRing reports reachability of statically configured peers. It
// never drives membership changes into the ClusterMember table — additions
// and removals of peers are a Non-goal (spec.md §1).
type LivenessRing struct {
	mu     sync.RWMutex
	opts   Options
	ml     *memberlist.Memberlist
	alive  map[string]bool
	closed bool
}

func New(opts Options) (*LivenessRing, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("memberlist: empty NodeID")
	}
	if opts.Bind == "" {
		return nil, fmt.Errorf("memberlist: empty Bind address")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &LivenessRing{opts: opts, alive: make(map[string]bool)}, nil
}

func (r *LivenessRing) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ml != nil {
		return nil
	}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = r.opts.NodeID
	host, portStr, err := net.SplitHostPort(r.opts.Bind)
	if err != nil {
		return fmt.Errorf("memberlist: invalid bind address %q: %w", r.opts.Bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("memberlist: invalid bind port %q: %w", portStr, err)
	}
	cfg.BindAddr = host
	cfg.BindPort = port

	if r.opts.Advertise != "" {
		ahost, aportStr, err := net.SplitHostPort(r.opts.Advertise)
		if err != nil {
			return fmt.Errorf("memberlist: invalid advertise address %q: %w", r.opts.Advertise, err)
		}
		aport, err := strconv.Atoi(aportStr)
		if err != nil {
			return fmt.Errorf("memberlist: invalid advertise port %q: %w", aportStr, err)
		}
		cfg.AdvertiseAddr = ahost
		cfg.AdvertisePort = aport
	}

	cfg.Events = &livenessDelegate{ring: r}

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return err
	}
	r.ml = ml

	if len(r.opts.Seeds) > 0 {
		if _, err := ml.Join(r.opts.Seeds); err != nil {
			r.opts.Logger.Printf("memberlist: join incomplete: %v", err)
		}
	}

	go func() {
		<-ctx.Done()
		_ = r.Stop()
	}()
	return nil
}

// IsAlive reports whether memberName (matching the gossip ring's Name, by
// convention "member-<id>") is currently visible to this node's probes.
func (r *LivenessRing) IsAlive(memberName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alive[memberName]
}

// HealthScore implements membership.HealthReporter.
func (r *LivenessRing) HealthScore() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ml == nil {
		return -1
	}
	return r.ml.GetHealthScore()
}

func (r *LivenessRing) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.ml != nil {
		_ = r.ml.Leave(time.Second)
		_ = r.ml.Shutdown()
		r.ml = nil
	}
	return nil
}

func (r *LivenessRing) setAlive(name string, alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[name] = alive
}

var _ base.HealthReporter = (*LivenessRing)(nil)

type livenessDelegate struct{ ring *LivenessRing }

func (d *livenessDelegate) NotifyJoin(n *memberlist.Node) { d.ring.setAlive(n.Name, true) }
func (d *livenessDelegate) NotifyLeave(n *memberlist.Node) { d.ring.setAlive(n.Name, false) }
func (d *livenessDelegate) NotifyUpdate(n *memberlist.Node) { d.ring.setAlive(n.Name, true) }
