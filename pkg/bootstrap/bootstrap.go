// Package bootstrap assembles a runnable sequencer node from a flat Config,
// grounded on the teacher's pkg/bootstrap/bootstrap.go: discovery selection,
// TLS setup, transport construction and wiring into a single long-lived
// object all follow the same shape, repointed at pkg/sequencer's
// Agent/Collaborators instead of the teacher's cluster.Cluster.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/latticehq/sequencer/pkg/archive"
	"github.com/latticehq/sequencer/pkg/authenticator"
	"github.com/latticehq/sequencer/pkg/clock"
	"github.com/latticehq/sequencer/pkg/controlfile"
	"github.com/latticehq/sequencer/pkg/discovery"
	dDNS "github.com/latticehq/sequencer/pkg/discovery/dns"
	dFile "github.com/latticehq/sequencer/pkg/discovery/file"
	dStatic "github.com/latticehq/sequencer/pkg/discovery/static"
	"github.com/latticehq/sequencer/pkg/idle"
	"github.com/latticehq/sequencer/pkg/internal/logutil"
	"github.com/latticehq/sequencer/pkg/membership"
	ml "github.com/latticehq/sequencer/pkg/membership/memberlist"
	"github.com/latticehq/sequencer/pkg/observability/tracing"
	"github.com/latticehq/sequencer/pkg/recordinglog"
	"github.com/latticehq/sequencer/pkg/security/tlsconfig"
	"github.com/latticehq/sequencer/pkg/sequencer"
	"github.com/latticehq/sequencer/pkg/transport"
	mgmtgrpc "github.com/latticehq/sequencer/pkg/transport/grpc"
	"github.com/latticehq/sequencer/pkg/transport/httpjson"
	"github.com/latticehq/sequencer/pkg/transport/udp"
)

// MemberConfig is one row of the static cluster member table (spec.md §3).
type MemberConfig struct {
	ID           int32
	ClientFacing string
	MemberFacing string
	Log          string
}

// Config defines every input needed to assemble a sequencer node. The
// cluster member set is static (spec.md §1 Non-goals "dynamic membership
// reconfiguration"), so it is supplied up front rather than discovered.
type Config struct {
	MemberID          int32
	AppointedLeaderID int32 // membership.NullID for a voted election
	Members           []MemberConfig

	// DataDir holds the recording-log metadata bolt file
	// (<DataDir>/recordinglog.bolt).
	DataDir string

	LogChannel         string
	ServiceSpyChannel  string
	ServiceControlAddr string // co-hosted service's ServiceControl listen addr
	ServiceCount       int32

	IngressFragmentLimit  int
	SessionTimeoutMs      int64
	HeartbeatIntervalMs   int64
	HeartbeatTimeoutMs    int64
	MaxConcurrentSessions int

	GRPCBind string // member-status/service-control/ingress/egress bind addr
	HTTPBind string // status/healthz/metrics bind addr

	// Liveness gossip ring (spec.md supplemented feature: pure reachability
	// side channel, never drives membership changes).
	MemBind     string
	MemAdv      string
	Discovery   string // "static" (default), "dns", or "file"
	SeedsCSV    string
	DNSNamesCSV string
	DNSPort     int
	DiscRefresh time.Duration
	FilePath    string
	FileEnv     string

	// AuthSecret configures authenticator.NewNonceChallenge; if AllowAllAuth
	// is set, AuthSecret is ignored and every connect is accepted.
	AuthSecret   []byte
	AllowAllAuth bool

	// ControlFilePath persists the activity-timestamp heartbeat; empty uses
	// an in-memory stub (development only).
	ControlFilePath string

	TLSEnable     bool
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSServerName string
	TLSSkipVerify bool

	Trace bool

	Logger *log.Logger
}

// Node bundles a running Agent with every transport/liveness/tracing
// resource Build assembled for it, so Close can release all of them.
type Node struct {
	cfg Config

	Agent *sequencer.Agent

	grpcServer *mgmtgrpc.Server
	grpcClient *mgmtgrpc.Client
	httpServer *httpjson.Server
	liveness   *ml.LivenessRing
	control    controlfile.ControlFile
	recLog     recordinglog.RecordingLog
	dests      *udp.ManualDestinations
	table      *membership.Table

	traceShutdown func(context.Context) error
	logger        *log.Logger
}

// Build assembles a Node without starting any network listeners or running
// the agent's startup sequence.
func Build(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("bootstrap: DataDir is required")
	}

	members := make([]membership.Member, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		members = append(members, membership.Member{
			ID: m.ID,
			Endpoints: membership.Endpoints{
				ClientFacing: m.ClientFacing,
				MemberFacing: m.MemberFacing,
				Log:          m.Log,
			},
		})
	}
	table := membership.NewTable(members)

	recLog, err := recordinglog.NewBoltStore(cfg.DataDir + "/recordinglog.bolt")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open recording log: %w", err)
	}

	var srvTLS, cliTLS *tls.Config
	if cfg.TLSEnable {
		topts := tlsconfig.Options{
			Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey,
			InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName,
		}
		if srvTLS, err = topts.ServerHotReload(); err != nil {
			return nil, fmt.Errorf("bootstrap: server tls: %w", err)
		}
		if cliTLS, err = topts.ClientHotReload(); err != nil {
			return nil, fmt.Errorf("bootstrap: client tls: %w", err)
		}
	}

	grpcServer := mgmtgrpc.NewServer(cfg.GRPCBind)
	if srvTLS != nil {
		grpcServer.UseTLS(srvTLS)
	}
	grpcClient := mgmtgrpc.NewClient(3 * time.Second)
	if cliTLS != nil {
		grpcClient.UseTLS(cliTLS)
	}

	httpServer := httpjson.NewServer(cfg.HTTPBind, cfg.Logger)
	if srvTLS != nil {
		httpServer.UseTLS(srvTLS)
	}

	disc := buildDiscovery(cfg)
	liveness, err := ml.New(ml.Options{
		NodeID: fmt.Sprintf("member-%d", cfg.MemberID), Bind: cfg.MemBind, Advertise: cfg.MemAdv,
		Seeds: disc.Seeds(), Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: liveness ring: %w", err)
	}

	var control controlfile.ControlFile
	if cfg.ControlFilePath != "" {
		control, err = controlfile.NewFileBacked(cfg.ControlFilePath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: control file: %w", err)
		}
	} else {
		control = &controlfile.InMemory{}
	}

	var auth authenticator.Authenticator
	if cfg.AllowAllAuth {
		auth = authenticator.AllowAll{}
	} else {
		auth = authenticator.NewNonceChallenge(cfg.AuthSecret)
	}

	toggle := &controlfile.Toggle{}
	arch := archive.NewInProcess()
	dests := udp.New(cfg.LogChannel)

	node := &Node{cfg: cfg, grpcServer: grpcServer, grpcClient: grpcClient, httpServer: httpServer,
		liveness: liveness, control: control, recLog: recLog, dests: dests, table: table, logger: cfg.Logger}

	agentCfg := sequencer.Config{
		MemberID:              cfg.MemberID,
		AppointedLeaderID:     cfg.AppointedLeaderID,
		IngressFragmentLimit:  cfg.IngressFragmentLimit,
		SessionTimeoutMs:      cfg.SessionTimeoutMs,
		HeartbeatIntervalMs:   cfg.HeartbeatIntervalMs,
		HeartbeatTimeoutMs:    cfg.HeartbeatTimeoutMs,
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		LogChannel:            cfg.LogChannel,
		ServiceSpyChannel:     cfg.ServiceSpyChannel,
		ServiceCount:          cfg.ServiceCount,
	}
	node.Agent = sequencer.New(agentCfg, sequencer.Collaborators{
		Members:        table,
		Archive:        arch,
		RecordingLog:   recLog,
		Authenticator:  auth,
		MemberStatus:   mgmtgrpc.NewMemberStatusRouter(grpcClient, table),
		ServiceControl: mgmtgrpc.NewServiceControlDialer(grpcClient, cfg.ServiceControlAddr),
		Egress:         grpcServer,
		ControlFile:    control,
		Toggle:         toggle,
		Idle:           idle.NewBackoff(100, 1000, 5*time.Millisecond),
		Clock:          clock.System{},
		Terminate: func(err error) {
			if err != nil {
				logutil.Errorf(cfg.Logger, "sequencer: terminated: %v", err)
			}
		},
	})

	return node, nil
}

func buildDiscovery(cfg Config) discovery.Discovery {
	switch cfg.Discovery {
	case "dns":
		names := dStatic.Parse(cfg.DNSNamesCSV)
		opts := dDNS.Options{Names: names, Port: cfg.DNSPort}
		if cfg.DiscRefresh > 0 {
			opts.Refresh = cfg.DiscRefresh
		}
		return dDNS.New(opts)
	case "file":
		opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
		if cfg.DiscRefresh > 0 {
			opts.Refresh = cfg.DiscRefresh
		}
		return dFile.New(opts)
	default:
		return dStatic.New(dStatic.Parse(cfg.SeedsCSV)...)
	}
}

// Run starts every transport listener, runs the agent's startup sequence
// (spec.md §4.2) and then drives DoWork in a loop until ctx is canceled or
// the agent terminates. It blocks until the node stops.
func (n *Node) Run(ctx context.Context) error {
	if n.cfg.Trace {
		shutdown, err := tracing.Setup(true)
		if err != nil {
			logutil.Warnf(n.logger, "tracing setup error: %v", err)
		} else {
			n.traceShutdown = shutdown
		}
	}

	if err := n.liveness.Start(ctx); err != nil {
		return fmt.Errorf("bootstrap: start liveness ring: %w", err)
	}
	if err := n.grpcServer.Start(ctx, n.Agent, n.Agent, n.Agent); err != nil {
		return fmt.Errorf("bootstrap: start grpc server: %w", err)
	}
	if err := n.httpServer.Start(ctx, n.statusFunc); err != nil {
		return fmt.Errorf("bootstrap: start http server: %w", err)
	}

	if err := n.Agent.Run(ctx); err != nil {
		return fmt.Errorf("bootstrap: agent startup: %w", err)
	}
	if n.Agent.Role() == sequencer.RoleLeader {
		added := n.dests.AddNonSelfPeers(n.table, n.cfg.MemberID)
		logutil.Infof(n.logger, "sequencer: leader for term %d, log destinations %v", n.Agent.LeadershipTermID(), added)
	}

	backoff := idle.NewBackoff(100, 1000, 5*time.Millisecond)
	for ctx.Err() == nil {
		if n.Agent.ConsensusState() == sequencer.StateClosed {
			return nil
		}
		work := n.Agent.DoWork(ctx)
		backoff.Idle(work)
	}
	return ctx.Err()
}

func (n *Node) statusFunc(ctx context.Context) (transport.StatusSnapshot, error) {
	return transport.StatusSnapshot{
		MemberID:         n.cfg.MemberID,
		Role:             n.Agent.Role().String(),
		ConsensusState:   n.Agent.ConsensusState().String(),
		LeadershipTermID: n.Agent.LeadershipTermID(),
		CommitPosition:   n.Agent.CommitPosition(),
		LeaderMemberID:   n.Agent.LeaderMemberID(),
		OpenSessions:     n.Agent.OpenSessions(),
	}, nil
}

// Close releases every resource Build/Run acquired. Safe to call once.
func (n *Node) Close(ctx context.Context) error {
	_ = n.httpServer.Stop(ctx)
	_ = n.grpcServer.Stop(ctx)
	_ = n.liveness.Stop()
	_ = n.control.Close()
	_ = n.recLog.Close()
	n.grpcClient.Close()
	if n.traceShutdown != nil {
		_ = n.traceShutdown(ctx)
	}
	return nil
}
