package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticehq/sequencer/pkg/bootstrap"
	"github.com/latticehq/sequencer/pkg/transport/httpjson"
)

// AddAll attaches the sequencer subcommands (run/status) to the provided
// root command.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
}

// NewRunCmd returns the "run" command used to start a sequencer node.
// Cluster membership is static (spec.md §1 Non-goals "dynamic membership
// reconfiguration"), so the full member table is supplied as repeated
// -member flags rather than discovered at runtime; discovery only seeds
// the liveness gossip ring.
func NewRunCmd() *cobra.Command {
	var (
		memberID, appointedLeader                                 int32
		membersCSV                                                []string
		dataDir, logChannel, serviceSpyChannel                    string
		serviceControlAddr                                        string
		serviceCount                                               int32
		ingressFragmentLimit, maxConcurrentSessions               int
		sessionTimeoutMs, heartbeatIntervalMs, heartbeatTimeoutMs int64
		grpcBind, httpBind                                        string
		memBind, memAdv, discoveryKind                            string
		seedsCSV, dnsNames, filePath, fileEnv                     string
		dnsPort                                                   int
		discRefresh                                               time.Duration
		authSecret                                                string
		allowAllAuth                                              bool
		controlFilePath                                           string
		tlsEnable, tlsSkip, traceEnable                           bool
		tlsCA, tlsCert, tlsKey, tlsServerName                     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sequencer node",
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := parseMembers(membersCSV)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			cfg := bootstrap.Config{
				MemberID:              memberID,
				AppointedLeaderID:     appointedLeader,
				Members:               members,
				DataDir:               dataDir,
				LogChannel:            logChannel,
				ServiceSpyChannel:     serviceSpyChannel,
				ServiceControlAddr:    serviceControlAddr,
				ServiceCount:          serviceCount,
				IngressFragmentLimit:  ingressFragmentLimit,
				SessionTimeoutMs:      sessionTimeoutMs,
				HeartbeatIntervalMs:   heartbeatIntervalMs,
				HeartbeatTimeoutMs:    heartbeatTimeoutMs,
				MaxConcurrentSessions: maxConcurrentSessions,
				GRPCBind:              grpcBind,
				HTTPBind:              httpBind,
				MemBind:               memBind,
				MemAdv:                memAdv,
				Discovery:             discoveryKind,
				SeedsCSV:              seedsCSV,
				DNSNamesCSV:           dnsNames,
				DNSPort:               dnsPort,
				DiscRefresh:           discRefresh,
				FilePath:              filePath,
				FileEnv:               fileEnv,
				AuthSecret:            []byte(authSecret),
				AllowAllAuth:          allowAllAuth,
				ControlFilePath:       controlFilePath,
				TLSEnable:             tlsEnable,
				TLSCA:                 tlsCA,
				TLSCert:               tlsCert,
				TLSKey:                tlsKey,
				TLSServerName:         tlsServerName,
				TLSSkipVerify:         tlsSkip,
				Trace:                 traceEnable,
				Logger:                log.Default(),
			}

			node, err := bootstrap.Build(cfg)
			if err != nil {
				return err
			}
			defer node.Close(context.Background())

			fmt.Println("sequencer running. Press Ctrl+C to exit.")
			return node.Run(ctx)
		},
	}
	cmd.Flags().Int32Var(&memberID, "member-id", 0, "this node's cluster member id (required)")
	cmd.Flags().Int32Var(&appointedLeader, "appointed-leader", -1, "appointed leader member id, -1 for a voted election")
	cmd.Flags().StringArrayVar(&membersCSV, "member", nil, "cluster member as id:clientAddr:memberAddr:logAddr (repeatable, required)")
	cmd.Flags().StringVar(&dataDir, "data", "", "recording log data directory (required)")
	cmd.Flags().StringVar(&logChannel, "log-channel", "log", "replicated log channel name")
	cmd.Flags().StringVar(&serviceSpyChannel, "service-spy-channel", "service-spy", "service spy channel name")
	cmd.Flags().StringVar(&serviceControlAddr, "service-control-addr", "", "co-hosted service's ServiceControl listen address")
	cmd.Flags().Int32Var(&serviceCount, "service-count", 1, "number of co-hosted services expected to ack")
	cmd.Flags().IntVar(&ingressFragmentLimit, "ingress-fragment-limit", 10, "max ingress fragments polled per tick")
	cmd.Flags().Int64Var(&sessionTimeoutMs, "session-timeout-ms", 5000, "client session inactivity timeout (pending, open and rejected sessions)")
	cmd.Flags().Int64Var(&heartbeatIntervalMs, "heartbeat-interval-ms", 1000, "leader commit-position broadcast interval")
	cmd.Flags().Int64Var(&heartbeatTimeoutMs, "heartbeat-timeout-ms", 5000, "follower leader-heartbeat timeout")
	cmd.Flags().IntVar(&maxConcurrentSessions, "max-sessions", 100, "max concurrent client sessions (pending plus open)")
	cmd.Flags().StringVar(&grpcBind, "grpc-bind", ":17950", "member-status/service-control/ingress/egress bind addr")
	cmd.Flags().StringVar(&httpBind, "http-bind", ":17946", "status/healthz/metrics bind addr")
	cmd.Flags().StringVar(&memBind, "mem-bind", ":7946", "liveness gossip bind addr (host:port)")
	cmd.Flags().StringVar(&memAdv, "mem-adv", "", "liveness gossip advertise addr (host:port, optional)")
	cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "liveness seed discovery backend: static|dns|file")
	cmd.Flags().StringVar(&seedsCSV, "join", "", "comma-separated liveness seeds (host:port) — discovery=static")
	cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records — discovery=dns")
	cmd.Flags().IntVar(&dnsPort, "dns-port", 7946, "port used for A/AAAA lookups")
	cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
	cmd.Flags().StringVar(&filePath, "file-path", "", "path to a file with liveness seeds — discovery=file")
	cmd.Flags().StringVar(&fileEnv, "file-env", "", "env var name containing CSV liveness seeds; overrides file-path")
	cmd.Flags().StringVar(&authSecret, "auth-secret", "", "shared secret the nonce-challenge authenticator expects")
	cmd.Flags().BoolVar(&allowAllAuth, "allow-all-auth", false, "accept every connect without challenging (DEV ONLY)")
	cmd.Flags().StringVar(&controlFilePath, "control-file", "", "path to persist the activity timestamp (the action toggle is always in memory); empty uses an in-memory stub")
	cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for the member/service/ingress channels")
	cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
	cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch a node's status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			client := httpjson.NewClient(timeout)
			snap, err := client.GetStatus(ctx, addr)
			if err != nil {
				return fmt.Errorf("status error: %w", err)
			}
			return json.NewEncoder(os.Stdout).Encode(snap)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "HTTP status address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

// parseMembers parses repeated "id:clientAddr:memberAddr:logAddr" flags into
// the static cluster member table bootstrap.Config expects.
func parseMembers(raw []string) ([]bootstrap.MemberConfig, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one -member is required")
	}
	members := make([]bootstrap.MemberConfig, 0, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, ":", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid -member %q: want id:clientAddr:memberAddr:logAddr", s)
		}
		id, err := strconv.ParseInt(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid -member id %q: %w", parts[0], err)
		}
		members = append(members, bootstrap.MemberConfig{
			ID: int32(id), ClientFacing: parts[1], MemberFacing: parts[2], Log: parts[3],
		})
	}
	return members, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
