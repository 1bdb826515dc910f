package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "members_total",
		Help:      "Current number of known cluster members",
	})

	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "is_leader",
		Help:      "1 if this node is the leader, else 0",
	})

	Role = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "role",
		Help:      "Current Role: 0=FOLLOWER, 1=CANDIDATE, 2=LEADER",
	})

	ConsensusState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "consensus_state",
		Help:      "Current ConsensusState: 0=INIT, 1=ACTIVE, 2=SUSPENDED, 3=SNAPSHOT, 4=SHUTDOWN, 5=ABORT, 6=CLOSED",
	})

	CommitPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "commit_position",
		Help:      "Highest log position this node considers committed",
	})

	QuorumPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "quorum_position",
		Help:      "Largest term position acknowledged by at least a quorum of members (leader only)",
	})

	LeadershipTermID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "leadership_term_id",
		Help:      "Current leadership term id",
	})

	ServiceAcksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "service_acks_total",
		Help:      "Total service ACKs processed, by cluster action",
	}, []string{"action"})

	OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "open_sessions",
		Help:      "Current number of OPEN client sessions",
	})

	RejectedSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "rejected_sessions_total",
		Help:      "Total sessions rejected, by reason",
	}, []string{"reason"})

	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "snapshots_total",
		Help:      "Total snapshots taken by this node while leading",
	})

	ElectionDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sequencer",
		Name:      "election_duration_seconds",
		Help:      "Time spent in runElection before a leader was decided",
		Buckets:   prometheus.DefBuckets,
	})

	GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sequencer",
		Subsystem: "grpc_conn",
		Name:      "dials_total",
		Help:      "Total number of new gRPC connections dialed",
	})
	GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sequencer",
		Subsystem: "grpc_conn",
		Name:      "reuse_total",
		Help:      "Total number of gRPC connection reuses from cache",
	})
	GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sequencer",
		Subsystem: "grpc_conn",
		Name:      "evictions_total",
		Help:      "Total number of cached gRPC connections evicted",
	})
	GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Subsystem: "grpc_conn",
		Name:      "active",
		Help:      "Number of active cached gRPC connections",
	})

	RecoveryStateLeadershipTermID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Subsystem: "recovery_state",
		Name:      "leadership_term_id",
		Help:      "Recovery-state counter: leadership_term_id field",
	})
	RecoveryStateTermPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Subsystem: "recovery_state",
		Name:      "term_position",
		Help:      "Recovery-state counter: term_position field",
	})
	RecoveryStateTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Subsystem: "recovery_state",
		Name:      "timestamp_ms",
		Help:      "Recovery-state counter: timestamp field, in epoch milliseconds",
	})
	RecoveryStateTermCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Subsystem: "recovery_state",
		Name:      "term_count",
		Help:      "Recovery-state counter: term_count field, terms replayed since this counter was installed",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ClusterMembers)
		prometheus.MustRegister(IsLeader)
		prometheus.MustRegister(Role)
		prometheus.MustRegister(ConsensusState)
		prometheus.MustRegister(CommitPosition)
		prometheus.MustRegister(QuorumPosition)
		prometheus.MustRegister(LeadershipTermID)
		prometheus.MustRegister(ServiceAcksTotal)
		prometheus.MustRegister(OpenSessions)
		prometheus.MustRegister(RejectedSessionsTotal)
		prometheus.MustRegister(SnapshotsTotal)
		prometheus.MustRegister(ElectionDurationSeconds)
		prometheus.MustRegister(GRPCConnDials)
		prometheus.MustRegister(GRPCConnReuse)
		prometheus.MustRegister(GRPCConnEvictions)
		prometheus.MustRegister(GRPCConnActive)
		prometheus.MustRegister(RecoveryStateLeadershipTermID)
		prometheus.MustRegister(RecoveryStateTermPosition)
		prometheus.MustRegister(RecoveryStateTimestamp)
		prometheus.MustRegister(RecoveryStateTermCount)
	})
}
