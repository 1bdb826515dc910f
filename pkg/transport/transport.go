// Package transport defines the wire messages and capability interfaces the
// sequencer exchanges with its four collaborators (spec.md §1 "composition
// table"): MemberStatus (peer-to-peer control RPCs), ServiceControl
// (downward joinLog / upward ack to co-hosted services), Ingress/Egress
// (client request intake and response) and the LogAppender/LogAdapter pair
// that carries the replicated log itself. The teacher's pkg/transport held
// a single flat RPCServer/RPCClient pair for cluster management; this
// package splits that into one adapter/publisher pair per collaborator,
// matching the Aeron naming the source uses (GLOSSARY "Adapter", "Publisher").
package transport

import "context"

// Transport exposes a local advertised address for logging and admin
// display, kept from the teacher's original pkg/transport/transport.go.
type Transport interface {
	Addr() string
}

// --- MemberStatus wire messages (spec.md §4.2, §4.4, §6) ---

// RequestVote is sent by a candidate to every member, including itself.
type RequestVote struct {
	LeadershipTermID    int64 `json:"leadershipTermId"`
	LastBaseLogPosition int64 `json:"lastBaseLogPosition"`
	LastTermPosition    int64 `json:"lastTermPosition"`
	CandidateID         int32 `json:"candidateId"`
}

// Vote is the response to a RequestVote.
type Vote struct {
	LeadershipTermID    int64 `json:"leadershipTermId"`
	LastBaseLogPosition int64 `json:"lastBaseLogPosition"`
	LastTermPosition    int64 `json:"lastTermPosition"`
	CandidateID         int32 `json:"candidateId"`
	FollowerID          int32 `json:"followerId"`
	VoteGranted         bool  `json:"voteGranted"`
}

// AppendedPosition is sent by a follower to the leader whenever its
// recording position advances (spec.md §4.4).
type AppendedPosition struct {
	TermPosition     int64 `json:"termPosition"`
	LeadershipTermID int64 `json:"leadershipTermId"`
	FollowerID       int32 `json:"followerId"`
}

// CommitPosition is broadcast by the leader when the quorum position
// advances or the heartbeat interval elapses (spec.md §4.4).
type CommitPosition struct {
	TermPosition     int64 `json:"termPosition"`
	LeadershipTermID int64 `json:"leadershipTermId"`
	LeaderID         int32 `json:"leaderId"`
	LogSessionID     int64 `json:"logSessionId"`
}

// MemberStatusAdapter is the inbound side: the local sequencer reacts to
// messages other members send it.
type MemberStatusAdapter interface {
	OnRequestVote(from int32, msg RequestVote)
	OnVote(from int32, msg Vote)
	OnAppendedPosition(from int32, msg AppendedPosition)
	OnCommitPosition(from int32, msg CommitPosition)
}

// MemberStatusPublisher is the outbound side: sending control RPCs to one
// or all peers. Every send can back-pressure (spec.md §4.9 "egress send
// failed ... retrying on next tick").
type MemberStatusPublisher interface {
	RequestVote(ctx context.Context, to int32, msg RequestVote) (ok bool)
	Vote(ctx context.Context, to int32, msg Vote) (ok bool)
	AppendedPosition(ctx context.Context, to int32, msg AppendedPosition) (ok bool)
	CommitPosition(ctx context.Context, to int32, msg CommitPosition) (ok bool)

	// Connected reports whether the outbound channel to member "to" is
	// currently established, independent of sending any control message
	// (spec.md §4.2 "await all peer publications connected").
	Connected(ctx context.Context, to int32) (ok bool)
}

// --- ServiceControl wire messages (spec.md §4.5, §6) ---

// JoinLog instructs a co-hosted service to subscribe to the replicated log
// from commitPosId at the given stream/channel.
type JoinLog struct {
	LeadershipTermID int64  `json:"leadershipTermId"`
	CommitPositionID int64  `json:"commitPositionId"`
	SessionID        int64  `json:"logSessionId"`
	StreamID         int32  `json:"streamId"`
	Channel          string `json:"channel"`
}

// ServiceAction mirrors the cluster action toggle values a service ACKs
// against (spec.md §4.6).
type ServiceAction int32

const (
	ServiceActionNone ServiceAction = iota
	ServiceActionSnapshot
	ServiceActionShutdown
	ServiceActionAbort
)

// Ack is sent upward by a co-hosted service once it has processed up to
// logPosition for the given action.
type Ack struct {
	LogPosition      int64         `json:"logPosition"`
	LeadershipTermID int64         `json:"leadershipTermId"`
	ServiceID        int32         `json:"serviceId"`
	Action           ServiceAction `json:"action"`
}

// ServiceControlAdapter is the inbound side, consumed by the sequencer when
// counting ACKs (spec.md §4.6 "service_ack_count").
type ServiceControlAdapter interface {
	OnAck(msg Ack)
}

// ServiceControlPublisher is the outbound side used to instruct services to
// join the log (spec.md §4.5 "signal services to join the log").
type ServiceControlPublisher interface {
	JoinLog(ctx context.Context, msg JoinLog) (ok bool)
}

// --- Ingress / Egress wire messages (spec.md §2, §4.3) ---

// ConnectRequest is a client's initial request to open a session.
type ConnectRequest struct {
	CorrelationID    int64  `json:"correlationId"`
	ResponseStreamID int32  `json:"responseStreamId"`
	ResponseChannel  string `json:"responseChannel"`
	Credentials      []byte `json:"credentials,omitempty"`
}

// ChallengeResponse answers a prior Challenge egress event.
type ChallengeResponse struct {
	CorrelationID int64  `json:"correlationId"`
	SessionID     int64  `json:"sessionId"`
	Credentials   []byte `json:"credentials,omitempty"`
}

// SessionMessage carries an application payload from an already-open
// session (spec.md §4.3 "onSessionMessage").
type SessionMessage struct {
	SessionID     int64  `json:"sessionId"`
	CorrelationID int64  `json:"correlationId"`
	Payload       []byte `json:"payload"`
}

// AdminQueryID enumerates the admin queries a session can issue
// (spec.md §4.3 "onAdminQuery", §9 open question 3).
type AdminQueryID int32

const (
	AdminQueryEndpoints AdminQueryID = iota
	AdminQueryRecordingLog
)

// AdminQuery is a client's request for operational detail about the
// cluster (spec.md §4.3).
type AdminQuery struct {
	SessionID     int64        `json:"sessionId"`
	CorrelationID int64        `json:"correlationId"`
	QueryID       AdminQueryID `json:"queryId"`
}

// IngressAdapter is the inbound side hosted by the leader.
type IngressAdapter interface {
	OnConnectRequest(req ConnectRequest)
	OnChallengeResponse(resp ChallengeResponse)
	OnSessionMessage(msg SessionMessage) (continuePolling bool)
	OnKeepAlive(sessionID int64)
	OnSessionClose(sessionID int64)
	OnAdminQuery(req AdminQuery)
}

// SessionEventCode enumerates the reasons an egress SessionEvent is sent
// (spec.md §4.9 "session errors are delivered as egress events").
type SessionEventCode int32

const (
	SessionEventOK SessionEventCode = iota
	SessionEventLimitExceeded
	SessionEventAuthRejected
	SessionEventTimeout
	SessionEventClosed
	SessionEventRedirect
)

// Challenge is an egress event asking the client to retry with credentials.
type Challenge struct {
	CorrelationID int64  `json:"correlationId"`
	SessionID     int64  `json:"sessionId"`
	Payload       []byte `json:"payload,omitempty"`
}

// ConnectResponse is the egress reply to a successful/rejected connect.
type ConnectResponse struct {
	CorrelationID  int64            `json:"correlationId"`
	SessionID      int64            `json:"sessionId"`
	LeaderMemberID int32            `json:"leaderMemberId"`
	Code           SessionEventCode `json:"code"`
}

// SessionEvent is the egress notification for a non-OK terminal condition.
type SessionEvent struct {
	SessionID int64            `json:"sessionId"`
	Code      SessionEventCode `json:"code"`
	Detail    string           `json:"detail,omitempty"`
}

// EgressPublisher is the outbound side used to talk back to clients
// (spec.md §4.3, §4.9). Every method returns false on back-pressure.
type EgressPublisher interface {
	SendChallenge(ctx context.Context, sessionID int64, msg Challenge) bool
	SendConnectResponse(ctx context.Context, sessionID int64, msg ConnectResponse) bool
	SendSessionEvent(ctx context.Context, sessionID int64, msg SessionEvent) bool
	SendAdminResponse(ctx context.Context, sessionID int64, correlationID int64, payload []byte) bool
}

// --- Replicated log (spec.md §4.1, §4.2, §4.4) ---

// LogAppender is the leader-side write path into the replicated log.
// Append returns the resulting absolute position, or backpressured=true to
// signal retry-on-next-tick (spec.md §4.4 "treated as retry").
type LogAppender interface {
	Append(data []byte) (position int64, backpressured bool)
	Position() int64
	RecordingID() int64
	Close() error
}

// LogAdapter is the follower-side read path. Poll delivers fragments up to
// the caller-supplied limit to fn, returning how many were consumed.
type LogAdapter interface {
	Poll(limit int, fn func(data []byte)) (consumed int)
	Position() int64
	Closed() bool
}

// --- Ambient HTTP status surface (not part of the wire protocol above) ---

// StatusSnapshot is the JSON body served by the node's HTTP status endpoint,
// separate from the AdminQuery/AdminResponse pair clients use over Ingress.
type StatusSnapshot struct {
	MemberID         int32  `json:"memberId"`
	Role             string `json:"role"`
	ConsensusState   string `json:"consensusState"`
	LeadershipTermID int64  `json:"leadershipTermId"`
	CommitPosition   int64  `json:"commitPosition"`
	LeaderMemberID   int32  `json:"leaderMemberId"`
	OpenSessions     int    `json:"openSessions"`
}

// StatusFunc produces the current status snapshot for the HTTP status
// endpoint.
type StatusFunc func(ctx context.Context) (StatusSnapshot, error)
