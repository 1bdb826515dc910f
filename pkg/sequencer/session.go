package sequencer

// SessionState is the ClusterSession lifecycle state (spec.md §3). Transitions
// are monotonic except the CONNECTED↔CHALLENGED ping-pong during
// authentication (spec.md §3 "Invariants").
type SessionState int8

const (
	SessionInit SessionState = iota
	SessionConnected
	SessionChallenged
	SessionAuthenticated
	SessionRejected
	SessionOpen
	SessionTimedOut
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "CONNECTED"
	case SessionChallenged:
		return "CHALLENGED"
	case SessionAuthenticated:
		return "AUTHENTICATED"
	case SessionRejected:
		return "REJECTED"
	case SessionOpen:
		return "OPEN"
	case SessionTimedOut:
		return "TIMED_OUT"
	case SessionClosed:
		return "CLOSED"
	default:
		return "INIT"
	}
}

// CloseReason is carried on a session-close log record (spec.md §4.3).
type CloseReason int32

const (
	CloseUserAction CloseReason = iota
	CloseTimeout
)

// RejectReason distinguishes the two egress events the rejected-session
// pump can emit (spec.md §4.3).
type RejectReason int32

const (
	RejectSessionLimit RejectReason = iota
	RejectAuthentication
)

func (r RejectReason) String() string {
	if r == RejectAuthentication {
		return "authentication"
	}
	return "session_limit"
}

// Session is one ClusterSession: per-client lifecycle state plus the data
// each state needs (spec.md §3). Design note §9 calls for a tagged union
// whose variants carry only their own data; in Go the idiomatic rendering
// of a small, densely-transitioning FSM is one struct with a state tag and
// the union of per-state fields left zero-valued outside their state,
// rather than a sum type that would force a type switch on every access in
// sessions.go's tight per-tick loops.
type Session struct {
	ID               int64
	State            SessionState
	ResponseStreamID int32
	ResponseChannel  string
	LastCorrelationID int64
	TimeOfLastActivityMs int64

	// RejectReason is set only while State == SessionRejected.
	RejectReason RejectReason

	// OpenTermPosition is the term position the session-open record landed
	// at, valid once State == SessionOpen (spec.md §3).
	OpenTermPosition int64

	// pendingAdminCorrelationID/pendingAdminPayload hold a queued admin-query
	// response awaiting a successful egress send (spec.md §4.3 "onAdminQuery").
	pendingAdminCorrelationID int64
	pendingAdminPayload       []byte
	hasPendingAdmin           bool

	// credentials is the connect-time credential blob, retained until the
	// authenticator consumes it.
	credentials []byte

	// pendingChallenge holds the nonce/payload the authenticator last issued
	// via proxy.Challenge, forwarded to the client as an egress Challenge.
	pendingChallenge []byte

	// closePending marks that a close append (TIMEOUT or USER_ACTION) is
	// outstanding and should be retried without re-emitting an event.
	closeReason  CloseReason
	closePending bool
}

// proxy adapts a *Session to the authenticator.SessionProxy capability set
// (spec.md §4.3 "drives session state via a session-proxy capability set").
type proxy struct{ s *Session }

func (p proxy) SessionID() int64 { return p.s.ID }
func (p proxy) Authenticate()    { p.s.State = SessionAuthenticated }
func (p proxy) Challenge(payload []byte) {
	p.s.State = SessionChallenged
	p.s.pendingChallenge = payload
}
func (p proxy) Reject() { p.s.State = SessionRejected; p.s.RejectReason = RejectAuthentication }
