// Package authenticator implements the pluggable credential check spec.md
// §4.3/§5 names: on_connect_request, on_process_connected_session,
// on_process_challenged_session, on_challenge_response, driving a session
// through a SessionProxy capability set {authenticate, challenge, reject}.
// There is no teacher equivalent (the teacher has no client-session
// concept); this package follows the teacher's habit of small interfaces
// plus one default struct implementation, and uses google/uuid for
// challenge nonces the way the teacher pulls it in transitively for ids.
package authenticator

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// SessionProxy is the capability set an Authenticator uses to drive a
// pending session's state without reaching into sequencer internals
// (spec.md §4.3 "drives session state via a session-proxy capability set").
type SessionProxy interface {
	SessionID() int64
	Authenticate()
	Challenge(payload []byte)
	Reject()
}

// Authenticator is invoked at each step of the connect/challenge pipeline.
type Authenticator interface {
	// OnConnectRequest is called once, when a session is first accepted into
	// the pending list (spec.md §4.3 "invoke authenticator's
	// on_connect_request(session_id, credentials, now)").
	OnConnectRequest(sessionID int64, credentials []byte, nowMs int64)

	// OnProcessConnectedSession is polled every tick while the session is in
	// CONNECTED, until the authenticator calls Authenticate/Challenge/Reject
	// on proxy.
	OnProcessConnectedSession(proxy SessionProxy, nowMs int64)

	// OnProcessChallengedSession is polled every tick while CHALLENGED.
	OnProcessChallengedSession(proxy SessionProxy, nowMs int64)

	// OnChallengeResponse is called once a CHALLENGED session's
	// credential-blob response arrives.
	OnChallengeResponse(proxy SessionProxy, credentials []byte, nowMs int64)
}

// NonceChallenge is the default Authenticator: every connect is challenged
// once with a random nonce, and the session is authenticated only if the
// response echoes the expected shared secret alongside that nonce. It is
// intentionally simple — real deployments swap in an Authenticator backed
// by their own credential store.
type NonceChallenge struct {
	secret []byte

	pendingNonce map[int64][]byte
}

func NewNonceChallenge(secret []byte) *NonceChallenge {
	return &NonceChallenge{secret: secret, pendingNonce: make(map[int64][]byte)}
}

func (n *NonceChallenge) OnConnectRequest(sessionID int64, credentials []byte, nowMs int64) {
	// No-op: the session is evaluated once it reaches CONNECTED and its
	// response publication is known to be live.
}

func (n *NonceChallenge) OnProcessConnectedSession(proxy SessionProxy, nowMs int64) {
	sid := proxy.SessionID()
	if _, challenged := n.pendingNonce[sid]; challenged {
		return
	}
	nonce := uuid.New()
	payload := nonce[:]
	n.pendingNonce[sid] = payload
	proxy.Challenge(payload)
}

func (n *NonceChallenge) OnProcessChallengedSession(proxy SessionProxy, nowMs int64) {
	// Nothing to do between challenge and response; the session stays
	// CHALLENGED until OnChallengeResponse fires or it times out.
}

func (n *NonceChallenge) OnChallengeResponse(proxy SessionProxy, credentials []byte, nowMs int64) {
	sid := proxy.SessionID()
	nonce, ok := n.pendingNonce[sid]
	delete(n.pendingNonce, sid)
	if !ok || !matchesSecret(credentials, nonce, n.secret) {
		proxy.Reject()
		return
	}
	proxy.Authenticate()
}

func matchesSecret(credentials, nonce, secret []byte) bool {
	if len(secret) == 0 {
		return true
	}
	want := append(append([]byte{}, nonce...), secret...)
	if len(credentials) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare(credentials, want) == 1
}

// AllowAll never challenges; every connect is accepted immediately. Useful
// for single-tenant deployments and tests.
type AllowAll struct{}

func (AllowAll) OnConnectRequest(int64, []byte, int64) {}
func (AllowAll) OnProcessConnectedSession(proxy SessionProxy, _ int64) {
	proxy.Authenticate()
}
func (AllowAll) OnProcessChallengedSession(SessionProxy, int64)            {}
func (AllowAll) OnChallengeResponse(proxy SessionProxy, _ []byte, _ int64) { proxy.Authenticate() }

var _ Authenticator = (*NonceChallenge)(nil)
var _ Authenticator = AllowAll{}
