package sequencer

import (
	"context"
	"testing"

	"github.com/latticehq/sequencer/pkg/authenticator"
	"github.com/latticehq/sequencer/pkg/transport"
)

// challengeThenAuthenticate challenges a session the first tick it sees it
// CONNECTED, then authenticates it the first tick it sees it CHALLENGED —
// used to prove pollPendingSessions hands a session authenticator just moved
// to CHALLENGED to OnProcessChallengedSession in that same pass.
type challengeThenAuthenticate struct{}

func (challengeThenAuthenticate) OnConnectRequest(int64, []byte, int64) {}
func (challengeThenAuthenticate) OnProcessConnectedSession(proxy authenticator.SessionProxy, _ int64) {
	proxy.Challenge([]byte("nonce"))
}
func (challengeThenAuthenticate) OnProcessChallengedSession(proxy authenticator.SessionProxy, _ int64) {
	proxy.Authenticate()
}
func (challengeThenAuthenticate) OnChallengeResponse(authenticator.SessionProxy, []byte, int64) {}

var _ authenticator.Authenticator = challengeThenAuthenticate{}

// onSessionMessageDriven calls OnSessionMessage from its own goroutine, as
// the gRPC handler does, while this goroutine drains the ingress queue the
// way DoWork's tick loop would, and returns OnSessionMessage's answer.
func onSessionMessageDriven(h *testHarness, msg transport.SessionMessage) bool {
	result := make(chan bool, 1)
	go func() { result <- h.agent.OnSessionMessage(msg) }()
	for {
		select {
		case ok := <-result:
			return ok
		default:
			h.agent.pollIngress()
		}
	}
}

func leaderReadyHarness(t *testing.T, memberIDs []int32, cfg Config) *testHarness {
	t.Helper()
	h := newTestHarness(cfg, memberIDs)
	if err := h.agent.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return h
}

func TestOnSessionConnectQueuesPendingSession(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0})
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "c"})

	n := h.agent.pollIngress()
	if n != 1 {
		t.Fatalf("pollIngress() = %d, want 1", n)
	}
	if len(h.agent.pending) != 1 {
		t.Fatalf("pending sessions = %d, want 1", len(h.agent.pending))
	}
}

func TestOnSessionConnectRejectsOverSessionLimit(t *testing.T) {
	cfg := Config{MemberID: 0, MaxConcurrentSessions: 1}
	h := leaderReadyHarness(t, []int32{0}, cfg)

	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "a"})
	h.agent.pollIngress()
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 2, ResponseStreamID: 1, ResponseChannel: "b"})
	h.agent.pollIngress()

	if len(h.agent.pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(h.agent.pending))
	}
	if len(h.agent.rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(h.agent.rejected))
	}
	if h.agent.rejected[0].RejectReason != RejectSessionLimit {
		t.Fatalf("RejectReason = %v, want RejectSessionLimit", h.agent.rejected[0].RejectReason)
	}
}

func TestPendingSessionPumpOpensAuthenticatedSession(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0})
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "c"})
	h.agent.pollIngress()

	now, _ := h.agent.nowMs()
	work := h.agent.pollPendingSessions(now)
	if work == 0 {
		t.Fatalf("pollPendingSessions() did no work")
	}
	if len(h.agent.pending) != 0 {
		t.Fatalf("pending = %d, want 0 once session opens (AllowAll authenticator)", len(h.agent.pending))
	}
	if len(h.agent.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(h.agent.sessions))
	}
	if len(h.egress.connectResponses) != 1 {
		t.Fatalf("connectResponses = %d, want 1", len(h.egress.connectResponses))
	}
}

func TestPendingSessionPumpProcessesChallengeInSameTick(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0})
	h.agent.col.Authenticator = challengeThenAuthenticate{}
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "c"})
	h.agent.pollIngress()

	now, _ := h.agent.nowMs()
	work := h.agent.pollPendingSessions(now)
	if work == 0 {
		t.Fatalf("pollPendingSessions() did no work")
	}
	if len(h.agent.pending) != 0 {
		t.Fatalf("pending = %d, want 0: CONNECTED->CHALLENGED->authenticated must complete in one pump", len(h.agent.pending))
	}
	if len(h.agent.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(h.agent.sessions))
	}
}

func TestOnSessionMessageAppendsAndContinues(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0})
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "c"})
	h.agent.pollIngress()
	now, _ := h.agent.nowMs()
	h.agent.pollPendingSessions(now)

	var sessionID int64
	for id := range h.agent.sessions {
		sessionID = id
	}

	cont := onSessionMessageDriven(h, transport.SessionMessage{SessionID: sessionID, CorrelationID: 2, Payload: []byte("hi")})
	if !cont {
		t.Fatalf("OnSessionMessage() = false, want true (CONTINUE)")
	}
}

func TestOnSessionMessageUnknownSessionContinues(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0})
	if cont := onSessionMessageDriven(h, transport.SessionMessage{SessionID: 999}); !cont {
		t.Fatalf("OnSessionMessage() for unknown session = false, want true (drop silently)")
	}
}

func TestOnSessionCloseRemovesSession(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0})
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "c"})
	h.agent.pollIngress()
	now, _ := h.agent.nowMs()
	h.agent.pollPendingSessions(now)

	var sessionID int64
	for id := range h.agent.sessions {
		sessionID = id
	}
	h.agent.OnSessionClose(sessionID)
	h.agent.pollIngress()
	if _, ok := h.agent.sessions[sessionID]; ok {
		t.Fatalf("session %d still present after close", sessionID)
	}
}

func TestPollRejectedSessionsSendsEventAndDrains(t *testing.T) {
	h := leaderReadyHarness(t, []int32{0}, Config{MemberID: 0, MaxConcurrentSessions: -1})
	h.agent.OnConnectRequest(transport.ConnectRequest{CorrelationID: 1, ResponseStreamID: 1, ResponseChannel: "c"})
	h.agent.pollIngress()
	if len(h.agent.rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(h.agent.rejected))
	}
	now, _ := h.agent.nowMs()
	h.agent.pollRejectedSessions(now)
	if len(h.agent.rejected) != 0 {
		t.Fatalf("rejected = %d, want 0 after pump", len(h.agent.rejected))
	}
	if len(h.egress.sessionEvents) != 1 {
		t.Fatalf("sessionEvents = %d, want 1", len(h.egress.sessionEvents))
	}
}
