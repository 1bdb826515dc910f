package sequencer

import (
	"context"
	"strconv"
	"time"

	"github.com/latticehq/sequencer/pkg/observability/metrics"
	"github.com/latticehq/sequencer/pkg/transport"
)

// ingressQueueCapacity bounds how many inbound Ingress RPCs can be
// outstanding before the gRPC handler's enqueue itself back-pressures
// (design note §9 "do not buffer unbounded"). The gRPC transport is
// request/response rather than a pollable subscription, so this queue is
// where "ingress polling is bounded per tick" (spec.md §4.1) is actually
// enforced: pollIngress drains at most cfg.IngressFragmentLimit items per
// tick, and every item is processed on the single DoWork goroutine, never
// concurrently with the rest of the agent's state.
const ingressQueueCapacity = 4096

type ingressKind int8

const (
	ingressConnect ingressKind = iota
	ingressChallenge
	ingressMessage
	ingressKeepAlive
	ingressClose
	ingressAdminQuery
)

type ingressItem struct {
	kind      ingressKind
	connect   transport.ConnectRequest
	challenge transport.ChallengeResponse
	message   transport.SessionMessage
	sessionID int64
	admin     transport.AdminQuery
	resultCh  chan bool
}

// sessionMessageWait bounds how long OnSessionMessage blocks waiting for
// the agent's tick loop to drain the queue before reporting back-pressure
// to the RPC caller (spec.md §4.3 "If append fails (back-pressure), return
// ABORT so the caller does not advance the read position").
const sessionMessageWait = 200 * time.Millisecond

func (a *Agent) enqueue(item *ingressItem) {
	select {
	case a.ingressCh <- item:
	default:
		// Queue full: drop silently for fire-and-forget kinds. SessionMessage
		// callers get ABORT below instead of blocking forever.
		if item.resultCh != nil {
			item.resultCh <- false
		}
	}
}

func (a *Agent) OnConnectRequest(req transport.ConnectRequest) {
	a.enqueue(&ingressItem{kind: ingressConnect, connect: req})
}

func (a *Agent) OnChallengeResponse(resp transport.ChallengeResponse) {
	a.enqueue(&ingressItem{kind: ingressChallenge, challenge: resp})
}

func (a *Agent) OnSessionMessage(msg transport.SessionMessage) bool {
	result := make(chan bool, 1)
	a.enqueue(&ingressItem{kind: ingressMessage, message: msg, resultCh: result})
	select {
	case ok := <-result:
		return ok
	case <-time.After(sessionMessageWait):
		return false
	}
}

func (a *Agent) OnKeepAlive(sessionID int64) {
	a.enqueue(&ingressItem{kind: ingressKeepAlive, sessionID: sessionID})
}

func (a *Agent) OnSessionClose(sessionID int64) {
	a.enqueue(&ingressItem{kind: ingressClose, sessionID: sessionID})
}

func (a *Agent) OnAdminQuery(req transport.AdminQuery) {
	a.enqueue(&ingressItem{kind: ingressAdminQuery, admin: req})
}

var _ transport.IngressAdapter = (*Agent)(nil)

// pollIngress drains at most cfg.IngressFragmentLimit queued items
// (spec.md §4.1 "Leader, state=ACTIVE: polls ingress bounded by the
// transport's fragment limit").
func (a *Agent) pollIngress() int {
	limit := a.cfg.IngressFragmentLimit
	if limit <= 0 {
		limit = 1
	}
	n := 0
	for n < limit {
		select {
		case item := <-a.ingressCh:
			a.dispatchIngress(item)
			n++
		default:
			return n
		}
	}
	return n
}

func (a *Agent) dispatchIngress(item *ingressItem) {
	now, _ := a.nowMs()
	switch item.kind {
	case ingressConnect:
		a.onSessionConnect(item.connect, now)
	case ingressChallenge:
		a.onChallengeResponse(item.challenge, now)
	case ingressMessage:
		item.resultCh <- a.onSessionMessage(item.message, now)
	case ingressKeepAlive:
		a.onKeepAlive(item.sessionID, now)
	case ingressClose:
		a.onSessionClose(item.sessionID, now)
	case ingressAdminQuery:
		a.onAdminQuery(item.admin, now)
	}
}

// onSessionConnect is spec.md §4.3 "onSessionConnect".
func (a *Agent) onSessionConnect(req transport.ConnectRequest, now int64) {
	id := a.nextSessionID
	a.nextSessionID++

	s := &Session{
		ID:                   id,
		State:                SessionInit,
		ResponseStreamID:     req.ResponseStreamID,
		ResponseChannel:      req.ResponseChannel,
		LastCorrelationID:    req.CorrelationID,
		TimeOfLastActivityMs: now,
		credentials:          req.Credentials,
	}

	if len(a.pending)+len(a.sessions) < a.cfg.MaxConcurrentSessions {
		a.col.Authenticator.OnConnectRequest(id, req.Credentials, now)
		a.pending = append(a.pending, s)
	} else {
		s.State = SessionRejected
		s.RejectReason = RejectSessionLimit
		a.rejected = append(a.rejected, s)
		metrics.RejectedSessionsTotal.WithLabelValues(s.RejectReason.String()).Inc()
	}
}

// onChallengeResponse is spec.md §4.3 "onChallengeResponse".
func (a *Agent) onChallengeResponse(resp transport.ChallengeResponse, now int64) {
	for _, s := range a.pending {
		if s.ID == resp.SessionID && s.State == SessionChallenged {
			s.TimeOfLastActivityMs = now
			a.col.Authenticator.OnChallengeResponse(proxy{s}, resp.Credentials, now)
			return
		}
	}
}

// onSessionMessage is spec.md §4.3 "onSessionMessage".
func (a *Agent) onSessionMessage(msg transport.SessionMessage, now int64) bool {
	s, ok := a.sessions[msg.SessionID]
	if !ok || s.State == SessionTimedOut || s.State == SessionClosed {
		return true // CONTINUE: drop silently
	}
	if s.State != SessionOpen {
		return true
	}
	rec, err := transport.EncodeLogRecord(transport.LogRecordSessionMessage, a.leadershipTermID,
		a.baseLogPosition+a.currentTermPosition(), transport.SessionMessagePayload{SessionID: msg.SessionID, Payload: msg.Payload})
	if err != nil {
		return true
	}
	_, back := a.logAppender.Append(rec)
	if back {
		return false // ABORT: retry next poll
	}
	s.TimeOfLastActivityMs = now
	s.LastCorrelationID = msg.CorrelationID
	return true
}

func (a *Agent) onKeepAlive(sessionID, now int64) {
	if s, ok := a.sessions[sessionID]; ok {
		s.TimeOfLastActivityMs = now
	}
}

// onSessionClose is spec.md §4.3 "onSessionClose".
func (a *Agent) onSessionClose(sessionID, now int64) {
	s, ok := a.sessions[sessionID]
	if !ok {
		return
	}
	if a.appendSessionClose(s, CloseUserAction, now) {
		delete(a.sessions, sessionID)
	} else {
		s.closePending = true
		s.closeReason = CloseUserAction
	}
}

// onAdminQuery is spec.md §4.3 "onAdminQuery(ENDPOINTS)"; the RECORDING_LOG
// variant is an open question (spec.md §9 item 3) and always answers ERROR.
func (a *Agent) onAdminQuery(req transport.AdminQuery, now int64) {
	s, ok := a.sessions[req.SessionID]
	if !ok {
		return
	}
	switch req.QueryID {
	case transport.AdminQueryEndpoints:
		s.pendingAdminCorrelationID = req.CorrelationID
		s.pendingAdminPayload = []byte(a.endpointsDetail())
		s.hasPendingAdmin = true
		a.trySendAdminResponse(s)
	default:
		s.pendingAdminCorrelationID = req.CorrelationID
		s.pendingAdminPayload = []byte("ERROR: unimplemented admin query")
		s.hasPendingAdmin = true
		a.trySendAdminResponse(s)
	}
}

func (a *Agent) endpointsDetail() string {
	detail := "id=" + strconv.Itoa(int(a.cfg.MemberID)) + ",leaderId=" + strconv.Itoa(int(a.leaderMemberID))
	if m, ok := a.col.Members.Get(a.cfg.MemberID); ok {
		detail += ",memberStatus=" + m.Endpoints.MemberFacing + ",log=" + m.Endpoints.Log
	}
	return detail
}

func (a *Agent) trySendAdminResponse(s *Session) bool {
	if !s.hasPendingAdmin {
		return true
	}
	if a.col.Egress.SendAdminResponse(context.Background(), s.ID, s.pendingAdminCorrelationID, s.pendingAdminPayload) {
		s.hasPendingAdmin = false
		return true
	}
	return false
}

func (a *Agent) appendSessionClose(s *Session, reason CloseReason, now int64) bool {
	rec, err := transport.EncodeLogRecord(transport.LogRecordSessionClose, a.leadershipTermID,
		a.baseLogPosition+a.currentTermPosition(), transport.SessionClosePayload{SessionID: s.ID, Reason: int32(reason)})
	if err != nil {
		return false
	}
	_, back := a.logAppender.Append(rec)
	return !back
}

// pollPendingSessions is spec.md §4.3 "Pending-session pump (slow tick)".
func (a *Agent) pollPendingSessions(now int64) int {
	work := 0
	for i := len(a.pending) - 1; i >= 0; i-- {
		s := a.pending[i]
		// Two independent checks, not mutually exclusive cases: a session the
		// authenticator moves from CONNECTED to CHALLENGED below must also be
		// handed to OnProcessChallengedSession in this same pass.
		if s.State == SessionInit || s.State == SessionConnected {
			s.State = SessionConnected
			a.col.Authenticator.OnProcessConnectedSession(proxy{s}, now)
			work++
			if s.State == SessionChallenged {
				a.col.Egress.SendChallenge(context.Background(), s.ID, transport.Challenge{
					CorrelationID: s.LastCorrelationID, SessionID: s.ID, Payload: s.pendingChallenge,
				})
			}
		}
		if s.State == SessionChallenged {
			a.col.Authenticator.OnProcessChallengedSession(proxy{s}, now)
			work++
		}

		switch {
		case s.State == SessionAuthenticated:
			rec, err := transport.EncodeLogRecord(transport.LogRecordSessionOpen, a.leadershipTermID,
				a.baseLogPosition+a.currentTermPosition(), transport.SessionOpenPayload{
					SessionID: s.ID, ResponseStreamID: s.ResponseStreamID, ResponseChannel: s.ResponseChannel, TimestampMs: now,
				})
			if err == nil {
				if pos, back := a.logAppender.Append(rec); !back {
					s.State = SessionOpen
					s.OpenTermPosition = pos
					a.sessions[s.ID] = s
					a.removePending(i)
					a.col.Egress.SendConnectResponse(context.Background(), s.ID, transport.ConnectResponse{
						CorrelationID: s.LastCorrelationID, SessionID: s.ID, LeaderMemberID: a.cfg.MemberID, Code: transport.SessionEventOK,
					})
					work++
				}
			}
		case s.State == SessionRejected:
			a.rejected = append(a.rejected, s)
			a.removePending(i)
			metrics.RejectedSessionsTotal.WithLabelValues(s.RejectReason.String()).Inc()
			work++
		case now-s.TimeOfLastActivityMs > a.cfg.SessionTimeoutMs:
			a.removePending(i)
			work++
		}
	}
	return work
}

func (a *Agent) removePending(i int) {
	last := len(a.pending) - 1
	a.pending[i] = a.pending[last]
	a.pending = a.pending[:last]
}

// pollRejectedSessions is spec.md §4.3 "Rejected-session pump".
func (a *Agent) pollRejectedSessions(now int64) int {
	work := 0
	for i := len(a.rejected) - 1; i >= 0; i-- {
		s := a.rejected[i]
		code := transport.SessionEventLimitExceeded
		if s.RejectReason == RejectAuthentication {
			code = transport.SessionEventAuthRejected
		}
		sent := a.col.Egress.SendSessionEvent(context.Background(), s.ID, transport.SessionEvent{SessionID: s.ID, Code: code})
		if sent || now-s.TimeOfLastActivityMs > a.cfg.SessionTimeoutMs {
			a.removeRejected(i)
			work++
		}
	}
	return work
}

func (a *Agent) removeRejected(i int) {
	last := len(a.rejected) - 1
	a.rejected[i] = a.rejected[last]
	a.rejected = a.rejected[:last]
}

// pollOpenSessions is spec.md §4.3 "Session housekeeping (slow tick)".
func (a *Agent) pollOpenSessions(now int64) int {
	work := 0
	for id, s := range a.sessions {
		switch s.State {
		case SessionOpen:
			if s.closePending {
				if a.appendSessionClose(s, s.closeReason, now) {
					delete(a.sessions, id)
					work++
				}
				continue
			}
			if now-s.TimeOfLastActivityMs > a.cfg.SessionTimeoutMs {
				if a.appendSessionClose(s, CloseTimeout, now) {
					delete(a.sessions, id)
				} else {
					s.State = SessionTimedOut
					s.closePending = true
					s.closeReason = CloseTimeout
				}
				work++
				continue
			}
			if s.hasPendingAdmin {
				if a.trySendAdminResponse(s) {
					work++
				}
			}
		case SessionTimedOut, SessionClosed:
			if s.closePending && a.appendSessionClose(s, s.closeReason, now) {
				delete(a.sessions, id)
				work++
			}
		case SessionConnected:
			// retry append-connected: nothing to append yet at this state,
			// authentication drives the transition; nothing to do here.
		}
	}
	return work
}

// onTimerFire appends a TimerEvent record when a scheduled timer's deadline
// has passed (spec.md §4.6).
func (a *Agent) onTimerFire(correlationID, now int64) bool {
	rec, err := transport.EncodeLogRecord(transport.LogRecordTimerEvent, a.leadershipTermID,
		a.baseLogPosition+a.currentTermPosition(), transport.TimerEventPayload{CorrelationID: correlationID, TimestampMs: now})
	if err != nil {
		return false
	}
	_, back := a.logAppender.Append(rec)
	return !back
}

// stampAllOpenSessions is spec.md §4.5 "stamp all open sessions' activity"
// (after a completed SNAPSHOT).
func (a *Agent) stampAllOpenSessions(now int64) {
	for _, s := range a.sessions {
		s.TimeOfLastActivityMs = now
	}
}

