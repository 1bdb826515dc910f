package sequencer

import "errors"

// FatalError wraps a protocol-violation or environmental fault that
// terminates the agent (spec.md §7 "Protocol and environmental faults
// terminate the agent; the outer runner's lifecycle takes over").
type FatalError struct {
	msg string
	err error
}

func (e *FatalError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *FatalError) Unwrap() error { return e.err }

func fatalf(msg string, err error) *FatalError { return &FatalError{msg: msg, err: err} }

var (
	// ErrAckCountExceeded: spec.md §7 "ACK count exceeds service count".
	ErrAckCountExceeded = errors.New("sequencer: service ack count exceeds service count")
	// ErrAckPositionMismatch: spec.md §4.5 "ACK's log_position must equal
	// base_log_position + current_term_position()".
	ErrAckPositionMismatch = errors.New("sequencer: ack log position mismatch")
	// ErrInvalidActionForState: spec.md §4.5 "state.is_valid(action) must hold".
	ErrInvalidActionForState = errors.New("sequencer: action invalid for current state")
	// ErrReplaySessionIDMismatch: spec.md §4.7 "the replay session id returned
	// MUST equal i (else fatal)". Not returned by recoverTerm, which uses
	// whatever session id the archive hands back (DESIGN.md Open Question 5).
	ErrReplaySessionIDMismatch = errors.New("sequencer: replay session id does not match term step index")
	// ErrReplayBasePositionMismatch: spec.md §4.7 "verify entry.log_position
	// == base_log_position".
	ErrReplayBasePositionMismatch = errors.New("sequencer: term step log position does not match base log position")
	// ErrRecoveryImageClosedMidStream: spec.md §4.7 "closing mid-stream is fatal".
	ErrRecoveryImageClosedMidStream = errors.New("sequencer: recovery image closed mid-stream")
	// ErrRecordingStoppedUnexpectedly: spec.md §7.
	ErrRecordingStoppedUnexpectedly = errors.New("sequencer: recording stopped unexpectedly")
	// ErrHeartbeatTimeout: spec.md §4.4 "if no heartbeat from leader within
	// heartbeat_timeout, terminate".
	ErrHeartbeatTimeout = errors.New("sequencer: no leader heartbeat within timeout")
	// ErrNoOutOfDateCandidateRecovery: spec.md §9 open question 1 — the
	// source does not define retrying as a new candidacy. Not returned:
	// handleRequestVote answers vote=false and takes no further action.
	ErrNoOutOfDateCandidateRecovery = errors.New("sequencer: voted against out-of-date candidate, no retry path defined")
	// ErrRequestVoteSendFailed: spec.md §7 "request-vote send failed" (environmental).
	ErrRequestVoteSendFailed = errors.New("sequencer: request_vote send failed")
	// ErrRecordingIDNotFound: spec.md §7.
	ErrRecordingIDNotFound = errors.New("sequencer: recording id not found")
	// ErrInterrupted: spec.md §5 "Interrupt of the host task during any
	// spin-idle is fatal."
	ErrInterrupted = errors.New("sequencer: interrupted during spin-idle")
	// ErrElectionTimeout: spec.md §4.2 "a candidacy that never reaches quorum
	// within the election window is fatal at startup".
	ErrElectionTimeout = errors.New("sequencer: election did not reach quorum in time")
	// ErrFollowerSyncTimeout: spec.md §4.2 "become follower" — the leader's
	// first commit_position never arrived.
	ErrFollowerSyncTimeout = errors.New("sequencer: timed out waiting for leader's first commit position")
)
