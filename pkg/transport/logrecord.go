package transport

import "encoding/json"

// LogRecordKind tags the framed records the leader appends and followers
// replay (spec.md §6 "Log record kinds"). Encoding reuses encoding/json, the
// same wire format pkg/transport/grpc/jsoncodec.go already uses for RPCs —
// the sequencer treats record encoding as just another wire concern of this
// package rather than inventing a second serialization format.
type LogRecordKind int32

const (
	LogRecordSessionOpen LogRecordKind = iota
	LogRecordSessionMessage
	LogRecordSessionClose
	LogRecordTimerEvent
	LogRecordClusterAction
	LogRecordSnapshotMarkerBegin
	LogRecordSnapshotMarkerEnd
	LogRecordSessionSnapshot
	LogRecordTimerSnapshot
	LogRecordSequencerState
)

// LogRecord is the framed envelope every record carries: kind, leadership
// term and absolute log position (spec.md §6 "Each carries leadership term
// and absolute log position"), plus a kind-specific JSON payload.
type LogRecord struct {
	Kind             LogRecordKind   `json:"kind"`
	LeadershipTermID int64           `json:"leadershipTermId"`
	LogPosition      int64           `json:"logPosition"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// EncodeLogRecord serializes rec and its typed payload into one frame.
func EncodeLogRecord(kind LogRecordKind, leadershipTermID, logPosition int64, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(LogRecord{Kind: kind, LeadershipTermID: leadershipTermID, LogPosition: logPosition, Payload: raw})
}

// DecodeLogRecord parses the envelope only; callers unmarshal Payload into
// the kind-specific struct themselves once they know Kind.
func DecodeLogRecord(data []byte) (LogRecord, error) {
	var rec LogRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

// SessionOpenPayload is the session-open log record body.
type SessionOpenPayload struct {
	SessionID        int64  `json:"sessionId"`
	ResponseStreamID int32  `json:"responseStreamId"`
	ResponseChannel  string `json:"responseChannel"`
	TimestampMs      int64  `json:"timestampMs"`
}

// SessionMessagePayload carries an application payload appended on behalf
// of an open session.
type SessionMessagePayload struct {
	SessionID int64  `json:"sessionId"`
	Payload   []byte `json:"payload"`
}

// SessionClosePayload carries the reason a session was closed (spec.md §4.3).
type SessionClosePayload struct {
	SessionID int64 `json:"sessionId"`
	Reason    int32 `json:"reason"`
}

// TimerEventPayload is appended when a scheduled timer fires (spec.md §4.6).
type TimerEventPayload struct {
	CorrelationID int64 `json:"correlationId"`
	TimestampMs   int64 `json:"timestampMs"`
}

// ClusterActionPayload is appended when the leader applies a control-toggle
// action (spec.md §4.5).
type ClusterActionPayload struct {
	Action      int32 `json:"action"`
	TimestampMs int64 `json:"timestampMs"`
}

// SessionSnapshotPayload is one OPEN session recorded during a snapshot
// (spec.md §4.8 "for every OPEN session emit a session snapshot record").
type SessionSnapshotPayload struct {
	SessionID        int64  `json:"sessionId"`
	ResponseStreamID int32  `json:"responseStreamId"`
	ResponseChannel  string `json:"responseChannel"`
	OpenTermPosition int64  `json:"openTermPosition"`
	TimeOfLastActivityMs int64 `json:"timeOfLastActivityMs"`
}

// TimerSnapshotPayload carries the full timer map (spec.md §4.8 "emit
// timer-service snapshot").
type TimerSnapshotPayload struct {
	CorrelationID int64 `json:"correlationId"`
	DeadlineMs    int64 `json:"deadlineMs"`
}

// SequencerStatePayload is the trailing snapshot record carrying the next
// session id counter (spec.md §4.8 "emit sequencer_state(next_session_id)").
type SequencerStatePayload struct {
	NextSessionID int64 `json:"nextSessionId"`
}

// SnapshotMarkerPayload brackets a snapshot (spec.md §4.8 "write a
// marker-begin/marker-end record").
type SnapshotMarkerPayload struct {
	LogPosition      int64 `json:"logPosition"`
	LeadershipTermID int64 `json:"leadershipTermId"`
}
