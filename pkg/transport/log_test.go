package transport

import (
	"testing"

	"github.com/latticehq/sequencer/pkg/archive"
)

func TestLogAppenderAdapterRoundTrip(t *testing.T) {
	a := archive.NewInProcess()
	pub, recID, err := a.AddRecordedExclusivePublication("log")
	if err != nil {
		t.Fatalf("AddRecordedExclusivePublication: %v", err)
	}
	appender := NewLogAppender(pub)

	pos, back := appender.Append([]byte("hello"))
	if back {
		t.Fatalf("unexpected backpressure")
	}
	if pos != 5 {
		t.Fatalf("got position %d, want 5", pos)
	}
	if appender.RecordingID() != recID {
		t.Fatalf("got recording id %d, want %d", appender.RecordingID(), recID)
	}
	if err := appender.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sid, err := a.StartReplay(recID, 0, archive.MaxLength)
	if err != nil {
		t.Fatalf("StartReplay: %v", err)
	}
	img, _ := a.Image(sid)
	adapter := NewLogAdapter(img)

	var got []string
	n := adapter.Poll(10, func(data []byte) { got = append(got, string(data)) })
	if n != 1 || got[0] != "hello" {
		t.Fatalf("got %v (n=%d), want [hello] (n=1)", got, n)
	}
	if !adapter.Closed() {
		t.Fatalf("expected adapter to report closed once fully drained")
	}
}

func TestLogAdapterPollRespectsLimit(t *testing.T) {
	a := archive.NewInProcess()
	pub, recID, _ := a.AddRecordedExclusivePublication("log")
	pub.Append([]byte("a"))
	pub.Append([]byte("b"))
	pub.Append([]byte("c"))

	sid, _ := a.StartReplay(recID, 0, archive.MaxLength)
	img, _ := a.Image(sid)
	adapter := NewLogAdapter(img)

	n := adapter.Poll(2, func([]byte) {})
	if n != 2 {
		t.Fatalf("got %d fragments, want 2", n)
	}
}
