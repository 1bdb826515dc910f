// Package controlfile implements the Control file capability (spec.md §6
// "updateActivityTimestamp") and the control-toggle counter described in
// spec.md §4.5/§6. Grounded on the Aeron Cluster mark-file heartbeat and its
// external control-toggle counter (see DESIGN.md "pkg/controlfile").
package controlfile

import (
	"encoding/binary"
	"os"
	"sync"
)

// ControlFile is stamped on every slow tick so external liveness probes can
// tell the node is still making progress (spec.md §4.1).
type ControlFile interface {
	UpdateActivityTimestamp(nowMs int64)
	Close() error
}

// FileBacked persists the last activity timestamp to an 8-byte file. It is
// intentionally the smallest possible format — there is no pack library
// that targets a format this narrow (see DESIGN.md).
type FileBacked struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func NewFileBacked(path string) (*FileBacked, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileBacked{f: f, path: path}, nil
}

func (c *FileBacked) UpdateActivityTimestamp(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(nowMs))
	_, _ = c.f.WriteAt(buf[:], 0)
}

func (c *FileBacked) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}

// InMemory is a test double; it never touches the filesystem.
type InMemory struct {
	mu sync.Mutex
	ts int64
}

func (c *InMemory) UpdateActivityTimestamp(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = nowMs
}

func (c *InMemory) LastTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

func (c *InMemory) Close() error { return nil }

// Toggle is the externally writable control-toggle counter (spec.md §6):
// SUSPEND, RESUME, SNAPSHOT, SHUTDOWN, ABORT, NEUTRAL. It is reset to
// NEUTRAL after SUSPEND/RESUME is applied and after a SNAPSHOT completes
// (spec.md §4.5).
type ToggleValue int32

const (
	ToggleNeutral ToggleValue = iota
	ToggleSuspend
	ToggleResume
	ToggleSnapshot
	ToggleShutdown
	ToggleAbort
)

func (v ToggleValue) String() string {
	switch v {
	case ToggleSuspend:
		return "SUSPEND"
	case ToggleResume:
		return "RESUME"
	case ToggleSnapshot:
		return "SNAPSHOT"
	case ToggleShutdown:
		return "SHUTDOWN"
	case ToggleAbort:
		return "ABORT"
	default:
		return "NEUTRAL"
	}
}

// Toggle is a simple mutex-guarded counter; the sequencer polls it once per
// leader slow tick, in any consensus state (spec.md §4.1), and only the sequencer itself
// resets it, so a plain mutex (rather than an atomic) is sufficient and
// keeps Get-and-maybe-reset racing operators honest.
type Toggle struct {
	mu sync.Mutex
	v  ToggleValue
}

func (t *Toggle) Get() ToggleValue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.v
}

// Set is called by an operator (CLI/admin endpoint) to request an action.
// It refuses to overwrite a pending, unprocessed toggle.
func (t *Toggle) Set(v ToggleValue) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.v != ToggleNeutral {
		return false
	}
	t.v = v
	return true
}

// Reset returns the toggle to NEUTRAL; only the sequencer calls this, after
// successfully applying the action (spec.md §4.5).
func (t *Toggle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.v = ToggleNeutral
}
