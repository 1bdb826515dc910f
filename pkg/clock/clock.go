// Package clock provides the epoch-millis capability consumed by the
// sequencer (spec.md §6 "Clock: epoch millis"). It exists so election and
// recovery code can be driven by a fake clock in tests.
package clock

import "time"

// EpochClock returns the current wall-clock time in epoch milliseconds.
type EpochClock interface {
	TimeMillis() int64
}

// System is the production EpochClock backed by time.Now.
type System struct{}

func (System) TimeMillis() int64 { return time.Now().UnixMilli() }

// Fixed is a test double that always returns the same instant until
// advanced.
type Fixed struct {
	millis int64
}

func NewFixed(start int64) *Fixed { return &Fixed{millis: start} }

func (f *Fixed) TimeMillis() int64 { return f.millis }

// Advance moves the fake clock forward by delta milliseconds.
func (f *Fixed) Advance(delta int64) { f.millis += delta }

// Set pins the fake clock to an absolute instant.
func (f *Fixed) Set(millis int64) { f.millis = millis }
