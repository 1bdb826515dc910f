// Package idle implements the IdleStrategy capability described in
// spec.md §9: every spin-await inside startup (await_image,
// await_recording_counter, await_service_acks, await_followers_ready,
// await_connected_members, recover_from_snapshot) polls a collaborator and
// then invokes an IdleStrategy with the work count observed on that poll.
// No goroutine ever blocks on a channel here; idling is always an explicit,
// interruptible call.
package idle

import (
	"runtime"
	"time"
)

// Strategy is invoked after each poll with the work count just observed.
// A positive workCount means progress was made and the strategy should not
// delay; a zero workCount means the caller is idling and the strategy may
// sleep, yield or spin depending on its tuning.
type Strategy interface {
	Idle(workCount int)
	Reset()
}

// Spin never sleeps; it is appropriate for tests and tight bounded loops
// where the caller already rate-limits the number of iterations.
type Spin struct{}

func (Spin) Idle(int) {}
func (Spin) Reset()   {}

// Backoff escalates from busy-spinning to runtime.Gosched to a capped sleep
// the longer it goes without progress, mirroring the spin→yield→park
// escalation in the Aeron Cluster source this spec is drawn from (see
// DESIGN.md "pkg/idle").
type Backoff struct {
	spins     int
	yields    int
	maxSleep  time.Duration
	failCount int
}

// NewBackoff returns a Backoff strategy that spins spinThreshold times, then
// yields yieldThreshold times, then sleeps for a period that grows linearly
// by 100µs per further idle call, capped at maxSleep.
func NewBackoff(spinThreshold, yieldThreshold int, maxSleep time.Duration) *Backoff {
	if maxSleep <= 0 {
		maxSleep = 10 * time.Millisecond
	}
	return &Backoff{spins: spinThreshold, yields: yieldThreshold, maxSleep: maxSleep}
}

func (b *Backoff) Idle(workCount int) {
	if workCount > 0 {
		b.failCount = 0
		return
	}
	b.failCount++
	switch {
	case b.failCount <= b.spins:
		return
	case b.failCount <= b.spins+b.yields:
		runtime.Gosched()
		return
	default:
		sleep := time.Duration(b.failCount-b.spins-b.yields) * time.Microsecond * 100
		if sleep > b.maxSleep {
			sleep = b.maxSleep
		}
		time.Sleep(sleep)
	}
}

func (b *Backoff) Reset() { b.failCount = 0 }
