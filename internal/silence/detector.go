// Package silence implements the end-of-speech countdown used while the
// coordinator is listening.
package silence

import (
	"sync"
	"time"
)

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d elapses.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules callbacks on the Go runtime timers.
var SystemScheduler Scheduler = systemScheduler{}

// Detector is a resettable countdown. Each Reset arms a new cycle and
// supersedes any earlier one; onSilence fires at most once per cycle and
// never for a cycle that was reset or cancelled.
type Detector struct {
	mu        sync.Mutex
	timeout   time.Duration
	sched     Scheduler
	onSilence func(cycle uint64)
	timer     Timer
	cycle     uint64
	armed     bool
}

// New builds a detector. A nil scheduler uses SystemScheduler.
func New(timeout time.Duration, sched Scheduler, onSilence func(cycle uint64)) *Detector {
	if sched == nil {
		sched = SystemScheduler
	}
	return &Detector{timeout: timeout, sched: sched, onSilence: onSilence}
}

// Reset restarts the countdown and returns the identifier of the new cycle.
func (d *Detector) Reset() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.cycle++
	cycle := d.cycle
	d.armed = true
	d.timer = d.sched.AfterFunc(d.timeout, func() { d.fire(cycle) })
	return cycle
}

// Cancel discards the pending countdown without firing.
func (d *Detector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.cycle++
}

// Armed reports whether a countdown is pending.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Detector) Timeout() time.Duration { return d.timeout }

func (d *Detector) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
}

func (d *Detector) fire(cycle uint64) {
	d.mu.Lock()
	if !d.armed || cycle != d.cycle {
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	if d.onSilence != nil {
		d.onSilence(cycle)
	}
}
