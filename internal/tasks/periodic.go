// Package tasks provides the self-rescheduling timer that drives the poll,
// report and discovery cycles.
package tasks

import (
	"sync"
	"time"
)

// Periodic invokes a callback at a configurable interval until stopped.
//
// Firing is reschedule-before-execute: at each firing the next firing is
// scheduled first, then the callback runs. If the callback takes longer than
// the interval, invocations overlap; callers that mutate state must serialize
// it themselves (the monitor does so by only enqueueing from its callbacks).
type Periodic struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    *time.Timer
	running  bool
	gen      uint64
}

// NewPeriodic creates a stopped task. The interval can be changed at any time
// with SetInterval; the next scheduling uses the value current at that moment.
func NewPeriodic(interval time.Duration, fn func()) *Periodic {
	return &Periodic{
		interval: interval,
		fn:       fn,
	}
}

// Start arms the timer. Calling Start while the task is running is a no-op.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.interval, func() { p.run(gen) })
	p.running = true
}

// Stop cancels the next pending firing. A callback already in flight runs to
// completion; Stop does not interrupt it.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.running = false
}

// SetInterval changes the interval used by the next scheduling point. The
// currently pending firing keeps its original deadline.
func (p *Periodic) SetInterval(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.interval = interval
}

// Interval returns the currently configured interval.
func (p *Periodic) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.interval
}

// IsRunning reports whether a firing is scheduled.
func (p *Periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

func (p *Periodic) run(gen uint64) {
	// Schedule first, then execute. The generation pins this firing to the
	// Start that armed it: a Stop, or a Stop followed by a new Start, bumps
	// the generation, and a firing from the old chain must not re-arm on
	// top of the new one. The in-flight callback still runs to completion.
	p.mu.Lock()
	if gen == p.gen {
		p.timer = time.AfterFunc(p.interval, func() { p.run(gen) })
	}
	p.mu.Unlock()

	p.fn()
}
