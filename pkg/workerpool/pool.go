// Package workerpool bounds how many pages render concurrently, across all
// in-flight convert calls, to the number of slots the host can actually
// support. A slot is never keyed by "what's loaded in it": every convert
// call opens its own fresh decoder handle per worker, so the pool only
// tracks busy/idle, not identity. The one thing worth keeping warm across
// leases is an isolated subprocess in Subprocess mode, which is why a slot
// still carries an idle timestamp and an eviction loop.
package workerpool

import (
	"context"
	"runtime"
	"time"

	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/workerpool/isolation"
)

// Mode selects how Workers execute page tasks.
type Mode int

const (
	// InProcess runs Workers as goroutines in the calling process. A panic
	// during decode/encode is recovered per-page; it can never bring down a
	// slot that isn't the one that panicked, but it shares the parent's
	// memory space.
	InProcess Mode = iota
	// Subprocess lets each slot hold a warm OS-isolated child-process handle
	// (Lease.Process/SetProcess, pkg/workerpool/isolation) that the Pool
	// idle-evicts. This package does not start the child, and
	// Worker.ProcessPage runs in the calling process in either mode.
	Subprocess
)

// DefaultIdleTimeout is how long a Subprocess-mode slot's warm child process
// may sit idle before the Pool closes it.
const DefaultIdleTimeout = 5 * time.Minute

// DefaultSlotCount picks a slot count from available CPUs, capped for
// sanity; callers needing topology-aware sizing should use
// pkg/config instead and pass the result to NewPool.
func DefaultSlotCount() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 32 {
		return 32
	}
	return n
}

type slotState struct {
	busy      bool
	timestamp time.Time // valid only when !busy; last time the slot went idle
	proc      isolation.Process
}

// Pool hands out a fixed number of execution slots to concurrent convert
// calls, across the whole process.
type Pool struct {
	log         logging.Logger
	mode        Mode
	idleTimeout time.Duration

	idleCheck chan struct{}
	guard     chan struct{}
	runEnabled bool
	waiters   map[chan<- struct{}]bool
	slots     []*slotState
}

// NewPool creates a Pool with n slots. idleTimeout is only meaningful in
// Subprocess mode; pass zero to use DefaultIdleTimeout.
func NewPool(n int, mode Mode, log logging.Logger, idleTimeout time.Duration) *Pool {
	if n < 1 {
		n = 1
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	slots := make([]*slotState, n)
	for i := range slots {
		slots[i] = &slotState{}
	}
	p := &Pool{
		log:         log,
		mode:        mode,
		idleTimeout: idleTimeout,
		idleCheck:   make(chan struct{}, 1),
		guard:       make(chan struct{}, 1),
		waiters:     make(map[chan<- struct{}]bool),
		slots:       slots,
		// Leases are served from construction on, so a Lease issued right
		// after `go pool.Run(ctx)` does not race Run's start; Run clears
		// this when it exits.
		runEnabled: true,
	}
	p.guard <- struct{}{}
	return p
}

func (p *Pool) lock(ctx context.Context) bool {
	select {
	case <-p.guard:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) unlock() { p.guard <- struct{}{} }

func (p *Pool) broadcast() {
	for waiter := range p.waiters {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// Lease is a single slot reservation, held for the duration of one Worker's
// decode-render-encode run inside one convert call.
type Lease struct {
	pool *Pool
	Slot int
}

// Process returns the slot's warm subprocess handle, if Subprocess mode
// already has one running from a previous lease, or nil if this lease must
// spawn a fresh one.
func (l *Lease) Process() isolation.Process {
	return l.pool.slots[l.Slot].proc
}

// SetProcess records the subprocess handle this lease spawned, so the Pool
// can keep it warm for the next lease on this slot and idle-evict it later.
// Only meaningful in Subprocess mode.
func (l *Lease) SetProcess(proc isolation.Process) {
	l.pool.slots[l.Slot].proc = proc
}

// Release returns the slot to the free pool.
func (l *Lease) Release() { l.pool.release(l.Slot) }

// Lease blocks until a slot is free or ctx is done.
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	if !p.lock(ctx) {
		return nil, ErrAcquireCanceled
	}
	defer p.unlock()

	poll := make(chan struct{}, 1)
	p.waiters[poll] = true
	defer delete(p.waiters, poll)

	for {
		if !p.runEnabled {
			return nil, ErrPoolClosed
		}
		for i, s := range p.slots {
			if !s.busy {
				s.busy = true
				return &Lease{pool: p, Slot: i}, nil
			}
		}

		p.unlock()
		select {
		case <-ctx.Done():
			p.lock(context.Background())
			return nil, ErrAcquireCanceled
		case <-poll:
			p.lock(context.Background())
		}
	}
}

func (p *Pool) release(slot int) {
	p.lock(context.Background())
	defer p.unlock()

	s := p.slots[slot]
	s.busy = false
	s.timestamp = time.Now()
	select {
	case p.idleCheck <- struct{}{}:
	default:
	}
	p.broadcast()
}

// evictIdleSubprocesses closes any Subprocess-mode slot's warm child process
// that has sat idle longer than idleTimeout. The caller must hold the lock.
func (p *Pool) evictIdleSubprocesses() {
	if p.mode != Subprocess {
		return
	}
	now := time.Now()
	for _, s := range p.slots {
		if s.busy || s.proc == nil {
			continue
		}
		if now.Sub(s.timestamp) > p.idleTimeout {
			if err := s.proc.Close(); err != nil {
				p.log.Warnf("Error closing idle isolated worker process: %v", err)
			}
			s.proc = nil
		}
	}
}

func (p *Pool) idleCheckDuration() time.Duration {
	if p.mode != Subprocess {
		return -1 * time.Second
	}
	var oldest time.Time
	for _, s := range p.slots {
		if !s.busy && s.proc != nil {
			if oldest.IsZero() || s.timestamp.Before(oldest) {
				oldest = s.timestamp
			}
		}
	}
	if oldest.IsZero() {
		return -1 * time.Second
	}
	if remaining := p.idleTimeout - time.Since(oldest); remaining < 0 {
		return 0
	} else {
		return remaining + 100*time.Millisecond
	}
}

func stopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// Run drives idle subprocess eviction until ctx is done. It must be started
// before any Lease call and should run for the lifetime of the process.
func (p *Pool) Run(ctx context.Context) {
	if !p.lock(ctx) {
		return
	}
	p.runEnabled = true
	p.unlock()

	defer func() {
		p.lock(context.Background())
		p.runEnabled = false
		for _, s := range p.slots {
			if s.proc != nil {
				_ = s.proc.Close()
				s.proc = nil
			}
		}
		p.broadcast()
		p.unlock()
	}()

	idleTimer := time.NewTimer(0)
	if !idleTimer.Stop() {
		<-idleTimer.C
	}
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idleTimer.C:
			if p.lock(ctx) {
				p.evictIdleSubprocesses()
				if next := p.idleCheckDuration(); next >= 0 {
					idleTimer.Reset(next)
				}
				p.unlock()
			}
		case <-p.idleCheck:
			if p.lock(ctx) {
				stopAndDrainTimer(idleTimer)
				if next := p.idleCheckDuration(); next >= 0 {
					idleTimer.Reset(next)
				}
				p.unlock()
			}
		}
	}
}
