// ============================================================================
// Warm Worker Pool - Resident Interpreter Processes
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Purpose: Keep N expensive-to-start processes warm and lease them to jobs
//
// Design:
//   ┌─────────────┐   Acquire()   ┌──────────────────────────┐
//   │    Judge    │ ────────────▶ │  Pool                    │
//   │ Orchestrator│ ◀──────────── │   workers[0..N)  slots   │
//   └─────────────┘  Release()    │   available     idle set │
//                    Discard()    │   waiters       FIFO     │
//                                 └──────────────────────────┘
//
//   - Acquire hands out an idle worker or parks the caller in waiters.
//   - Release gives the worker straight to the longest waiter, else back to
//     the idle set.
//   - Discard kills the worker; its exit hook respawns the same slot.
//   - A worker is in exactly one of {available, leased, dead/respawning}.
//
// Lifecycle:
//   1. NewPool()  - build the pool, nothing spawned
//   2. Start()    - Prepare the launcher, spawn Size workers, wait for READY.
//                   Any failure leaves the pool disabled.
//   3. Run()      - lease, EXEC a batch, release or dispose
//   4. Stop()     - EXIT broadcast, grace period, kill stragglers
//
// Error Handling:
//   - ErrPoolClosed:      Stop() has been called
//   - ErrPoolDisabled:    startup failed or every slot failed to respawn
//   - ErrWorkerDead:      the process exited mid-batch
//   - ErrResponseTimeout: a reply line did not arrive in time
//   - ErrProtocol / ErrWorkerFatal: the worker broke or aborted the batch
//   Any error during Run disposes the worker; it is never reused.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/metrics"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrPoolClosed indicates the pool has been stopped
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolDisabled indicates the pool has no usable workers
	ErrPoolDisabled = errors.New("worker pool is disabled")
	// ErrWorkerDead indicates the worker process exited
	ErrWorkerDead = errors.New("worker is dead")
	// ErrResponseTimeout indicates a reply did not arrive in time
	ErrResponseTimeout = errors.New("worker response timeout")
	// ErrProtocol indicates a malformed or unexpected line
	ErrProtocol = errors.New("worker protocol violation")
	// ErrWorkerFatal indicates the worker aborted the batch with FATAL
	ErrWorkerFatal = errors.New("worker fatal")
)

// Defaults.
const (
	DefaultReadyTimeout    = 15 * time.Second
	DefaultResponseSlack   = 5 * time.Second
	DefaultDoneTimeout     = 3 * time.Second
	DefaultShutdownGrace   = 2 * time.Second
	DefaultRespawnAttempts = 3
	DefaultRespawnBackoff  = 500 * time.Millisecond
)

// ============================================================================
// Types
// ============================================================================

// Config tunes the pool.
type Config struct {
	Size            int
	ReadyTimeout    time.Duration // per spawn, until READY
	ResponseSlack   time.Duration // added to the time limit for each reply line
	DoneTimeout     time.Duration // for the trailing DONE
	ShutdownGrace   time.Duration // between EXIT and kill
	RespawnAttempts int
	RespawnBackoff  time.Duration // multiplied by the attempt number
}

// Batch is one submission's tests for a single EXEC command.
type Batch struct {
	Dir       string
	ClassName string
	Inputs    []string
	TimeLimit time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size    int  `json:"size"`
	Alive   int  `json:"alive"`
	Idle    int  `json:"idle"`
	Busy    int  `json:"busy"`
	Waiting int  `json:"waiting"`
	Enabled bool `json:"enabled"`
}

// Pool manages warm workers.
type Pool struct {
	cfg      Config
	launcher Launcher
	log      *slog.Logger
	metrics  *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	workers   []*Worker
	available []*Worker
	waiters   []chan *Worker
	enabled   bool
	started   bool
	stopped   bool

	wg sync.WaitGroup // reader and respawn goroutines
}

// ============================================================================
// Lifecycle
// ============================================================================

// NewPool creates a pool. Zero config fields take defaults.
func NewPool(cfg Config, launcher Launcher, logger *slog.Logger, m *metrics.Collector) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.ResponseSlack <= 0 {
		cfg.ResponseSlack = DefaultResponseSlack
	}
	if cfg.DoneTimeout <= 0 {
		cfg.DoneTimeout = DefaultDoneTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.RespawnAttempts <= 0 {
		cfg.RespawnAttempts = DefaultRespawnAttempts
	}
	if cfg.RespawnBackoff <= 0 {
		cfg.RespawnBackoff = DefaultRespawnBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		log:      logger.With("component", "pool"),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make([]*Worker, cfg.Size),
	}
}

// Start prepares the launcher and spawns every worker. On error the pool stays
// disabled and callers are expected to use per-process execution.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pool already started")
	}
	p.started = true
	p.mu.Unlock()

	p.log.Info("Preparing warm worker", "size", p.cfg.Size)
	if err := p.launcher.Prepare(ctx); err != nil {
		p.log.Error("Pool init failed, using per-process execution", "error", err)
		return fmt.Errorf("prepare: %w", err)
	}

	spawned := make([]*Worker, 0, p.cfg.Size)
	for i := 0; i < p.cfg.Size; i++ {
		w, err := p.spawn(i)
		if err != nil {
			for _, s := range spawned {
				s.Kill()
			}
			p.log.Error("Pool init failed, using per-process execution", "error", err)
			return err
		}
		spawned = append(spawned, w)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		for _, w := range spawned {
			w.Kill()
		}
		return ErrPoolClosed
	}
	for _, w := range spawned {
		p.workers[w.id] = w
		p.available = append(p.available, w)
	}
	p.enabled = true
	p.metrics.SetPoolAlive(p.aliveLocked())
	p.log.Info("Pool ready", "workers", len(spawned))
	return nil
}

// Stop broadcasts EXIT, waits ShutdownGrace and kills what is still running.
// It is idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.enabled = false
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
	p.available = nil
	live := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w != nil && w.State() != StateDead {
			live = append(live, w)
		}
	}
	p.mu.Unlock()

	p.log.Info("Shutting down pool", "workers", len(live))
	for _, w := range live {
		_ = w.send(lineExit + "\n")
	}

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()
	for _, w := range live {
		select {
		case <-w.exited():
		case <-grace.C:
			// Expired: kill this one and every remaining worker without waiting.
			for _, rest := range live {
				rest.Kill()
			}
		}
	}

	p.cancel()
	p.wg.Wait()
	p.metrics.SetPoolAlive(0)
}

// Enabled reports whether jobs may use the pool.
func (p *Pool) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Stats returns counters for health reporting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Size:    p.cfg.Size,
		Idle:    len(p.available),
		Waiting: len(p.waiters),
		Enabled: p.enabled,
	}
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		switch w.State() {
		case StateIdle, StateBusy:
			s.Alive++
		}
		if w.State() == StateBusy {
			s.Busy++
		}
	}
	return s
}

// ============================================================================
// Acquire / Release
// ============================================================================

// Acquire leases an idle worker, waiting in FIFO order when none is free.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	p.mu.Lock()
	if err := p.unavailableLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	for len(p.available) > 0 {
		w := p.available[0]
		p.available = p.available[1:]
		// A worker whose process just exited is Dead before handleExit prunes it.
		if err := w.transition(StateBusy); err != nil {
			w.log.Debug("Skipping unusable worker", "error", err)
			continue
		}
		p.mu.Unlock()
		return w, nil
	}
	ch := make(chan *Worker, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case w, ok := <-ch:
		if !ok {
			p.mu.Lock()
			defer p.mu.Unlock()
			return nil, p.unavailableLocked()
		}
		return w, nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := false
		for i, c := range p.waiters {
			if c == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				removed = true
				break
			}
		}
		p.mu.Unlock()
		if !removed {
			// Lost the race with a hand-off: pass the worker on.
			if w, ok := <-ch; ok {
				p.Release(w)
			}
		}
		return nil, ctx.Err()
	}
}

// Release returns a healthy worker, handing it to the longest waiter first.
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.workers[w.id] != w || w.State() != StateBusy {
		return
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		ch <- w
		return
	}
	_ = w.transition(StateIdle)
	p.available = append(p.available, w)
}

// Discard kills a leased worker; the slot is respawned.
func (p *Pool) Discard(w *Worker) {
	w.log.Warn("Disposing worker")
	w.Kill()
}

// unavailableLocked returns why the pool cannot serve, or nil.
func (p *Pool) unavailableLocked() error {
	switch {
	case p.stopped:
		return ErrPoolClosed
	case !p.enabled:
		return ErrPoolDisabled
	}
	return nil
}

// ============================================================================
// Execution
// ============================================================================

// Run executes one batch on a leased worker. Inputs are written to
// input_<i>.txt in b.Dir; OK replies carry output_<i>.txt in Output. Any error
// means the caller should fall back to per-process execution.
func (p *Pool) Run(ctx context.Context, b Batch) ([]Reply, error) {
	for i, in := range b.Inputs {
		name := filepath.Join(b.Dir, fmt.Sprintf("input_%d.txt", i))
		if err := os.WriteFile(name, []byte(in), 0o644); err != nil {
			return nil, fmt.Errorf("write input %d: %w", i, err)
		}
	}

	w, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	replies, err := w.exec(b.Dir, b.ClassName, len(b.Inputs), b.TimeLimit, p.cfg.ResponseSlack, p.cfg.DoneTimeout)
	if err != nil {
		w.log.Error("Batch failed", "dir", b.Dir, "error", err)
		p.Discard(w)
		return nil, err
	}

	tle := false
	for i := range replies {
		switch replies[i].Kind {
		case ReplyOK:
			out, rerr := os.ReadFile(filepath.Join(b.Dir, fmt.Sprintf("output_%d.txt", i)))
			if rerr != nil {
				replies[i] = Reply{Kind: ReplyRE, TimeMs: replies[i].TimeMs, Message: "Output file missing"}
				continue
			}
			replies[i].Output = string(out)
		case ReplyTLE:
			tle = true
		}
	}

	w.log.Debug("Batch finished", "tests", len(replies), "duration", time.Since(start))
	if tle {
		// The submission thread may still be running inside the JVM.
		p.Discard(w)
	} else {
		p.Release(w)
	}
	return replies, nil
}

// ============================================================================
// Spawn / Respawn
// ============================================================================

func (p *Pool) spawn(slot int) (*Worker, error) {
	w := newWorker(slot, p.launcher.Command(p.ctx, slot), p.log)
	if err := w.start(p.handleExit, &p.wg); err != nil {
		return nil, err
	}
	if err := w.waitReady(p.cfg.ReadyTimeout); err != nil {
		w.Kill()
		return nil, err
	}
	if err := w.transition(StateIdle); err != nil {
		w.Kill()
		return nil, fmt.Errorf("%w: %v", ErrWorkerDead, err)
	}
	w.log.Info("Worker ready")
	return w, nil
}

// handleExit runs on the reader goroutine of a worker that has been reaped.
func (p *Pool) handleExit(w *Worker) {
	p.mu.Lock()
	if p.workers[w.id] != w {
		p.mu.Unlock()
		return
	}
	for i, a := range p.available {
		if a == w {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	p.metrics.SetPoolAlive(p.aliveLocked())
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.log.Warn("Worker died, respawning", "worker", w.id)
	p.respawn(w.id)
}

func (p *Pool) respawn(slot int) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RespawnAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * p.cfg.RespawnBackoff):
			case <-p.ctx.Done():
				return
			}
		}
		if p.ctx.Err() != nil {
			return
		}

		w, err := p.spawn(slot)
		if err != nil {
			lastErr = err
			p.log.Warn("Respawn attempt failed", "worker", slot, "attempt", attempt, "error", err)
			continue
		}

		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			w.Kill()
			return
		}
		p.workers[slot] = w
		if len(p.waiters) > 0 {
			ch := p.waiters[0]
			p.waiters = p.waiters[1:]
			_ = w.transition(StateBusy)
			ch <- w
		} else {
			p.available = append(p.available, w)
		}
		p.metrics.SetPoolAlive(p.aliveLocked())
		p.mu.Unlock()

		p.metrics.RecordRespawn()
		p.log.Info("Worker respawned", "worker", slot)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.Error("Respawn gave up", "worker", slot, "error", lastErr)
	if p.aliveLocked() == 0 && p.enabled {
		p.enabled = false
		for _, ch := range p.waiters {
			close(ch)
		}
		p.waiters = nil
		p.log.Error("No live workers left, pool disabled")
	}
}

func (p *Pool) aliveLocked() int {
	n := 0
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		if s := w.State(); s == StateIdle || s == StateBusy {
			n++
		}
	}
	return n
}
