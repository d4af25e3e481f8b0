// ============================================================================
// Warm Worker - One Long-Lived Interpreter Process
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Purpose: Own one resident process and speak the line protocol with it
//
// How it works:
//   A reader goroutine scans the process stdout and forwards every line to a
//   buffered channel. When stdout closes the goroutine reaps the process,
//   marks the worker Dead, closes the channel and fires the pool's exit hook.
//
//   ┌──────────────┐  EXEC\n<dir>\n<class>\n<n>\n<ms>\n  ┌─────────────┐
//   │   Worker     │ ─────────────── stdin ────────────▶ │   process   │
//   │  readLine()  │ ◀──── lines chan ◀── reader ◀────── │   stdout    │
//   └──────────────┘                                     └─────────────┘
//
// A worker never outlives a protocol fault: any error while talking to it is
// answered by Kill, and the pool replaces it.
//
// ============================================================================

package worker

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const maxLineBytes = 1 << 20

// Worker is one resident process. It is owned by the Pool and only leased to
// callers between Acquire and Release/Discard.
type Worker struct {
	id    int
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
	log   *slog.Logger

	mu    sync.Mutex
	state State

	killOnce sync.Once
	stop     chan struct{}
}

func newWorker(id int, cmd *exec.Cmd, logger *slog.Logger) *Worker {
	return &Worker{
		id:    id,
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
		log:   logger.With("worker", id),
		state: StateStarting,
	}
}

// ID returns the pool slot of the worker.
func (w *Worker) ID() int { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !canTransition(w.state, to) {
		return fmt.Errorf("worker %d: illegal transition %s -> %s", w.id, w.state, to)
	}
	w.state = to
	return nil
}

// start launches the process and the reader goroutine. onExit runs once the
// process is reaped.
func (w *Worker) start(onExit func(*Worker), wg *sync.WaitGroup) error {
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker %d stdin: %w", w.id, err)
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker %d stdout: %w", w.id, err)
	}
	w.cmd.Stderr = io.Discard
	w.stdin = stdin

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("worker %d start: %w", w.id, err)
	}
	w.log.Debug("Worker process spawned", "pid", w.cmd.Process.Pid)

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.readLoop(stdout)
		err := w.cmd.Wait()

		w.mu.Lock()
		w.state = StateDead
		w.mu.Unlock()
		close(w.done)

		w.log.Info("Worker exited", "error", err)
		if onExit != nil {
			onExit(w)
		}
	}()
	return nil
}

func (w *Worker) readLoop(stdout io.Reader) {
	defer close(w.lines)

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		select {
		case w.lines <- sc.Text():
		case <-w.stop:
			return
		}
	}
}

// readLine waits up to timeout for the next line.
func (w *Worker) readLine(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-w.lines:
		if !ok {
			return "", ErrWorkerDead
		}
		return strings.TrimSpace(line), nil
	case <-timer.C:
		return "", ErrResponseTimeout
	}
}

// waitReady blocks until the process announces READY.
func (w *Worker) waitReady(timeout time.Duration) error {
	line, err := w.readLine(timeout)
	if err != nil {
		return fmt.Errorf("worker %d startup: %w", w.id, err)
	}
	if line != lineReady {
		return fmt.Errorf("%w: worker %d expected READY, got %q", ErrProtocol, w.id, line)
	}
	return nil
}

func (w *Worker) send(s string) error {
	if _, err := io.WriteString(w.stdin, s); err != nil {
		return fmt.Errorf("%w: write: %v", ErrWorkerDead, err)
	}
	return nil
}

// exec runs one batch and reads exactly tests reply lines plus DONE.
func (w *Worker) exec(dir, className string, tests int, limit, slack, doneTimeout time.Duration) ([]Reply, error) {
	if err := w.send(EncodeExec(dir, className, tests, limit.Milliseconds())); err != nil {
		return nil, err
	}

	replies := make([]Reply, 0, tests)
	for i := 0; i < tests; i++ {
		line, err := w.readLine(limit + slack)
		if err != nil {
			return nil, fmt.Errorf("test %d: %w", i+1, err)
		}
		r, err := ParseReply(line)
		if err != nil {
			return nil, fmt.Errorf("test %d: %w", i+1, err)
		}
		replies = append(replies, r)
	}

	line, err := w.readLine(doneTimeout)
	if err != nil {
		return nil, fmt.Errorf("awaiting DONE: %w", err)
	}
	if line != lineDone {
		if rest, ok := strings.CutPrefix(line, lineFatal); ok {
			return nil, fmt.Errorf("%w: %s", ErrWorkerFatal, strings.TrimSpace(rest))
		}
		return nil, fmt.Errorf("%w: expected DONE, got %q", ErrProtocol, line)
	}
	return replies, nil
}

// Kill terminates the process. The exit hook fires from the reader goroutine.
func (w *Worker) Kill() {
	w.killOnce.Do(func() {
		close(w.stop)
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
	})
}

// exited reports whether the process has been reaped.
func (w *Worker) exited() <-chan struct{} { return w.done }
