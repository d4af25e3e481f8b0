// ============================================================================
// Single-Test Runner
// ============================================================================
//
// Package: internal/runner
// File: runner.go
// Purpose: Run one program against one test case in its own OS process
//
// Timeout Control:
//   Two independent mechanisms guard every run:
//   1. exec.CommandContext with a deadline of limit (+ overhead + margin)
//   2. a time.AfterFunc backstop that kills the process group KillGrace later
//
// Classification (first match wins):
//   killed by either timer / SIGKILL / SIGTERM   -> TLE, time = limit
//   wall time - startup overhead > limit         -> TLE, time = measured
//   captured output over the cap                 -> RE
//   non-zero exit                                -> RE, stderr or exit code
//   normalized stdout == normalized expected     -> AC, else WA
//
// ============================================================================

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/verdict"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// Defaults.
const (
	DefaultKillGrace      = 500 * time.Millisecond
	DefaultSafetyMargin   = time.Second
	DefaultMaxOutputBytes = 16 << 20
)

// Config tunes the runner.
type Config struct {
	KillGrace      time.Duration // backstop delay after the spawn-level timeout
	SafetyMargin   time.Duration // extra kill headroom when startup overhead is compensated
	MaxOutputBytes int64         // cap per stream
}

// Runner executes single test runs.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// Spec describes one test run.
type Spec struct {
	Dir       string
	Command   []string
	Index     int // 0-based
	Test      types.TestCase
	TimeLimit time.Duration
	Overhead  time.Duration // measured interpreter startup, subtracted from wall time
	Normalize verdict.Normalizer
}

// New creates a runner, filling zero config fields with defaults.
func New(cfg Config, logger *slog.Logger) *Runner {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, log: logger}
}

// Run executes s and classifies the outcome. It never returns an error: every
// failure is expressed as a TLE or RE result.
func (r *Runner) Run(ctx context.Context, s Spec) types.TestResult {
	if len(s.Command) == 0 {
		return verdict.Runtime(s.Index, s.Test, 0, "no command to run")
	}
	norm := s.Normalize
	if norm == nil {
		norm = verdict.Normalize
	}

	timeout := s.TimeLimit
	if s.Overhead > 0 {
		timeout += s.Overhead + r.cfg.SafetyMargin
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(r.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(r.cfg.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Stdin = strings.NewReader(s.Test.Input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.cfg.KillGrace
	isolate(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return verdict.Runtime(s.Index, s.Test, 0, err.Error())
	}

	var backstopFired atomic.Bool
	backstop := time.AfterFunc(timeout+r.cfg.KillGrace, func() {
		backstopFired.Store(true)
		_ = kill(cmd)
	})
	waitErr := cmd.Wait()
	backstop.Stop()

	elapsed := time.Since(start) - s.Overhead
	if elapsed < 0 {
		elapsed = 0
	}
	elapsedMs := elapsed.Milliseconds()

	if ctx.Err() != nil {
		return verdict.Runtime(s.Index, s.Test, elapsedMs, "execution cancelled")
	}

	if backstopFired.Load() || errors.Is(runCtx.Err(), context.DeadlineExceeded) || killedBySignal(cmd.ProcessState) {
		r.log.Debug("Test killed on timeout",
			"test", s.Index+1,
			"limit", s.TimeLimit,
			"backstop", backstopFired.Load())
		return verdict.TimeLimit(s.Index, s.Test, s.TimeLimit.Milliseconds())
	}

	if elapsed > s.TimeLimit {
		return verdict.TimeLimit(s.Index, s.Test, elapsedMs)
	}

	if stdout.Overflowed() || stderr.Overflowed() {
		return verdict.Runtime(s.Index, s.Test, elapsedMs, "Output limit exceeded")
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			msg := stderr.String()
			if msg == "" {
				msg = fmt.Sprintf("Process exited with code %d", exitErr.ExitCode())
			}
			return verdict.Runtime(s.Index, s.Test, elapsedMs, msg)
		}
		return verdict.Runtime(s.Index, s.Test, elapsedMs, waitErr.Error())
	}

	return verdict.Compare(norm, s.Index, s.Test, stdout.String(), elapsedMs)
}
