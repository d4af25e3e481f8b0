// ============================================================================
// Job Orchestrator
// ============================================================================
//
// Package: internal/judge
// File: engine.go
// Purpose: Judge one submission end to end
//
// Flow:
//   workspace -> prepare (write + compile) -> execute -> aggregate -> cleanup
//
//   execute:
//     pooled artifact + pool enabled  -> one EXEC batch on a warm worker
//       any pool error                -> log, count fallback, continue below
//     otherwise                       -> one OS process per test, sequential,
//                                        startup overhead compensated for
//                                        pooled runtimes
//
// Guarantees:
//   - tests of one job run strictly one after another, fail-fast
//   - the workspace is removed on every exit path; removal errors are logged
//   - a compile failure is a CE result, not an error
//   - panics are recovered and returned as errors (job-level RE upstream)
//
// ============================================================================

package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/language"
	"github.com/ChuLiYu/judge-engine/internal/metrics"
	"github.com/ChuLiYu/judge-engine/internal/runner"
	"github.com/ChuLiYu/judge-engine/internal/verdict"
	"github.com/ChuLiYu/judge-engine/internal/worker"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("judge panicked")

// Pool is the warm-worker surface the engine needs.
type Pool interface {
	Enabled() bool
	Run(ctx context.Context, b worker.Batch) ([]worker.Reply, error)
}

// Overhead reports interpreter startup latency to compensate for.
type Overhead interface {
	Overhead(ctx context.Context) time.Duration
}

// Config engine configuration
type Config struct {
	TempDir          string // workspace root; empty = language.DefaultRoot()
	DefaultTimeLimit time.Duration
}

// Engine judges submissions. It is safe for concurrent use; admission is the
// caller's concern.
type Engine struct {
	cfg        Config
	dispatcher *language.Dispatcher
	runner     *runner.Runner
	pool       Pool     // nil = no warm pool
	probe      Overhead // nil = no compensation
	metrics    *metrics.Collector
	log        *slog.Logger
}

// Deps bundles the collaborators of an Engine. Pool, Probe and Metrics are optional.
type Deps struct {
	Dispatcher *language.Dispatcher
	Runner     *runner.Runner
	Pool       Pool
	Probe      Overhead
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.TempDir == "" {
		cfg.TempDir = language.DefaultRoot()
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = 2 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		dispatcher: deps.Dispatcher,
		runner:     deps.Runner,
		pool:       deps.Pool,
		probe:      deps.Probe,
		metrics:    deps.Metrics,
		log:        logger,
	}
}

// Judge runs sub and returns its result. An error means the pipeline itself
// failed; callers report it as a job-level RE.
func (e *Engine) Judge(ctx context.Context, sub types.Submission) (result *types.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Judge panicked", "submission", sub.ID, "panic", r)
			result, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	ws, err := language.NewWorkspace(e.cfg.TempDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			e.log.Warn("Workspace cleanup failed", "dir", ws.Dir, "error", rmErr)
		}
	}()

	log := e.log.With("submission", sub.ID, "language", sub.Language, "workspace", ws.ID)

	start := time.Now()
	art, err := e.dispatcher.Prepare(ctx, sub.Language, ws.Dir, sub.Code)
	e.metrics.RecordCompile(string(sub.Language), time.Since(start))
	if err != nil {
		var ce *language.CompileError
		if errors.As(err, &ce) {
			log.Info("Compilation failed")
			return verdict.CompileError(len(sub.TestCases), ce.Output), nil
		}
		return nil, fmt.Errorf("prepare %s: %w", sub.Language, err)
	}
	if art.Normalize == nil {
		art.Normalize = verdict.Normalize
	}

	limit := time.Duration(sub.TimeLimitMs) * time.Millisecond
	if limit <= 0 {
		limit = e.cfg.DefaultTimeLimit
	}

	if art.Pooled && e.pool != nil && e.pool.Enabled() {
		res, perr := e.runPooled(ctx, art, sub.TestCases, limit)
		if perr == nil {
			return res, nil
		}
		log.Warn("Pool execution failed, falling back to per-process", "error", perr)
		e.metrics.RecordFallback()
	}

	return e.runPerProcess(ctx, art, sub.TestCases, limit), nil
}

func (e *Engine) runPooled(ctx context.Context, art *language.Artifact, tests []types.TestCase, limit time.Duration) (*types.JobResult, error) {
	inputs := make([]string, len(tests))
	for i, tc := range tests {
		inputs[i] = tc.Input
	}

	replies, err := e.pool.Run(ctx, worker.Batch{
		Dir:       art.Dir,
		ClassName: art.ClassName,
		Inputs:    inputs,
		TimeLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	if len(replies) != len(tests) {
		return nil, fmt.Errorf("%w: %d replies for %d tests", worker.ErrProtocol, len(replies), len(tests))
	}

	limitMs := limit.Milliseconds()
	sheet := verdict.NewSheet(len(tests))
	for i, r := range replies {
		tc := tests[i]
		var res types.TestResult
		switch r.Kind {
		case worker.ReplyTLE:
			res = verdict.TimeLimit(i, tc, limitMs)
		case worker.ReplyRE:
			res = verdict.Runtime(i, tc, r.TimeMs, r.Message)
		default:
			if r.TimeMs > limitMs {
				res = verdict.TimeLimit(i, tc, r.TimeMs)
			} else {
				res = verdict.Compare(art.Normalize, i, tc, r.Output, r.TimeMs)
			}
		}
		e.metrics.RecordTest(metrics.PathPool, string(res.Verdict))
		if !sheet.Add(res) {
			break
		}
	}
	return sheet.Result(), nil
}

func (e *Engine) runPerProcess(ctx context.Context, art *language.Artifact, tests []types.TestCase, limit time.Duration) *types.JobResult {
	var overhead time.Duration
	if art.Pooled && e.probe != nil {
		overhead = e.probe.Overhead(ctx)
	}

	sheet := verdict.NewSheet(len(tests))
	for i, tc := range tests {
		res := e.runner.Run(ctx, runner.Spec{
			Dir:       art.Dir,
			Command:   art.Command,
			Index:     i,
			Test:      tc,
			TimeLimit: limit,
			Overhead:  overhead,
			Normalize: art.Normalize,
		})
		e.metrics.RecordTest(metrics.PathProcess, string(res.Verdict))
		if !sheet.Add(res) {
			break
		}
	}
	return sheet.Result()
}
