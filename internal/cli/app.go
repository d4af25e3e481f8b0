package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/config"
	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/judge"
	"github.com/ChuLiYu/judge-engine/internal/language"
	"github.com/ChuLiYu/judge-engine/internal/metrics"
	"github.com/ChuLiYu/judge-engine/internal/runner"
	"github.com/ChuLiYu/judge-engine/internal/service"
	"github.com/ChuLiYu/judge-engine/internal/worker"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// app is the assembled engine: dispatcher, runner, optional warm pool,
// orchestrator, admission controller and the service layer on top.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	metrics    *metrics.Collector
	dispatcher *language.Dispatcher
	pool       *worker.Pool // nil when disabled
	engine     *judge.Engine
	ctrl       *controller.Controller
	svc        *service.Service
}

// newApp wires the engine from cfg. m may be nil; withPool overrides cfg.Pool.Enabled.
func newApp(cfg *config.Config, logger *slog.Logger, m *metrics.Collector, withPool bool) *app {
	tc := language.Toolchains{
		Python: cfg.Toolchains.Python,
		GCC:    cfg.Toolchains.GCC,
		Java:   cfg.Toolchains.Java,
		Javac:  cfg.Toolchains.Javac,
	}
	dispatcher := language.NewDispatcher(tc, cfg.Execution.CompileTimeout)

	run := runner.New(runner.Config{
		KillGrace:      cfg.Execution.KillGrace,
		SafetyMargin:   cfg.StartupProbe.Margin,
		MaxOutputBytes: cfg.Execution.MaxOutputBytes,
	}, logger)

	probeCmd := cfg.StartupProbe.Command
	if len(probeCmd) == 0 {
		probeCmd = []string{cfg.Toolchains.Java, "-Xshare:auto", "-version"}
	}
	probe := runner.NewProbe(probeCmd, cfg.StartupProbe.Policy, cfg.StartupProbe.TTL, logger)

	a := &app{cfg: cfg, log: logger, metrics: m, dispatcher: dispatcher}

	deps := judge.Deps{
		Dispatcher: dispatcher,
		Runner:     run,
		Probe:      probe,
		Metrics:    m,
		Logger:     logger,
	}
	var poolStats service.PoolStats
	if withPool {
		dir := cfg.Pool.Dir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "judge-jvm-worker")
		}
		a.pool = worker.NewPool(worker.Config{
			Size:          cfg.Pool.Size,
			ReadyTimeout:  cfg.Pool.ReadyTimeout,
			ResponseSlack: cfg.Pool.ResponseSlack,
			DoneTimeout:   cfg.Pool.DoneTimeout,
			ShutdownGrace: cfg.Pool.ShutdownGrace,
		}, &worker.JVMLauncher{
			Java:           cfg.Toolchains.Java,
			Javac:          cfg.Toolchains.Javac,
			Dir:            dir,
			CompileTimeout: cfg.Execution.CompileTimeout,
		}, logger, m)
		deps.Pool = a.pool
		poolStats = a.pool
	}

	a.engine = judge.NewEngine(judge.Config{
		TempDir:          cfg.Execution.TempDir,
		DefaultTimeLimit: time.Duration(cfg.Execution.DefaultTimeLimit) * time.Millisecond,
	}, deps)

	a.ctrl = controller.NewController(controller.Config{
		MaxConcurrent: cfg.Execution.MaxConcurrent,
		Retention:     cfg.Tracker.Retention,
	}, m)

	a.svc = service.New(service.Config{
		MaxCodeSize:        cfg.Server.MaxCodeSize,
		DefaultTimeLimitMs: cfg.Execution.DefaultTimeLimit,
		MaxTimeLimitMs:     cfg.Execution.MaxTimeLimit,
	}, a.ctrl, a.engine, poolStats, dispatcher.Supports)

	return a
}

// start brings up the warm pool. A pool that fails to start is left disabled
// and every pooled job runs per-process.
func (a *app) start(ctx context.Context) {
	if a.pool == nil {
		return
	}
	if err := a.pool.Start(ctx); err != nil {
		a.log.Warn("Warm pool unavailable, using per-process execution", "error", err)
	}
}

// stop drains admitted jobs, then shuts the pool down.
func (a *app) stop(ctx context.Context) error {
	err := a.ctrl.Stop(ctx)
	if a.pool != nil {
		a.pool.Stop()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("Shutdown timed out with jobs still running")
	}
	return err
}

func (a *app) languages() []string {
	var out []string
	for _, l := range types.Languages() {
		if a.dispatcher.Supports(l) {
			out = append(out, string(l))
		}
	}
	return out
}
