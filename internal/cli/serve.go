package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/judge-engine/internal/api"
	"github.com/ChuLiYu/judge-engine/internal/config"
	"github.com/ChuLiYu/judge-engine/internal/discovery"
	"github.com/ChuLiYu/judge-engine/internal/metrics"
	"github.com/ChuLiYu/judge-engine/internal/server"
)

// shutdownTimeout bounds the HTTP drain and the wait for running jobs.
const shutdownTimeout = 30 * time.Second

func buildServeCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the execution server",
		Long:  "Serve POST /execute and GET /health, plus gRPC, metrics and discovery when enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config and EXECUTION_PORT)")
	return cmd
}

// serve runs until ctx is cancelled or a listener fails, then shuts down in
// order: discovery, HTTP drain, gRPC, admitted jobs, warm pool, metrics.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(os.Stderr, cfg)
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.NewCollector()
	a := newApp(cfg, logger, m, cfg.Pool.Enabled)
	a.start(ctx)

	errCh := make(chan error, 3)

	router := api.NewRouter(api.Config{
		Secret:       cfg.Server.Secret,
		Production:   cfg.Production(),
		RateLimitRPS: cfg.Server.RateLimit.RPS,
		RateBurst:    cfg.Server.RateLimit.Burst,
	}, a.svc, m, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			_ = a.stop(context.Background())
			_ = httpSrv.Close()
			return fmt.Errorf("failed to listen on port %d: %w", cfg.GRPC.Port, err)
		}
		grpcSrv = server.NewGRPCServer(a.svc, cfg.Server.Secret, logger)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		logger.Info("gRPC server listening", "port", cfg.GRPC.Port)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics server listening", "port", cfg.Metrics.Port)
	}

	var registry *discovery.Registry
	if cfg.Discovery.Enabled {
		registry = discovery.NewRegistry(discovery.Options{
			RedisAddr:   cfg.Discovery.RedisAddr,
			ServiceName: cfg.Discovery.ServiceName,
			Addr:        advertisedAddr(cfg.Server.Port),
			Languages:   a.languages(),
			Interval:    cfg.Discovery.Interval,
		}, func() discovery.Load {
			h := a.svc.Health()
			l := discovery.Load{ActiveJobs: h.ActiveJobs, QueueLength: h.QueueLength, MaxConcurrent: h.MaxConcurrent}
			if h.Pool != nil {
				l.PoolAlive, l.PoolEnabled = h.Pool.Alive, h.Pool.Enabled
			}
			return l
		}, logger)
		if err := registry.Start(ctx); err != nil {
			logger.Warn("Discovery heartbeat failed, will keep retrying", "error", err)
		}
	}

	logger.Info("Execution server started",
		"port", cfg.Server.Port,
		"secret_configured", cfg.Server.Secret != "",
		"default_time_limit_ms", cfg.Execution.DefaultTimeLimit,
		"max_code_size", cfg.Server.MaxCodeSize,
		"max_concurrent", cfg.Execution.MaxConcurrent,
		"pool", cfg.Pool.Enabled,
		"environment", cfg.Server.Environment,
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, stopping gracefully")
	case runErr = <-errCh:
		logger.Error("Listener failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if registry != nil {
		_ = registry.Stop(shutdownCtx)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := a.stop(shutdownCtx); err != nil {
		logger.Warn("Job drain incomplete", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("Execution server stopped")
	return runErr
}

func advertisedAddr(port int) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}
