// ============================================================================
// Judge CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the judge engine
//
// Command Structure:
//   judge                          # Root command
//   ├── serve                      # HTTP (+ gRPC, metrics, discovery) server
//   ├── run                        # Judge a local source file
//   │   ├── --language, -l
//   │   ├── --source, -s
//   │   ├── --tests, -t            # YAML list of {input, expectedOutput, hidden}
//   │   ├── --time-limit           # ms, 0 = default
//   │   └── --pool                 # use the warm JVM pool
//   ├── status                     # Print GET /health of a running server
//   │   └── --addr
//   └── submit                     # Judge remotely over gRPC
//       ├── --addr
//       └── --language/--source/--tests/--time-limit as for run
//
// Persistent flags:
//   --config, -c   YAML config (default configs/default.yaml, missing = defaults)
//   --env-file     dotenv file loaded before the environment overrides (default .env)
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/judge-engine/internal/config"
	"github.com/ChuLiYu/judge-engine/internal/logging"
	"github.com/ChuLiYu/judge-engine/internal/server"
	"github.com/ChuLiYu/judge-engine/internal/service"
)

// Version is reported by --version.
var Version = "1.0.0"

type rootOptions struct {
	configFile string
	envFile    string
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "judge",
		Short: "Judge: a code execution and judging engine",
		Long: `Judge compiles and runs untrusted submissions against test cases:
- Bounded FIFO admission of concurrent jobs
- Python, C and Java with a warm JVM worker pool
- Fail-fast verdicts (AC, WA, TLE, RE, CE)
- HTTP and gRPC boundaries, Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with environment overrides")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildSubmitCommand(opts))

	return rootCmd
}

// loadConfig loads the env file (if present) into the process environment and
// then the YAML config with environment overrides applied.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", o.envFile, err)
		}
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ============================================================================
// run
// ============================================================================

type submissionFlags struct {
	language  string
	source    string
	tests     string
	timeLimit int64
}

func (f *submissionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "python, c or java")
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "source file")
	cmd.Flags().StringVarP(&f.tests, "tests", "t", "", "YAML file with test cases")
	cmd.Flags().Int64Var(&f.timeLimit, "time-limit", 0, "time limit per test in ms (0 = default)")
	_ = cmd.MarkFlagRequired("language")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("tests")
}

func (f *submissionFlags) request() (service.ExecuteRequest, error) {
	code, err := os.ReadFile(f.source)
	if err != nil {
		return service.ExecuteRequest{}, fmt.Errorf("failed to read source: %w", err)
	}
	tests, err := loadTestCases(f.tests)
	if err != nil {
		return service.ExecuteRequest{}, err
	}
	return service.ExecuteRequest{
		Code:      string(code),
		Language:  f.language,
		TestCases: tests,
		TimeLimit: f.timeLimit,
	}, nil
}

// loadTestCases reads a YAML list of test cases.
func loadTestCases(path string) ([]service.TestCaseInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test file: %w", err)
	}
	var tests []service.TestCaseInput
	if err := yaml.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("failed to parse test file: %w", err)
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("test file %s has no test cases", path)
	}
	return tests, nil
}

func buildRunCommand(opts *rootOptions) *cobra.Command {
	var flags submissionFlags
	var usePool bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Judge a local source file",
		Long:  "Compile and run a source file against a YAML test file in-process and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

			req, err := flags.request()
			if err != nil {
				return err
			}

			a := newApp(cfg, logger, nil, usePool)
			a.start(cmd.Context())
			defer func() { _ = a.stop(context.Background()) }()

			resp, err := a.svc.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&usePool, "pool", false, "run java through the warm JVM pool")
	return cmd
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  "Fetch GET /health from a running server and display capacity and pool state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			h, err := fetchHealth(ctx, addr)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), addr, h)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:6001", "server base URL")
	return cmd
}

func fetchHealth(ctx context.Context, addr string) (*service.HealthResponse, error) {
	url := strings.TrimRight(addr, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}
	var h service.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &h, nil
}

func printStatus(w io.Writer, addr string, h *service.HealthResponse) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                 Judge Engine Status                       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintf(w, "Server:          %s (%s)\n", addr, h.Status)
	fmt.Fprintf(w, "Timestamp:       %s\n", h.Timestamp)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Admission:")
	fmt.Fprintf(w, "  ├─ Active:      %d/%d\n", h.ActiveJobs, h.MaxConcurrent)
	fmt.Fprintf(w, "  └─ Queued:      %d\n", h.QueueLength)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Jobs:")
	fmt.Fprintf(w, "  ├─ Completed:   %d\n", h.Jobs.Completed)
	fmt.Fprintf(w, "  ├─ Failed:      %d\n", h.Jobs.Failed)
	fmt.Fprintf(w, "  └─ Retained:    %d\n", h.Jobs.Retained)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Warm pool:")
	if h.Pool == nil {
		fmt.Fprintln(w, "  └─ Disabled")
		return
	}
	state := "enabled"
	if !h.Pool.Enabled {
		state = "disabled (per-process fallback)"
	}
	fmt.Fprintf(w, "  ├─ State:       %s\n", state)
	fmt.Fprintf(w, "  ├─ Workers:     %d/%d alive, %d idle, %d busy\n", h.Pool.Alive, h.Pool.Size, h.Pool.Idle, h.Pool.Busy)
	fmt.Fprintf(w, "  └─ Waiting:     %d\n", h.Pool.Waiting)
}

// ============================================================================
// submit
// ============================================================================

func buildSubmitCommand(opts *rootOptions) *cobra.Command {
	var flags submissionFlags
	var addr, secret, submissionID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Judge a source file on a remote server over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				if cfg, err := opts.loadConfig(); err == nil {
					secret = cfg.Server.Secret
				}
			}
			req, err := flags.request()
			if err != nil {
				return err
			}
			req.SubmissionID = submissionID

			client, err := server.NewClient(addr, secret)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := client.Execute(ctx, &req)
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "localhost:6002", "gRPC server address")
	cmd.Flags().StringVar(&secret, "secret", "", "execution secret (default EXECUTION_SECRET)")
	cmd.Flags().StringVar(&submissionID, "submission-id", "", "caller-supplied submission id")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "request deadline")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setupLogger installs the configured logger as the process default.
func setupLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return logging.Setup(w, cfg.Logging.Level, cfg.Logging.Format)
}
