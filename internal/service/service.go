// Package service holds the transport-independent request handling shared by
// the HTTP and gRPC boundaries: validation, admission and health reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/jobmanager"
	"github.com/ChuLiYu/judge-engine/internal/verdict"
	"github.com/ChuLiYu/judge-engine/internal/worker"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// ValidationError rejects a request before anything is executed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Config limits accepted requests.
type Config struct {
	MaxCodeSize        int // characters
	DefaultTimeLimitMs int64
	MaxTimeLimitMs     int64
}

// TestCaseInput is a test case as received; a missing expectedOutput is an error.
type TestCaseInput struct {
	Input          string  `json:"input" yaml:"input"`
	ExpectedOutput *string `json:"expectedOutput" yaml:"expectedOutput"`
	Hidden         bool    `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Code         string          `json:"code"`
	Language     string          `json:"language"`
	TestCases    []TestCaseInput `json:"testCases"`
	TimeLimit    int64           `json:"timeLimit,omitempty"` // ms; 0 = default
	SubmissionID string          `json:"submissionId,omitempty"`
}

// ExecuteResponse is the JobResult plus request bookkeeping.
type ExecuteResponse struct {
	*types.JobResult
	SubmissionID string      `json:"submissionId,omitempty"`
	JobID        types.JobID `json:"jobId"`
	ServerTime   int64       `json:"serverTime"` // ms
}

// TestRequest is the body of the development POST /test endpoint.
type TestRequest struct {
	Code           string `json:"code"`
	Language       string `json:"language"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	TimeLimit      int64  `json:"timeLimit,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string           `json:"status"`
	ActiveJobs    int              `json:"activeJobs"`
	QueueLength   int              `json:"queueLength"`
	MaxConcurrent int              `json:"maxConcurrent"`
	Timestamp     string           `json:"timestamp"`
	Jobs          jobmanager.Stats `json:"jobs"`
	Pool          *worker.Stats    `json:"pool,omitempty"`
}

// Judge executes one admitted submission.
type Judge interface {
	Judge(ctx context.Context, sub types.Submission) (*types.JobResult, error)
}

// PoolStats reports warm pool state.
type PoolStats interface {
	Stats() worker.Stats
}

// Service validates, admits and judges requests.
type Service struct {
	cfg      Config
	ctrl     *controller.Controller
	judge    Judge
	pool     PoolStats // optional
	supports func(types.Language) bool
	now      func() time.Time
}

// New creates a service. supports reports whether a language can be judged;
// pool may be nil.
func New(cfg Config, ctrl *controller.Controller, judge Judge, pool PoolStats, supports func(types.Language) bool) *Service {
	if supports == nil {
		supports = func(types.Language) bool { return true }
	}
	return &Service{cfg: cfg, ctrl: ctrl, judge: judge, pool: pool, supports: supports, now: time.Now}
}

// Validate turns a request into a submission or returns a *ValidationError.
func (s *Service) Validate(req ExecuteRequest) (types.Submission, error) {
	if strings.TrimSpace(req.Code) == "" {
		return types.Submission{}, invalid("Code is required")
	}
	lang, err := types.ParseLanguage(req.Language)
	if err != nil || !s.supports(lang) {
		return types.Submission{}, invalid("Invalid language. Supported: %s", s.supported())
	}
	if len(req.TestCases) == 0 {
		return types.Submission{}, invalid("Test cases are required")
	}
	if s.cfg.MaxCodeSize > 0 && utf8.RuneCountInString(req.Code) > s.cfg.MaxCodeSize {
		return types.Submission{}, invalid("Code too large. Maximum %d characters allowed", s.cfg.MaxCodeSize)
	}

	tests := make([]types.TestCase, len(req.TestCases))
	for i, tc := range req.TestCases {
		if tc.ExpectedOutput == nil {
			return types.Submission{}, invalid("Test case %d missing expectedOutput", i+1)
		}
		tests[i] = types.TestCase{Input: tc.Input, ExpectedOutput: *tc.ExpectedOutput, Hidden: tc.Hidden}
	}

	limit, err := s.timeLimit(req.TimeLimit)
	if err != nil {
		return types.Submission{}, err
	}

	return types.Submission{
		ID:          types.SubmissionID(req.SubmissionID),
		Code:        req.Code,
		Language:    lang,
		TestCases:   tests,
		TimeLimitMs: limit,
	}, nil
}

func (s *Service) timeLimit(ms int64) (int64, error) {
	switch {
	case ms < 0:
		return 0, invalid("timeLimit must be positive")
	case ms == 0:
		return s.cfg.DefaultTimeLimitMs, nil
	case s.cfg.MaxTimeLimitMs > 0 && ms > s.cfg.MaxTimeLimitMs:
		return 0, invalid("timeLimit exceeds maximum of %dms", s.cfg.MaxTimeLimitMs)
	}
	return ms, nil
}

func (s *Service) supported() string {
	names := make([]string, 0, 3)
	for _, l := range types.Languages() {
		if s.supports(l) {
			names = append(names, string(l))
		}
	}
	return strings.Join(names, ", ")
}

// Execute validates req, waits for admission and judges it. A non-validation
// error means the pipeline failed; if the job was admitted the response then
// carries the job-level RE result alongside the error.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	start := s.now()
	sub, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	jobID, res, err := s.ctrl.Do(ctx, sub, func(ctx context.Context) (*types.JobResult, error) {
		return s.judge.Judge(ctx, sub)
	})
	if errors.Is(err, controller.ErrStopped) {
		return nil, err
	}
	if err != nil {
		res = verdict.Failure(len(sub.TestCases), err)
	}
	return &ExecuteResponse{
		JobResult:    res,
		SubmissionID: req.SubmissionID,
		JobID:        jobID,
		ServerTime:   s.now().Sub(start).Milliseconds(),
	}, err
}

// Test judges a single ad-hoc input/expected pair.
func (s *Service) Test(ctx context.Context, req TestRequest) (*types.JobResult, error) {
	if req.Language == "" {
		req.Language = string(types.LangPython)
	}
	expected := req.ExpectedOutput
	resp, err := s.Execute(ctx, ExecuteRequest{
		Code:      req.Code,
		Language:  req.Language,
		TestCases: []TestCaseInput{{Input: req.Input, ExpectedOutput: &expected}},
		TimeLimit: req.TimeLimit,
	})
	if err != nil {
		return nil, err
	}
	return resp.JobResult, nil
}

// Health reports capacity and pool state.
func (s *Service) Health() HealthResponse {
	st := s.ctrl.Stats()
	h := HealthResponse{
		Status:        "ok",
		ActiveJobs:    st.Active,
		QueueLength:   st.Queued,
		MaxConcurrent: st.MaxConcurrent,
		Timestamp:     s.now().UTC().Format(time.RFC3339Nano),
		Jobs:          s.ctrl.JobStats(),
	}
	if s.pool != nil {
		ps := s.pool.Stats()
		h.Pool = &ps
	}
	return h
}

// Job returns a tracked job.
func (s *Service) Job(id types.JobID) (types.Job, error) {
	return s.ctrl.Job(id)
}
