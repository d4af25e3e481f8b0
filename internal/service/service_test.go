package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/worker"
	"github.com/ChuLiYu/judge-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type judgeFunc func(ctx context.Context, sub types.Submission) (*types.JobResult, error)

func (f judgeFunc) Judge(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
	return f(ctx, sub)
}

type staticPool worker.Stats

func (p staticPool) Stats() worker.Stats { return worker.Stats(p) }

func strp(s string) *string { return &s }

func testConfig() Config {
	return Config{MaxCodeSize: 100, DefaultTimeLimitMs: 2000, MaxTimeLimitMs: 10000}
}

func acceptAll(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
	return &types.JobResult{Verdict: types.VerdictAC, TotalTestCases: len(sub.TestCases), PassedTestCases: len(sub.TestCases)}, nil
}

func newService(j Judge) *Service {
	return New(testConfig(), controller.NewController(controller.Config{MaxConcurrent: 2}, nil), j, nil, nil)
}

func validRequest() ExecuteRequest {
	return ExecuteRequest{
		Code:      "print(input())",
		Language:  "Python",
		TestCases: []TestCaseInput{{Input: "1", ExpectedOutput: strp("1")}},
	}
}

func TestValidate(t *testing.T) {
	s := newService(judgeFunc(acceptAll))

	tests := []struct {
		name   string
		mutate func(r *ExecuteRequest)
		errMsg string
	}{
		{name: "missing code", mutate: func(r *ExecuteRequest) { r.Code = "  " }, errMsg: "Code is required"},
		{name: "unknown language", mutate: func(r *ExecuteRequest) { r.Language = "ruby" }, errMsg: "Invalid language. Supported: python, java, c"},
		{name: "empty language", mutate: func(r *ExecuteRequest) { r.Language = "" }, errMsg: "Invalid language"},
		{name: "no tests", mutate: func(r *ExecuteRequest) { r.TestCases = nil }, errMsg: "Test cases are required"},
		{name: "code too large", mutate: func(r *ExecuteRequest) { r.Code = strings.Repeat("é", 101) }, errMsg: "Code too large. Maximum 100 characters allowed"},
		{name: "missing expected", mutate: func(r *ExecuteRequest) {
			r.TestCases = append(r.TestCases, TestCaseInput{Input: "2"})
		}, errMsg: "Test case 2 missing expectedOutput"},
		{name: "negative limit", mutate: func(r *ExecuteRequest) { r.TimeLimit = -5 }, errMsg: "timeLimit must be positive"},
		{name: "limit above max", mutate: func(r *ExecuteRequest) { r.TimeLimit = 10001 }, errMsg: "timeLimit exceeds maximum of 10000ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := s.Validate(req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Message, tt.errMsg)
		})
	}
}

func TestValidateCodeSizeCountsCharacters(t *testing.T) {
	s := newService(judgeFunc(acceptAll))
	req := validRequest()
	req.Code = strings.Repeat("é", 100) // 200 bytes, 100 characters
	_, err := s.Validate(req)
	assert.NoError(t, err)
}

func TestValidateBuildsSubmission(t *testing.T) {
	s := newService(judgeFunc(acceptAll))
	req := validRequest()
	req.SubmissionID = "abc"
	req.TestCases = append(req.TestCases, TestCaseInput{Input: "2", ExpectedOutput: strp(""), Hidden: true})

	sub, err := s.Validate(req)
	require.NoError(t, err)
	assert.Equal(t, types.LangPython, sub.Language)
	assert.Equal(t, types.SubmissionID("abc"), sub.ID)
	assert.Equal(t, int64(2000), sub.TimeLimitMs, "default applied")
	require.Len(t, sub.TestCases, 2)
	assert.True(t, sub.TestCases[1].Hidden)
	assert.Equal(t, "", sub.TestCases[1].ExpectedOutput, "empty expected output is allowed")
}

func TestValidateRespectsSupportedLanguages(t *testing.T) {
	s := New(testConfig(), controller.NewController(controller.Config{}, nil), judgeFunc(acceptAll), nil,
		func(l types.Language) bool { return l == types.LangPython })
	req := validRequest()
	req.Language = "java"

	_, err := s.Validate(req)
	assert.EqualError(t, err, "Invalid language. Supported: python")
}

func TestExecute(t *testing.T) {
	var seen types.Submission
	s := newService(judgeFunc(func(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
		seen = sub
		return acceptAll(ctx, sub)
	}))

	req := validRequest()
	req.SubmissionID = "sub-9"
	req.TimeLimit = 1500
	resp, err := s.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictAC, resp.Verdict)
	assert.Equal(t, "sub-9", resp.SubmissionID)
	assert.NotEmpty(t, resp.JobID)
	assert.GreaterOrEqual(t, resp.ServerTime, int64(0))
	assert.Equal(t, int64(1500), seen.TimeLimitMs)

	job, err := s.Job(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, job.Status)

	// The embedded JobResult is flattened into the response body.
	body, err := json.Marshal(resp)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(body, &flat))
	assert.Equal(t, "AC", flat["verdict"])
	assert.Equal(t, "sub-9", flat["submissionId"])
	assert.Contains(t, flat, "serverTime")
}

func TestExecuteValidationErrorSkipsJudge(t *testing.T) {
	called := false
	s := newService(judgeFunc(func(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
		called = true
		return acceptAll(ctx, sub)
	}))

	_, err := s.Execute(context.Background(), ExecuteRequest{Language: "python"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, called)
	assert.Equal(t, uint64(0), s.Health().Jobs.Completed)
}

func TestExecutePipelineError(t *testing.T) {
	s := newService(judgeFunc(func(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
		return nil, errors.New("workspace: read-only file system")
	}))

	resp, err := s.Execute(context.Background(), validRequest())
	assert.EqualError(t, err, "workspace: read-only file system")
	assert.Equal(t, uint64(1), s.Health().Jobs.Failed)

	require.NotNil(t, resp)
	assert.Equal(t, types.VerdictRE, resp.Verdict)
	assert.Equal(t, "workspace: read-only file system", resp.Error)
	assert.Empty(t, resp.Results)
	assert.Equal(t, len(validRequest().TestCases), resp.TotalTestCases)
	assert.NotEmpty(t, resp.JobID)
}

func TestTestEndpointDefaults(t *testing.T) {
	var seen types.Submission
	s := newService(judgeFunc(func(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
		seen = sub
		return acceptAll(ctx, sub)
	}))

	res, err := s.Test(context.Background(), TestRequest{Code: "print(1)", ExpectedOutput: "1"})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
	assert.Equal(t, types.LangPython, seen.Language)
	require.Len(t, seen.TestCases, 1)
	assert.Equal(t, "1", seen.TestCases[0].ExpectedOutput)
}

func TestHealth(t *testing.T) {
	pool := staticPool{Size: 2, Alive: 2, Idle: 1, Busy: 1, Enabled: true}
	s := New(testConfig(), controller.NewController(controller.Config{MaxConcurrent: 4}, nil), judgeFunc(acceptAll), pool, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	h := s.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 4, h.MaxConcurrent)
	assert.Equal(t, "2026-01-02T03:04:05Z", h.Timestamp)
	require.NotNil(t, h.Pool)
	assert.Equal(t, 1, h.Pool.Busy)

	h = newService(judgeFunc(acceptAll)).Health()
	assert.Nil(t, h.Pool)
}
