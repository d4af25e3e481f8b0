package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/service"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

type judgeFunc func(ctx context.Context, sub types.Submission) (*types.JobResult, error)

func (f judgeFunc) Judge(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
	return f(ctx, sub)
}

func accept(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
	return &types.JobResult{
		Verdict:         types.VerdictAC,
		TotalTestCases:  len(sub.TestCases),
		PassedTestCases: len(sub.TestCases),
		Results:         []types.TestResult{{TestCase: 1, Verdict: types.VerdictAC, Time: 12}},
	}, nil
}

// startServer serves a judge over an in-memory listener and returns a
// connected client using clientSecret.
func startServer(t *testing.T, secret, clientSecret string, j service.Judge) *Client {
	t.Helper()

	ctrl := controller.NewController(controller.Config{MaxConcurrent: 3}, nil)
	svc := service.New(service.Config{MaxCodeSize: 1000, DefaultTimeLimitMs: 2000, MaxTimeLimitMs: 10000}, ctrl, j, nil, nil)

	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(svc, secret, nil)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := NewClient("passthrough:///bufnet", clientSecret,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func strp(s string) *string { return &s }

func request() *service.ExecuteRequest {
	return &service.ExecuteRequest{
		Code:         "print(input())",
		Language:     "python",
		SubmissionID: "grpc-1",
		TestCases:    []service.TestCaseInput{{Input: "7", ExpectedOutput: strp("7")}},
	}
}

func testCtx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestExecuteOverGRPC(t *testing.T) {
	c := startServer(t, "k", "k", judgeFunc(accept))

	resp, err := c.Execute(testCtx(t), request())
	require.NoError(t, err)
	require.NotNil(t, resp.JobResult)
	assert.Equal(t, types.VerdictAC, resp.Verdict)
	assert.Equal(t, "grpc-1", resp.SubmissionID)
	assert.NotEmpty(t, resp.JobID)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(12), resp.Results[0].Time)
}

func TestHealthOverGRPC(t *testing.T) {
	c := startServer(t, "k", "", judgeFunc(accept))

	h, err := c.Health(testCtx(t))
	require.NoError(t, err, "health needs no secret")
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 3, h.MaxConcurrent)
}

func TestSecretInterceptor(t *testing.T) {
	tests := []struct {
		name         string
		serverSecret string
		clientSecret string
		want         codes.Code
	}{
		{name: "missing", serverSecret: "k", clientSecret: "", want: codes.Unauthenticated},
		{name: "wrong", serverSecret: "k", clientSecret: "x", want: codes.Unauthenticated},
		{name: "match", serverSecret: "k", clientSecret: "k", want: codes.OK},
		{name: "disabled", serverSecret: "", clientSecret: "", want: codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := startServer(t, tt.serverSecret, tt.clientSecret, judgeFunc(accept))
			_, err := c.Execute(testCtx(t), request())
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestExecuteErrorCodes(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		c := startServer(t, "", "", judgeFunc(accept))
		req := request()
		req.Language = "cobol"

		_, err := c.Execute(testCtx(t), req)
		st, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, codes.InvalidArgument, st.Code())
		assert.Equal(t, "Invalid language. Supported: python, java, c", st.Message())
	})

	t.Run("pipeline failure", func(t *testing.T) {
		c := startServer(t, "", "", judgeFunc(func(ctx context.Context, sub types.Submission) (*types.JobResult, error) {
			return nil, errors.New("no space left on device")
		}))

		_, err := c.Execute(testCtx(t), request())
		st, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, codes.Internal, st.Code())
		assert.Equal(t, "no space left on device", st.Message())
	})
}

func TestJSONCodec(t *testing.T) {
	var codec jsonCodec
	assert.Equal(t, "json", codec.Name())

	data, err := codec.Marshal(request())
	require.NoError(t, err)

	var got service.ExecuteRequest
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, "python", got.Language)
	require.Len(t, got.TestCases, 1)
	assert.Equal(t, "7", *got.TestCases[0].ExpectedOutput)
}
