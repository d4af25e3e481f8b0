package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/judge"
	"github.com/ChuLiYu/judge-engine/internal/language"
	"github.com/ChuLiYu/judge-engine/internal/runner"
	"github.com/ChuLiYu/judge-engine/internal/service"
)

// newStack wires the real engine behind the router. The python toolchain is
// pointed at /bin/sh so submissions are shell scripts and no interpreter is needed.
func newStack(t testing.TB, maxConcurrent int) (*gin.Engine, *controller.Controller) {
	dispatcher := language.NewDispatcher(language.Toolchains{Python: "sh"}, 0)
	engine := judge.NewEngine(judge.Config{TempDir: t.TempDir()}, judge.Deps{
		Dispatcher: dispatcher,
		Runner:     runner.New(runner.Config{}, nil),
	})
	ctrl := controller.NewController(controller.Config{MaxConcurrent: maxConcurrent}, nil)
	svc := service.New(service.Config{MaxCodeSize: 10000, DefaultTimeLimitMs: 2000, MaxTimeLimitMs: 10000},
		ctrl, engine, nil, dispatcher.Supports)
	return NewRouter(Config{Secret: "k"}, svc, nil, nil), ctrl
}

func shellSubmission(code string, limit int64, tests ...map[string]any) map[string]any {
	return map[string]any{
		"code":      code,
		"language":  "python",
		"timeLimit": limit,
		"testCases": tests,
	}
}

func tc(input, expected string, hidden bool) map[string]any {
	return map[string]any{"input": input, "expectedOutput": expected, "hidden": hidden}
}

var authHeader = map[string]string{SecretHeader: "k"}

func TestEndToEndVerdicts(t *testing.T) {
	r, _ := newStack(t, 2)

	t.Run("accepted", func(t *testing.T) {
		w := do(r, http.MethodPost, "/execute", shellSubmission("read a b; echo $((a + b))", 0,
			tc("1 2", "3", false), tc("40 2", "42", true)), authHeader)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, "AC", body["verdict"])
		assert.Equal(t, float64(2), body["passedTestCases"])
	})

	t.Run("hidden wrong answer stops early", func(t *testing.T) {
		w := do(r, http.MethodPost, "/execute", shellSubmission("echo 0", 0,
			tc("", "1", true), tc("", "0", false)), authHeader)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "WA", body["verdict"])
		results := body["results"].([]any)
		require.Len(t, results, 1)
		first := results[0].(map[string]any)
		assert.Equal(t, "[Hidden]", first["expected"])
		assert.Equal(t, "[Hidden]", first["actual"])
	})

	t.Run("time limit", func(t *testing.T) {
		w := do(r, http.MethodPost, "/execute", shellSubmission("sleep 5", 300, tc("", "", false)), authHeader)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "TLE", body["verdict"])
		first := body["results"].([]any)[0].(map[string]any)
		assert.Equal(t, float64(300), first["time"])
	})

	t.Run("runtime error", func(t *testing.T) {
		w := do(r, http.MethodPost, "/execute", shellSubmission("echo oops >&2; exit 1", 0, tc("", "", false)), authHeader)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "RE", decode(t, w)["verdict"])
	})
}

func TestEndToEndAdmissionUnderLoad(t *testing.T) {
	r, ctrl := newStack(t, 2)

	const n = 6
	var wg sync.WaitGroup
	codes := make([]int, n)
	verdicts := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := do(r, http.MethodPost, "/execute", shellSubmission("sleep 0.1; cat", 0, tc("x", "x", false)), authHeader)
			codes[i] = w.Code
			var body map[string]any
			if w.Code == http.StatusOK {
				body = decode(t, w)
				verdicts[i] = body["verdict"]
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, "AC", verdicts[i])
	}
	st := ctrl.Stats()
	assert.Equal(t, 0, st.Active)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, uint64(n), ctrl.JobStats().Completed)
}

func TestEndToEndClientDisconnectDoesNotCancelJob(t *testing.T) {
	r, ctrl := newStack(t, 1)

	payload, err := json.Marshal(shellSubmission("sleep 0.3; cat", 0, tc("x", "x", false)))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(payload)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, "k")

	time.AfterFunc(100*time.Millisecond, cancel)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AC", decode(t, w)["verdict"])
	assert.Equal(t, uint64(1), ctrl.JobStats().Completed)
}

func BenchmarkExecuteThroughput(b *testing.B) {
	r, _ := newStack(b, 8)
	body := shellSubmission("cat", 0, tc("ping", "ping", false))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if w := do(r, http.MethodPost, "/execute", body, authHeader); w.Code != http.StatusOK {
				b.Errorf("status %d: %s", w.Code, w.Body.String())
			}
		}
	})
}
