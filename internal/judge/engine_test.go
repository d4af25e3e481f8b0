package judge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/language"
	"github.com/ChuLiYu/judge-engine/internal/runner"
	"github.com/ChuLiYu/judge-engine/internal/verdict"
	"github.com/ChuLiYu/judge-engine/internal/worker"
	"github.com/ChuLiYu/judge-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const langShell types.Language = "sh"

// shellStrategy runs the submitted code with sh -c; pooled marks it as an
// expensive-startup runtime so the pool path is taken.
type shellStrategy struct {
	pooled bool
	panics bool
}

func (s *shellStrategy) Language() types.Language { return langShell }

func (s *shellStrategy) Prepare(_ context.Context, dir, code string) (*language.Artifact, error) {
	if s.panics {
		panic("strategy exploded")
	}
	if code == "syntax error" {
		return nil, &language.CompileError{Output: "solution.sh:1: syntax error"}
	}
	return &language.Artifact{
		Language:  langShell,
		Dir:       dir,
		Command:   []string{"sh", "-c", code},
		ClassName: "Main",
		Pooled:    s.pooled,
		Normalize: verdict.Normalize,
	}, nil
}

type fakePool struct {
	enabled bool
	replies []worker.Reply
	err     error
	calls   atomic.Int32
}

func (p *fakePool) Enabled() bool { return p.enabled }

func (p *fakePool) Run(ctx context.Context, b worker.Batch) ([]worker.Reply, error) {
	p.calls.Add(1)
	return p.replies, p.err
}

type fixedOverhead time.Duration

func (o fixedOverhead) Overhead(context.Context) time.Duration { return time.Duration(o) }

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newEngine(t *testing.T, strategy language.Strategy, pool Pool) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	d := language.NewDispatcher(language.Toolchains{}, 0)
	if strategy != nil {
		d.Register(strategy)
	}
	deps := Deps{Dispatcher: d, Runner: runner.New(runner.Config{}, nil)}
	if pool != nil {
		deps.Pool = pool
	}
	return NewEngine(Config{TempDir: root}, deps), root
}

func assertWorkspaceGone(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be removed")
}

func shellSub(code string, limitMs int64, tests ...types.TestCase) types.Submission {
	return types.Submission{ID: "sub-1", Code: code, Language: langShell, TestCases: tests, TimeLimitMs: limitMs}
}

// ============================================================================
// Per-process path
// ============================================================================

func TestJudgeAllAccepted(t *testing.T) {
	requireShell(t)
	e, root := newEngine(t, &shellStrategy{}, nil)

	res, err := e.Judge(context.Background(), shellSub("read a b; echo $((a+b))", 2000,
		types.TestCase{Input: "1 2", ExpectedOutput: "3"},
		types.TestCase{Input: "5 5", ExpectedOutput: "10\n"},
	))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, 2, res.PassedTestCases)
	assert.Equal(t, 2, res.TotalTestCases)
	assertWorkspaceGone(t, root)
}

func TestJudgeFailFast(t *testing.T) {
	requireShell(t)
	e, root := newEngine(t, &shellStrategy{}, nil)

	res, err := e.Judge(context.Background(), shellSub("read a; echo $a", 2000,
		types.TestCase{Input: "1", ExpectedOutput: "1"},
		types.TestCase{Input: "2", ExpectedOutput: "3", Hidden: true},
		types.TestCase{Input: "3", ExpectedOutput: "3"},
	))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictWA, res.Verdict)
	require.Len(t, res.Results, 2, "tests after the first failure are skipped")
	assert.Equal(t, types.HiddenPlaceholder, *res.Results[1].Expected)
	assert.Equal(t, 1, res.PassedTestCases)
	assert.Equal(t, 3, res.TotalTestCases)
	assertWorkspaceGone(t, root)
}

func TestJudgeTimeLimit(t *testing.T) {
	requireShell(t)
	e, root := newEngine(t, &shellStrategy{}, nil)

	res, err := e.Judge(context.Background(), shellSub("sleep 5", 1000, types.TestCase{}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictTLE, res.Verdict)
	assert.Equal(t, int64(1000), res.Results[0].Time)
	assertWorkspaceGone(t, root)
}

func TestJudgeCompileError(t *testing.T) {
	e, root := newEngine(t, &shellStrategy{}, nil)

	res, err := e.Judge(context.Background(), shellSub("syntax error", 2000, types.TestCase{}, types.TestCase{}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictCE, res.Verdict)
	assert.Empty(t, res.Results)
	assert.Equal(t, 2, res.TotalTestCases)
	assert.Contains(t, res.Error, "syntax error")
	assertWorkspaceGone(t, root)
}

func TestJudgeUnsupportedLanguageIsError(t *testing.T) {
	e, root := newEngine(t, nil, nil)

	_, err := e.Judge(context.Background(), shellSub("echo", 2000, types.TestCase{}))
	assert.ErrorIs(t, err, language.ErrUnsupportedLanguage)
	assertWorkspaceGone(t, root)
}

func TestJudgeRecoversPanic(t *testing.T) {
	e, root := newEngine(t, &shellStrategy{panics: true}, nil)

	_, err := e.Judge(context.Background(), shellSub("echo", 2000, types.TestCase{}))
	assert.ErrorIs(t, err, ErrPanic)
	assertWorkspaceGone(t, root)
}

func TestJudgeDefaultTimeLimit(t *testing.T) {
	requireShell(t)
	e, _ := newEngine(t, &shellStrategy{}, nil)
	e.cfg.DefaultTimeLimit = 300 * time.Millisecond

	res, err := e.Judge(context.Background(), shellSub("sleep 2", 0, types.TestCase{}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictTLE, res.Verdict)
	assert.Equal(t, int64(300), res.Results[0].Time)
}

// ============================================================================
// Pool path
// ============================================================================

func TestJudgePooledUsesReplies(t *testing.T) {
	pool := &fakePool{enabled: true, replies: []worker.Reply{
		{Kind: worker.ReplyOK, TimeMs: 4, Output: "6\n"},
		{Kind: worker.ReplyRE, TimeMs: 2, Message: "java.lang.ArithmeticException: / by zero"},
	}}
	e, root := newEngine(t, &shellStrategy{pooled: true}, pool)

	res, err := e.Judge(context.Background(), shellSub("unused", 2000,
		types.TestCase{Input: "1 2 3", ExpectedOutput: "6"},
		types.TestCase{Input: "0", ExpectedOutput: "x"},
	))
	require.NoError(t, err)
	assert.Equal(t, int32(1), pool.calls.Load())
	assert.Equal(t, types.VerdictRE, res.Verdict)
	require.Len(t, res.Results, 2)
	assert.Equal(t, types.VerdictAC, res.Results[0].Verdict)
	assert.Equal(t, int64(4), res.Results[0].Time)
	assert.Contains(t, res.Results[1].Error, "by zero")
	assertWorkspaceGone(t, root)
}

func TestJudgePooledTLEReportsLimit(t *testing.T) {
	pool := &fakePool{enabled: true, replies: []worker.Reply{
		{Kind: worker.ReplyTLE, TimeMs: 1213},
		{Kind: worker.ReplyTLE, TimeMs: 1000},
	}}
	e, _ := newEngine(t, &shellStrategy{pooled: true}, pool)

	res, err := e.Judge(context.Background(), shellSub("unused", 1000, types.TestCase{}, types.TestCase{}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictTLE, res.Verdict)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(1000), res.Results[0].Time)
	assert.Equal(t, types.TLEMessage, res.Results[0].Message)
}

func TestJudgePooledSlowOKIsTLE(t *testing.T) {
	pool := &fakePool{enabled: true, replies: []worker.Reply{{Kind: worker.ReplyOK, TimeMs: 1150, Output: "1"}}}
	e, _ := newEngine(t, &shellStrategy{pooled: true}, pool)

	res, err := e.Judge(context.Background(), shellSub("unused", 1000, types.TestCase{ExpectedOutput: "1"}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictTLE, res.Verdict)
	assert.Equal(t, int64(1150), res.Results[0].Time)
}

// A worker killed mid-job makes the pool fail the batch; the job still gets a
// well-formed result from per-process execution.
func TestJudgePoolFailureFallsBack(t *testing.T) {
	requireShell(t)
	pool := &fakePool{enabled: true, err: worker.ErrWorkerDead}
	e, root := newEngine(t, &shellStrategy{pooled: true}, pool)
	e.probe = fixedOverhead(0)

	res, err := e.Judge(context.Background(), shellSub("read a; echo $a", 2000,
		types.TestCase{Input: "7", ExpectedOutput: "7"},
	))
	require.NoError(t, err)
	assert.Equal(t, int32(1), pool.calls.Load())
	assert.Equal(t, types.VerdictAC, res.Verdict)
	assert.Len(t, res.Results, 1)
	assertWorkspaceGone(t, root)
}

func TestJudgeReplyCountMismatchFallsBack(t *testing.T) {
	requireShell(t)
	pool := &fakePool{enabled: true, replies: []worker.Reply{}}
	e, _ := newEngine(t, &shellStrategy{pooled: true}, pool)

	res, err := e.Judge(context.Background(), shellSub("echo ok", 2000, types.TestCase{ExpectedOutput: "ok"}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
}

func TestJudgeDisabledPoolSkipped(t *testing.T) {
	requireShell(t)
	pool := &fakePool{enabled: false, err: errors.New("must not be called")}
	e, _ := newEngine(t, &shellStrategy{pooled: true}, pool)

	res, err := e.Judge(context.Background(), shellSub("echo ok", 2000, types.TestCase{ExpectedOutput: "ok"}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
	assert.Zero(t, pool.calls.Load())
}

func TestJudgeFallbackCompensatesStartup(t *testing.T) {
	requireShell(t)
	pool := &fakePool{enabled: true, err: worker.ErrResponseTimeout}
	e, _ := newEngine(t, &shellStrategy{pooled: true}, pool)
	e.probe = fixedOverhead(500 * time.Millisecond)

	// 500ms of simulated VM startup against a 200ms budget.
	res, err := e.Judge(context.Background(), shellSub("sleep 0.5; echo ok", 200, types.TestCase{ExpectedOutput: "ok"}))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
}

// ============================================================================
// Real toolchains
// ============================================================================

func realEngine(t *testing.T) *Engine {
	t.Helper()
	d := language.NewDispatcher(language.Toolchains{Python: "python3", GCC: "gcc", Java: "java", Javac: "javac"}, 0)
	return NewEngine(Config{TempDir: t.TempDir()}, Deps{Dispatcher: d, Runner: runner.New(runner.Config{}, nil)})
}

func TestScenarioPythonSum(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	res, err := realEngine(t).Judge(context.Background(), types.Submission{
		Code:        "input()\nprint(sum(map(int, input().split())))",
		Language:    types.LangPython,
		TestCases:   []types.TestCase{{Input: "3\n1 2 3", ExpectedOutput: "6"}},
		TimeLimitMs: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
	require.Len(t, res.Results, 1)
	assert.Equal(t, types.VerdictAC, res.Results[0].Verdict)
}

func TestScenarioPythonBooleans(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	res, err := realEngine(t).Judge(context.Background(), types.Submission{
		Code:        "print(1 < 2)",
		Language:    types.LangPython,
		TestCases:   []types.TestCase{{ExpectedOutput: "true"}},
		TimeLimitMs: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
}

func TestScenarioCRuntimeError(t *testing.T) {
	if _, err := exec.LookPath("gcc"); err != nil {
		t.Skip("gcc not available")
	}
	res, err := realEngine(t).Judge(context.Background(), types.Submission{
		Code:        "int main(void) { return 4; }",
		Language:    types.LangC,
		TestCases:   []types.TestCase{{ExpectedOutput: ""}},
		TimeLimitMs: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictRE, res.Verdict)
	assert.Equal(t, "Process exited with code 4", res.Results[0].Error)
}

func TestScenarioJavaMainClass(t *testing.T) {
	if _, err := exec.LookPath("javac"); err != nil {
		t.Skip("javac not available")
	}
	res, err := realEngine(t).Judge(context.Background(), types.Submission{
		Code:        `public class Main { public static void main(String[] a) { System.out.println("hi"); } }`,
		Language:    types.LangJava,
		TestCases:   []types.TestCase{{ExpectedOutput: "hi"}},
		TimeLimitMs: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAC, res.Verdict)
}
