// ============================================================================
// Language Strategy Dispatcher
// ============================================================================
//
// Package: internal/language
// File: dispatcher.go
// Purpose: Map a language tag to its compile step and run invocation
//
//   python  no compile        python3 solution.py
//   c       gcc (30s limit)   ./solution
//   java    javac (30s limit) java -cp <dir> <PublicClass>   (pool eligible)
//
// A failed compile returns *CompileError, which the orchestrator reports as CE
// without running any test. Any other error (missing toolchain, I/O) is a job
// level RE.
//
// ============================================================================

package language

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/verdict"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

var (
	// ErrUnsupportedLanguage is returned for languages without a registered strategy.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// DefaultCompileTimeout bounds every compiler invocation.
const DefaultCompileTimeout = 30 * time.Second

// CompileError carries compiler diagnostics of a failed build.
type CompileError struct {
	Output string
}

func (e *CompileError) Error() string {
	if e.Output == "" {
		return "compilation failed"
	}
	return e.Output
}

// Artifact describes how to run a prepared submission.
type Artifact struct {
	Language  types.Language
	Dir       string
	Command   []string // argv for one test run; Command[0] is resolved via PATH
	ClassName string   // java only
	Pooled    bool     // expensive-startup runtime, eligible for the warm pool
	Normalize verdict.Normalizer
}

// Strategy prepares one language: writes the source into dir and compiles it if needed.
type Strategy interface {
	Language() types.Language
	Prepare(ctx context.Context, dir, code string) (*Artifact, error)
}

// Toolchains holds compiler and interpreter paths.
type Toolchains struct {
	Python string
	GCC    string
	Java   string
	Javac  string
}

// Dispatcher selects the strategy for a submission's language.
type Dispatcher struct {
	mu         sync.RWMutex
	strategies map[types.Language]Strategy
}

// NewDispatcher returns a dispatcher with the python, c and java strategies registered.
func NewDispatcher(tc Toolchains, compileTimeout time.Duration) *Dispatcher {
	if compileTimeout <= 0 {
		compileTimeout = DefaultCompileTimeout
	}
	d := &Dispatcher{strategies: make(map[types.Language]Strategy)}
	d.Register(&Python{Interpreter: tc.Python})
	d.Register(&C{Compiler: tc.GCC, Timeout: compileTimeout})
	d.Register(&Java{Runtime: tc.Java, Compiler: tc.Javac, Timeout: compileTimeout})
	return d
}

// Register adds or replaces the strategy for s.Language().
func (d *Dispatcher) Register(s Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategies[s.Language()] = s
}

// Supports reports whether lang has a strategy.
func (d *Dispatcher) Supports(lang types.Language) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.strategies[lang]
	return ok
}

// Prepare writes code into dir and builds the run artifact for lang.
func (d *Dispatcher) Prepare(ctx context.Context, lang types.Language, dir, code string) (*Artifact, error) {
	d.mu.RLock()
	s, ok := d.strategies[lang]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	return s.Prepare(ctx, dir, code)
}

// compile runs a compiler in dir with a hard timeout. Non-zero exit becomes *CompileError.
func compile(ctx context.Context, timeout time.Duration, dir, name string, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return &CompileError{Output: "Compilation time limit exceeded"}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CompileError{Output: out.String()}
	}
	return fmt.Errorf("failed to run compiler %s: %w", name, err)
}
