package worker

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

//go:embed resources/JvmWorker.java
var jvmWorkerSource []byte

const jvmWorkerClass = "JvmWorker"

// Launcher builds the resident process for a pool slot.
type Launcher interface {
	// Prepare runs once before the first spawn, e.g. to compile the worker.
	Prepare(ctx context.Context) error
	// Command returns an unstarted command for slot id. The command must be
	// bound to ctx so cancelling it kills the process.
	Command(ctx context.Context, id int) *exec.Cmd
}

// JVMLauncher runs the embedded Java worker program.
type JVMLauncher struct {
	Java           string
	Javac          string
	Dir            string // where JvmWorker.java is written and compiled
	CompileTimeout time.Duration
}

// Prepare writes and compiles the worker source.
func (l *JVMLauncher) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("create worker dir: %w", err)
	}
	src := filepath.Join(l.Dir, jvmWorkerClass+".java")
	if err := os.WriteFile(src, jvmWorkerSource, 0o644); err != nil {
		return fmt.Errorf("write worker source: %w", err)
	}

	timeout := l.CompileTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.Javac, "-encoding", "UTF-8", "-d", l.Dir, src)
	cmd.Dir = l.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("compile worker: %w: %s", err, out)
	}
	return nil
}

// Command starts a JVM hosting the worker.
func (l *JVMLauncher) Command(ctx context.Context, id int) *exec.Cmd {
	cmd := exec.CommandContext(ctx, l.Java, "-Xshare:auto", "-cp", l.Dir, jvmWorkerClass)
	cmd.Dir = l.Dir
	return cmd
}
