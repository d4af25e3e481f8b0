package language

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ChuLiYu/judge-engine/internal/verdict"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// Python runs solution.py directly.
type Python struct {
	Interpreter string
}

func (p *Python) Language() types.Language { return types.LangPython }

func (p *Python) Prepare(_ context.Context, dir, code string) (*Artifact, error) {
	if err := writeSource(dir, "solution.py", code); err != nil {
		return nil, err
	}
	return &Artifact{
		Language:  types.LangPython,
		Dir:       dir,
		Command:   []string{orDefault(p.Interpreter, "python3"), "solution.py"},
		Normalize: verdict.NormalizeBooleans,
	}, nil
}

// C compiles solution.c into a native executable.
type C struct {
	Compiler string
	Timeout  time.Duration
}

func (c *C) Language() types.Language { return types.LangC }

func (c *C) Prepare(ctx context.Context, dir, code string) (*Artifact, error) {
	if err := writeSource(dir, "solution.c", code); err != nil {
		return nil, err
	}
	err := compile(ctx, orTimeout(c.Timeout), dir, orDefault(c.Compiler, "gcc"),
		"-O2", "-std=gnu11", "-o", "solution", "solution.c", "-lm")
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Language:  types.LangC,
		Dir:       dir,
		Command:   []string{filepath.Join(dir, "solution")},
		Normalize: verdict.Normalize,
	}, nil
}

// DefaultJavaClass is used when the source declares no public class.
const DefaultJavaClass = "Solution"

var publicClass = regexp.MustCompile(`\bpublic\s+(?:final\s+|abstract\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// JavaClassName returns the first public class declared in src, or DefaultJavaClass.
func JavaClassName(src string) string {
	if m := publicClass.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return DefaultJavaClass
}

// Java compiles <PublicClass>.java with javac. The artifact is eligible for the warm pool.
type Java struct {
	Runtime  string
	Compiler string
	Timeout  time.Duration
}

func (j *Java) Language() types.Language { return types.LangJava }

func (j *Java) Prepare(ctx context.Context, dir, code string) (*Artifact, error) {
	class := JavaClassName(code)
	file := class + ".java"
	if err := writeSource(dir, file, code); err != nil {
		return nil, err
	}
	err := compile(ctx, orTimeout(j.Timeout), dir, orDefault(j.Compiler, "javac"), "-encoding", "UTF-8", file)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Language:  types.LangJava,
		Dir:       dir,
		Command:   []string{orDefault(j.Runtime, "java"), "-cp", dir, class},
		ClassName: class,
		Pooled:    true,
		Normalize: verdict.Normalize,
	}, nil
}

func writeSource(dir, name, code string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(code), 0o644); err != nil {
		return fmt.Errorf("failed to write source code: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCompileTimeout
	}
	return d
}
