package worker

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply kinds sent by a worker, one per test.
const (
	ReplyOK  = "OK"
	ReplyTLE = "TLE"
	ReplyRE  = "RE"
)

// Control lines.
const (
	lineReady = "READY"
	lineDone  = "DONE"
	lineFatal = "FATAL"
	lineExec  = "EXEC"
	lineExit  = "EXIT"
)

// Reply is one per-test result line. Output is filled from the workspace
// output file for OK replies.
type Reply struct {
	Kind    string
	TimeMs  int64
	Message string
	Output  string
}

// EncodeExec renders the command for one batch.
func EncodeExec(dir, className string, tests int, limitMs int64) string {
	return fmt.Sprintf("%s\n%s\n%s\n%d\n%d\n", lineExec, dir, className, tests, limitMs)
}

// ParseReply decodes one per-test line. FATAL lines yield ErrWorkerFatal and
// anything unrecognised yields ErrProtocol.
func ParseReply(line string) (Reply, error) {
	line = strings.TrimSpace(line)
	kind, rest, _ := strings.Cut(line, " ")

	switch kind {
	case lineFatal:
		return Reply{}, fmt.Errorf("%w: %s", ErrWorkerFatal, rest)
	case ReplyOK, ReplyTLE, ReplyRE:
	default:
		return Reply{}, fmt.Errorf("%w: unexpected line %q", ErrProtocol, line)
	}

	timeField, msg, _ := strings.Cut(rest, " ")
	ms, err := strconv.ParseInt(timeField, 10, 64)
	if err != nil || ms < 0 {
		return Reply{}, fmt.Errorf("%w: bad time in %q", ErrProtocol, line)
	}

	r := Reply{Kind: kind, TimeMs: ms}
	if kind == ReplyRE {
		r.Message = strings.TrimSpace(msg)
		if r.Message == "" {
			r.Message = "Runtime Error"
		}
	}
	return r, nil
}
