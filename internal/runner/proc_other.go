//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

func isolate(cmd *exec.Cmd) {}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killedBySignal(state *os.ProcessState) bool { return false }
