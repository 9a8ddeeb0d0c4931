//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// killProcessGroup only reaches the direct child; Windows has no process
// groups comparable to POSIX ones without job objects.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func exitStatus(ps *os.ProcessState) int {
	return ps.ExitCode()
}
