//go:build unix

package verifier

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the verifier in its own process group and kills the
// whole group when the context ends, so helpers started by a wrapper script
// do not outlive the timeout.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
