//go:build !windows

package dbgsession

import (
	"os/exec"
	"syscall"
)

// processGroupAttr isolates the debugger child into its own process
// group so killProcessGroup can sweep the whole tree, mirroring the
// teacher's CC session manager.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
