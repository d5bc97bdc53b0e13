//go:build unix && !linux

package agents

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the child in its own process group so interrupts reach
// the whole tree. Pdeathsig is Linux-only; on these platforms orphan cleanup
// relies on explicit kills.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup sends SIGTERM to the child's process group.
func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the child's process group.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
