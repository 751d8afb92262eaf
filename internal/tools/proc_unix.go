//go:build !windows

package tools

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGTERM to the command's process group and SIGKILL
// to the same group once grace elapses. Setpgid makes the leader pid the
// group id, so the group stays addressable after the leader exits.
func terminateProcess(cmd *exec.Cmd, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	err := unix.Kill(-pgid, unix.SIGTERM)
	time.AfterFunc(grace, func() {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	})
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
