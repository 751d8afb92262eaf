//go:build !windows

package procs

import (
	"errors"

	"golang.org/x/sys/unix"
)

func signalProcess(pid int32, stage Stage) error {
	sig := unix.SIGTERM
	if stage == StageForced {
		sig = unix.SIGKILL
	}
	err := unix.Kill(int(pid), sig)
	if errors.Is(err, unix.ESRCH) {
		return ErrProcessGone
	}
	return err
}

// LowerPriority moves the agent to background scheduling priority.
func LowerPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, 10)
}
