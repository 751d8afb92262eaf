//go:build windows

package procs

import (
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/windows"
)

// Windows has no graceful signal for arbitrary processes; both stages end in
// TerminateProcess.
func signalProcess(pid int32, stage Stage) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ErrProcessGone
	}
	if stage == StageForced {
		return p.Kill()
	}
	return p.Terminate()
}

// LowerPriority moves the agent to background scheduling priority.
func LowerPriority() error {
	return windows.SetPriorityClass(windows.CurrentProcess(), windows.BELOW_NORMAL_PRIORITY_CLASS)
}
