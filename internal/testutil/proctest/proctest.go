//go:build !windows

// Package proctest helps tests that spawn shell process trees and need to
// confirm every member is gone afterwards.
package proctest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// StubbornScript returns a shell line that ignores SIGTERM, backgrounds a
// long sleep that inherits the ignored signal, records the sleep's pid in
// pidFile, and waits.
func StubbornScript(pidFile string) string {
	return fmt.Sprintf("trap '' TERM; sleep 30 & echo $! > '%s'; wait", pidFile)
}

// PidFile returns a fresh pid file path under t's temp dir.
func PidFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "child.pid")
}

// WaitPid polls path until it holds a pid.
func WaitPid(t testing.TB, path string) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no pid written to %s", path)
	return 0
}

// WaitGone fails t unless pid exits within timeout. A zombie counts as gone.
func WaitGone(t testing.TB, pid int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if Gone(pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = unix.Kill(pid, unix.SIGKILL)
	t.Fatalf("process %d survived cancellation", pid)
}

// Gone reports whether pid no longer runs.
func Gone(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return true
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}
