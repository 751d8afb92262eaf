package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// CommandRunner abstracts command execution for activity runners.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host. Each command gets its own
// process group so cancellation reaches grandchildren too: the group gets
// SIGTERM on cancel and SIGKILL after Grace.
type ExecRunner struct {
	Dir   string
	Env   []string
	Grace time.Duration
}

// tools command-runner implementation backed by os/exec.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := r.command(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// Start launches a long-running process bound to ctx. The caller owns Wait.
func (r ExecRunner) Start(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	cmd := r.command(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (r ExecRunner) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}
	grace := r.Grace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	configureProcess(cmd)
	cmd.Cancel = func() error {
		return terminateProcess(cmd, grace)
	}
	cmd.WaitDelay = grace + time.Second
	return cmd
}
