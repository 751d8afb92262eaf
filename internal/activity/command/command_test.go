package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

type call struct {
	name string
	args []string
}

type fakeExec struct {
	calls  []call
	stdout string
	stderr string
	code   int32
	err    error
}

func (f *fakeExec) Run(_ context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	return []byte(f.stdout), []byte(f.stderr), f.code, f.err
}

func TestRunnerExecutesEachEvent(t *testing.T) {
	logger := testlog.Start(t)
	exec := &fakeExec{stdout: "hello\n"}
	var buf bytes.Buffer
	r := New(timeline.KindBash, activity.Env{Logger: logger, Exec: exec, Results: activity.NewResultSink(&buf)})

	h := timeline.Handler{
		Kind: timeline.KindBash,
		Events: []timeline.Event{
			{Command: "echo", Args: []any{"hello"}, TrackableID: "t1"},
			{Command: "  "},
			{Command: "ls", Args: []any{"-la", float64(2)}},
		},
	}
	if err := r.Run(context.Background(), h); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(exec.calls))
	}
	first := exec.calls[0]
	if first.name != "bash" || first.args[0] != "-c" || first.args[1] != "echo hello" {
		t.Fatalf("unexpected first call: %+v", first)
	}
	if exec.calls[1].args[1] != "ls -la 2" {
		t.Fatalf("unexpected second line: %q", exec.calls[1].args[1])
	}

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("result line: %v", err)
	}
	if rec["result"] != "hello" || rec["trackable_id"] != "t1" {
		t.Fatalf("unexpected result line: %v", rec)
	}
}

func TestRunnerRecordsFailure(t *testing.T) {
	logger := testlog.Start(t)
	exec := &fakeExec{stderr: "not found", code: 127, err: errors.New("exit status 127")}
	var buf bytes.Buffer
	r := New(timeline.KindCommand, activity.Env{Logger: logger, Exec: exec, Results: activity.NewResultSink(&buf)})

	h := timeline.Handler{Kind: timeline.KindCommand, Events: []timeline.Event{{Command: "nope"}}}
	if err := r.Run(context.Background(), h); err != nil {
		t.Fatalf("event failures must not fail the handler: %v", err)
	}
	if !strings.Contains(buf.String(), "exit 127: not found") {
		t.Fatalf("expected recorded failure, got %s", buf.String())
	}
}

func TestCommandLine(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		ev   timeline.Event
		want string
	}{
		{timeline.Event{Command: "whoami"}, "whoami"},
		{timeline.Event{Command: "ping", Args: []any{"-c", float64(1), "localhost"}}, "ping -c 1 localhost"},
		{timeline.Event{Args: []any{"echo hi"}}, "echo hi"},
		{timeline.Event{}, ""},
	}
	for _, tc := range cases {
		if got := CommandLine(tc.ev); got != tc.want {
			t.Fatalf("CommandLine(%+v) = %q, want %q", tc.ev, got, tc.want)
		}
	}
}

func TestSpecShape(t *testing.T) {
	testlog.Start(t)
	spec := Spec(timeline.KindPowerShell)
	if spec.Kind != timeline.KindPowerShell || spec.Factory == nil || spec.Probe == nil {
		t.Fatalf("incomplete spec: %+v", spec)
	}
	if err := activity.ValidateSpec(spec); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ShellFor(timeline.KindBash).Names[0] != "bash" {
		t.Fatalf("bash kind must use bash")
	}
}
