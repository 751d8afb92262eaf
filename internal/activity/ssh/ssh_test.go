package ssh

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

type fakeConn struct {
	d      *fakeDialer
	client Client
}

func (c *fakeConn) Run(_ context.Context, line string) (string, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.lines = append(c.d.lines, c.client.Host+":"+line)
	if line == "fail" {
		return "", errors.New("exit 1")
	}
	return "ok", nil
}

func (c *fakeConn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.closed++
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	clients []Client
	lines   []string
	closed  int
}

func (d *fakeDialer) Dial(_ context.Context, c Client) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.Host == "unreachable" {
		return nil, errors.New("connection refused")
	}
	d.clients = append(d.clients, c)
	return &fakeConn{d: d, client: c}, nil
}

func TestParseTarget(t *testing.T) {
	testlog.Start(t)
	got, err := ParseTarget("10.0.0.5|admin| ls -la ; whoami;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Host != "10.0.0.5" || got.CredKey != "admin" || len(got.Lines) != 2 || got.Lines[1] != "whoami" {
		t.Fatalf("unexpected target: %+v", got)
	}
	for _, bad := range []string{"host|cred", "|cred|ls", "host|cred| ; "} {
		if _, err := ParseTarget(bad); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("expected ErrInvalidTarget for %q, got %v", bad, err)
		}
	}
}

func TestRunnerUsesCredentialsFile(t *testing.T) {
	logger := testlog.Start(t)
	dir := t.TempDir()
	credPath := filepath.Join(dir, "creds.json")
	body := `{
		// lab logins
		"version": "1.0",
		"data": {"admin": {"username": "root", "password": "secret"}}
	}`
	if err := os.WriteFile(credPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}

	d := &fakeDialer{}
	var buf bytes.Buffer
	r := NewWithDialer(Config{InsecureSkipHostKey: true}, activity.Env{Logger: logger, Results: activity.NewResultSink(&buf)}, d)
	h := timeline.Handler{
		Kind: timeline.KindSsh,
		Args: map[string]any{"CredentialsFile": credPath},
		Events: []timeline.Event{
			{Command: "run", Args: []any{"hostA|admin|ls;fail;pwd", "hostB|ops|uptime", "unreachable|admin|ls"}},
		},
	}
	if err := r.Run(context.Background(), h); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(d.clients) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(d.clients))
	}
	if d.clients[0].User != "root" || d.clients[0].Password != "secret" {
		t.Fatalf("credential not applied: %+v", d.clients[0])
	}
	if d.clients[1].User != "ops" || d.clients[1].Password != "" {
		t.Fatalf("unknown key must become the user: %+v", d.clients[1])
	}
	want := []string{"hostA:ls", "hostA:fail", "hostA:pwd", "hostB:uptime"}
	if strings.Join(d.lines, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected lines: %v", d.lines)
	}
	if d.closed != 2 {
		t.Fatalf("expected both connections closed, got %d", d.closed)
	}
	out := buf.String()
	if !strings.Contains(out, "hostA ran=2/3") || !strings.Contains(out, "connection refused") {
		t.Fatalf("unexpected results: %s", out)
	}
}

func TestRunnerRandomPicksOneTarget(t *testing.T) {
	logger := testlog.Start(t)
	d := &fakeDialer{}
	r := NewWithDialer(Config{}, activity.Env{Logger: logger}, d)
	h := timeline.Handler{
		Kind:   timeline.KindSsh,
		Events: []timeline.Event{{Command: "random", Args: []any{"a|u|ls", "b|u|ls", "c|u|ls"}}},
	}
	if err := r.Run(context.Background(), h); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(d.clients) != 1 {
		t.Fatalf("random must run exactly one target, ran %d", len(d.clients))
	}
}

func TestClientValidation(t *testing.T) {
	testlog.Start(t)
	c := Client{}
	if _, err := c.address(); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("expected host validation error, got %v", err)
	}

	c.Host = "node-a"
	addr, err := c.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q", addr)
	}

	if _, err := c.clientConfig(); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected missing user error, got %v", err)
	}
	c.User = "root"
	if _, err := c.clientConfig(); !errors.Is(err, ErrNoAuth) {
		t.Fatalf("expected missing auth error, got %v", err)
	}
	c.Password = "pw"
	c.InsecureSkipHostKeyChecking = true
	cfg, err := c.clientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if cfg.User != "root" || len(cfg.Auth) != 1 {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
}
