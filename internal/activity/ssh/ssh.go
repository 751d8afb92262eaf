// Package ssh drives remote shell activity over SSH. Each event arg is a
// target of the form "host|credential|cmd1;cmd2"; the "random" command runs
// one arg picked at random, any other command runs every arg in order.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

var ErrInvalidTarget = errors.New("ssh: invalid target")

// Config carries host-level defaults from the agent config.
type Config struct {
	KeyPath             string
	KnownHostsPath      string
	InsecureSkipHostKey bool
	Timeout             time.Duration
}

// Target is one parsed "host|credential|commands" spec.
type Target struct {
	Host    string
	CredKey string
	Lines   []string
}

// ParseTarget splits a command spec. Commands are separated by ';'.
func ParseTarget(raw string) (Target, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	t := Target{Host: strings.TrimSpace(parts[0]), CredKey: strings.TrimSpace(parts[1])}
	for _, line := range strings.Split(parts[2], ";") {
		if line = strings.TrimSpace(line); line != "" {
			t.Lines = append(t.Lines, line)
		}
	}
	if t.Host == "" || len(t.Lines) == 0 {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	return t, nil
}

// Conn is a connected remote shell.
type Conn interface {
	Run(ctx context.Context, line string) (string, error)
	Close() error
}

// Dialer opens connections; tests substitute it.
type Dialer interface {
	Dial(ctx context.Context, c Client) (Conn, error)
}

type netDialer struct{}

func (netDialer) Dial(ctx context.Context, c Client) (Conn, error) {
	return c.Connect(ctx)
}

type Runner struct {
	cfg     Config
	dialer  Dialer
	results *activity.ResultSink
	log     zerolog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	creds Credentials
}

func New(cfg Config, env activity.Env) *Runner {
	return NewWithDialer(cfg, env, netDialer{})
}

func NewWithDialer(cfg Config, env activity.Env, dialer Dialer) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Runner{
		cfg:     cfg,
		dialer:  dialer,
		results: env.Results,
		log:     env.Logger.With().Str("handler", timeline.KindSsh.String()).Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Runner) Run(ctx context.Context, h timeline.Handler) error {
	if path := h.ArgString("CredentialsFile", ""); path != "" {
		creds, err := LoadCredentials(path)
		if err != nil {
			r.log.Error().Err(err).Str("path", path).Msg("ssh.Run credentials unavailable")
		} else {
			r.creds = creds
		}
	}
	if raw := h.ArgString("CommandTimeout", ""); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			r.cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return activity.Drive(ctx, h, r.results, r.event)
}

func (r *Runner) event(ctx context.Context, ev timeline.Event) (string, error) {
	specs := ev.StringArgs()
	if len(specs) == 0 {
		return "", nil
	}
	if strings.EqualFold(ev.Command, "random") {
		r.mu.Lock()
		pick := specs[r.rng.Intn(len(specs))]
		r.mu.Unlock()
		specs = []string{pick}
	}
	results := make([]string, 0, len(specs))
	var errs []error
	for _, raw := range specs {
		target, err := ParseTarget(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := r.runTarget(ctx, target)
		if res != "" {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return strings.Join(results, "; "), errors.Join(errs...)
}

func (r *Runner) runTarget(ctx context.Context, t Target) (string, error) {
	client := r.client(t)
	conn, err := r.dialer.Dial(ctx, client)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", t.Host, err)
	}
	defer conn.Close()

	var errs []error
	ran := 0
	for _, line := range t.Lines {
		out, err := conn.Run(ctx, line)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			r.log.Debug().Err(err).Str("host", t.Host).Str("line", line).Msg("ssh.runTarget command failed")
			errs = append(errs, fmt.Errorf("%s: %w", line, err))
			continue
		}
		ran++
		r.log.Trace().Str("host", t.Host).Str("line", line).Int("bytes", len(out)).Msg("ssh.runTarget")
	}
	return fmt.Sprintf("%s ran=%d/%d", t.Host, ran, len(t.Lines)), errors.Join(errs...)
}

// client resolves the credential key. Unknown keys are used as the user name
// with the configured key file.
func (r *Runner) client(t Target) Client {
	c := Client{
		Host:                        t.Host,
		User:                        t.CredKey,
		KeyPath:                     r.cfg.KeyPath,
		KnownHostsPath:              r.cfg.KnownHostsPath,
		InsecureSkipHostKeyChecking: r.cfg.InsecureSkipHostKey,
		Timeout:                     r.cfg.Timeout,
	}
	if cred, ok := r.creds.Lookup(t.CredKey); ok {
		c.User = cred.Username
		c.Password = cred.Password
	}
	return c
}

func Spec(cfg Config) activity.Spec {
	return activity.Spec{
		Kind:          timeline.KindSsh,
		Description:   "runs remote shell commands over ssh",
		Factory:       func(env activity.Env) activity.Runner { return New(cfg, env) },
		InstanceLimit: 1,
	}
}
