package updates

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/rs/zerolog"
)

var ErrUnexpectedStatus = errors.New("updates: unexpected response status")

// maxBody bounds a pulled update.
const maxBody = 32 << 20

// Client runs the pull and push loops against the control server.
type Client struct {
	cfg      Config
	http     *http.Client
	store    TimelineStore
	dispatch Dispatcher
	ident    *identityCache
	randMu   sync.Mutex
	rng      *rand.Rand
	log      zerolog.Logger
}

func New(cfg Config, store TimelineStore, dispatch Dispatcher) *Client {
	def := DefaultConfig()
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = def.PullInterval
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = def.PushInterval
	}
	if cfg.ResultsFile == "" {
		cfg.ResultsFile = def.ResultsFile
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	client := cfg.HTTP
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		tlsCfg, err := clientTLS(cfg)
		if err != nil {
			cfg.Logger.Warn().Err(err).Str("ca_file", cfg.CAFile).Msg("updates.New custom ca ignored")
		}
		transport.TLSClientConfig = tlsCfg
		client = &http.Client{Timeout: 2 * time.Minute, Transport: transport}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Client{
		cfg:      cfg,
		http:     client,
		store:    store,
		dispatch: dispatch,
		ident:    newIdentityCache(cfg),
		rng:      rng,
		log:      cfg.Logger,
	}
}

// clientTLS trusts CAFile in addition to the system roots. On error the
// returned config still honours InsecureSkipVerify.
func clientTLS(cfg Config) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CAFile == "" {
		return out, nil
	}
	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return out, err
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return out, fmt.Errorf("updates: no certificates in %s", cfg.CAFile)
	}
	out.RootCAs = pool
	return out, nil
}

// ResultsPath is the live results file the push loop drains.
func (c *Client) ResultsPath() string {
	if filepath.IsAbs(c.cfg.ResultsFile) || c.cfg.LogDir == "" {
		return c.cfg.ResultsFile
	}
	return filepath.Join(c.cfg.LogDir, c.cfg.ResultsFile)
}

// Identity resolves the identity sent with requests.
func (c *Client) Identity(ctx context.Context) Identity {
	return c.ident.resolve(ctx, c.http)
}

// Run starts the enabled loops and blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if c.cfg.PullURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, "pull", c.cfg.PullInterval, false, c.Pull)
		}()
	} else {
		c.log.Info().Msg("updates.Run pull disabled reason=no_url")
	}
	if c.cfg.PostURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, "push", c.cfg.PushInterval, true, c.Push)
		}()
	} else {
		c.log.Info().Msg("updates.Run push disabled reason=no_url")
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *Client) loop(ctx context.Context, name string, base time.Duration, delayFirst bool, cycle func(context.Context) error) {
	c.log.Info().Str("loop", name).Dur("interval", base).Msg("updates.loop start")
	defer c.log.Info().Str("loop", name).Msg("updates.loop stop")

	wait := time.Duration(0)
	if delayFirst {
		wait = c.jitter(base)
	}
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		outcome := "ok"
		if err := cycle(ctx); err != nil {
			outcome = "error"
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Str("loop", name).Msg("updates.loop cycle failed")
			}
		}
		observability.RecordUpdateCycle(name, outcome)
		wait = c.jitter(base)
	}
}

func (c *Client) jitter(base time.Duration) time.Duration {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return Jitter(base, c.cfg.Jitter, c.rng)
}

// send issues one request with identity headers and returns the response
// with its body still open.
func (c *Client) send(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.Identity(ctx).Apply(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.http.Do(req)
}

// post sends body and treats any non-2xx status as failure.
func (c *Client) post(ctx context.Context, url string, body []byte, headers map[string]string) error {
	resp, err := c.send(ctx, http.MethodPost, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: POST %s status=%d", ErrUnexpectedStatus, url, resp.StatusCode)
	}
	return nil
}
