package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Identity is sent with every request so the server can attribute it.
type Identity struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	FQDN    string `json:"fqdn,omitempty"`
	Version string `json:"version,omitempty"`
}

// Apply sets the identity headers on req.
func (i Identity) Apply(req *http.Request) {
	if i.ID != "" {
		req.Header.Set("ghosts-id", i.ID)
	}
	req.Header.Set("ghosts-name", i.Name)
	req.Header.Set("ghosts-fqdn", i.FQDN)
	req.Header.Set("ghosts-version", i.Version)
	req.Header.Set("User-Agent", "ghostline/"+i.Version)
}

type identityCache struct {
	mu       sync.Mutex
	path     string
	url      string
	base     Identity
	failures int
	retryAt  time.Time
	now      func() time.Time
}

func newIdentityCache(cfg Config) *identityCache {
	name := cfg.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	fqdn := cfg.FQDN
	if fqdn == "" {
		fqdn = name
	}
	path := ""
	if cfg.LogDir != "" {
		path = filepath.Join(cfg.LogDir, IDFile)
	}
	return &identityCache{
		path: path,
		url:  cfg.IDURL,
		base: Identity{Name: name, FQDN: fqdn, Version: cfg.Version},
		now:  time.Now,
	}
}

// resolve returns the cached identity, loading the id from disk or fetching
// it from the server when unknown. A missing id is not an error; requests go
// out without the id header.
func (c *identityCache) resolve(ctx context.Context, client *http.Client) Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.base.ID != "" {
		return c.base
	}
	if id := c.readFile(); id != "" {
		c.base.ID = id
		return c.base
	}
	if c.url == "" || c.now().Before(c.retryAt) {
		return c.base
	}
	id, err := c.fetch(ctx, client)
	if err != nil || id == "" {
		c.failures++
		c.retryAt = c.now().Add(idBackoff.delay(c.failures, nil))
		return c.base
	}
	c.failures = 0
	c.base.ID = id
	_ = c.writeFile(id)
	return c.base
}

func (c *identityCache) fetch(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}
	c.base.Apply(req)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: id status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

func (c *identityCache) readFile() string {
	if c.path == "" {
		return ""
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return ""
	}
	var stored Identity
	if err := json.Unmarshal(data, &stored); err != nil {
		return ""
	}
	return strings.TrimSpace(stored.ID)
}

func (c *identityCache) writeFile(id string) error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	stored := c.base
	stored.ID = id
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(c.path, data)
}

// writeAtomic replaces path through a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return nil
}
