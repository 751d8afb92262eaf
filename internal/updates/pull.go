package updates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danmuck/ghostline/internal/timeline"
	"gopkg.in/yaml.v3"
)

// Pull requests one update and applies it. No update available is a normal
// no-op.
func (c *Client) Pull(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, c.cfg.PullURL, nil, nil)
	if err != nil {
		c.log.Debug().Err(err).Msg("updates.Pull server not responding")
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNoContent:
		c.log.Debug().Int("status", resp.StatusCode).Msg("updates.Pull no update")
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: GET %s status=%d", ErrUnexpectedStatus, c.cfg.PullURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read update: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.log.Debug().Msg("updates.Pull no update reason=empty_body")
		return nil
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		return err
	}
	return c.Apply(ctx, env)
}

// Apply dispatches one update by its declared type.
func (c *Client) Apply(ctx context.Context, env Envelope) error {
	c.log.Debug().Str("type", string(env.Type)).Msg("updates.Apply")
	switch env.Type {
	case TypeTimeline:
		return c.replaceTimeline(env.Payload())
	case TypeTimelinePartial:
		return c.runPartial(ctx, env.Payload())
	case TypeHealth:
		return c.writeHealth(env.Payload())
	case TypeRequestForTimeline:
		return c.PostTimeline(ctx, requestedTimelineID(env.Payload()))
	default:
		c.log.Info().Str("type", string(env.Type)).Msg("updates.Apply ignored reason=no_handler")
		return nil
	}
}

// replaceTimeline persists the document; the local timeline watcher performs
// the reload.
func (c *Client) replaceTimeline(payload []byte) error {
	if c.store == nil {
		return errors.New("updates: no timeline store")
	}
	tl, err := timeline.Decode(payload, timeline.FormatJSON)
	if err != nil {
		return err
	}
	tl.Canonicalize()
	if err := c.store.Save(tl); err != nil {
		return err
	}
	c.log.Info().Str("timeline", tl.ID).Int("handlers", len(tl.Handlers)).Msg("updates.Apply timeline replaced")
	return nil
}

func (c *Client) runPartial(ctx context.Context, payload []byte) error {
	if c.dispatch == nil {
		return errors.New("updates: no dispatcher")
	}
	tl, err := timeline.Decode(payload, timeline.FormatJSON)
	if err != nil {
		return err
	}
	var errs []error
	for _, h := range tl.Handlers {
		h.Canonicalize()
		c.log.Debug().Str("kind", h.Kind.String()).Msg("updates.Apply partial handler")
		if _, err := c.dispatch.RunCommand(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) writeHealth(payload []byte) error {
	var snapshot any
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("%w: health: %v", ErrMalformedEnvelope, err)
	}
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode health: %w", err)
	}
	if err := os.MkdirAll(c.cfg.LogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(c.cfg.LogDir, HealthFile)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write health %s: %w", path, err)
	}
	c.log.Info().Str("path", path).Msg("updates.Apply health replaced")
	return nil
}

func requestedTimelineID(payload []byte) string {
	var req timelineRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return ""
	}
	return req.TimelineID
}

// PostTimeline uploads the stored timeline. A non-empty id that does not
// match the stored timeline is skipped.
func (c *Client) PostTimeline(ctx context.Context, id string) error {
	if c.cfg.TimelineURL == "" {
		c.log.Warn().Msg("updates.PostTimeline skipped reason=no_url")
		return nil
	}
	if c.store == nil {
		return errors.New("updates: no timeline store")
	}
	tl, err := c.store.Load()
	if err != nil {
		return err
	}
	if id != "" && tl.ID != id {
		c.log.Info().Str("requested", id).Str("timeline", tl.ID).Msg("updates.PostTimeline skipped reason=id_mismatch")
		return nil
	}
	body, err := timeline.Encode(tl, timeline.FormatJSON)
	if err != nil {
		return err
	}
	if err := c.post(ctx, c.cfg.TimelineURL, body, map[string]string{"Content-Type": "application/json"}); err != nil {
		return err
	}
	c.log.Info().Str("timeline", tl.ID).Msg("updates.PostTimeline posted")
	return nil
}
