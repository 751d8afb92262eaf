package updates

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/google/uuid"
)

// Push uploads the live results file and then any stray result logs left in
// the same directory.
func (c *Client) Push(ctx context.Context) error {
	live := c.ResultsPath()
	var errs []error
	if _, err := os.Stat(live); err == nil {
		if err := c.pushFile(ctx, live); err != nil {
			errs = append(errs, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	} else {
		c.log.Trace().Str("path", live).Msg("updates.Push nothing to send")
	}

	strays, err := c.strays(live)
	if err != nil {
		errs = append(errs, err)
	}
	for _, path := range strays {
		if ctx.Err() != nil {
			break
		}
		if err := c.pushFile(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// strays lists *.log files beside live, excluding live and the app log.
func (c *Client) strays(live string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(live), "*.log"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, path := range matches {
		if filepath.Base(path) == AppLogFile || filepath.Clean(path) == filepath.Clean(live) {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

// pushFile moves path aside under a unique name before reading so the
// appending writer starts a fresh file. The content is discarded only after
// the upload succeeds; on failure it is appended back to path.
func (c *Client) pushFile(ctx context.Context, path string) error {
	tmp := filepath.Join(filepath.Dir(path), uuid.NewString()+".log")
	if err := os.Rename(path, tmp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("move results %s: %w", path, err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		// tmp is itself a *.log and is retried as a stray next cycle.
		return fmt.Errorf("read results %s: %w", tmp, err)
	}
	if len(data) == 0 {
		return os.Remove(tmp)
	}

	body, headers, err := c.encodeResults(data)
	if err == nil {
		err = c.post(ctx, c.cfg.PostURL, body, headers)
	}
	if err != nil {
		c.log.Debug().Err(err).Str("path", path).Int("bytes", len(data)).Msg("updates.Push upload failed")
		if rerr := appendBack(path, data); rerr != nil {
			c.log.Warn().Err(rerr).Str("temp", tmp).Msg("updates.Push restore failed; keeping temp file")
			return errors.Join(err, rerr)
		}
		_ = os.Remove(tmp)
		return err
	}

	observability.RecordUploadBytes(len(data))
	if err := os.Remove(tmp); err != nil {
		c.log.Warn().Err(err).Str("temp", tmp).Msg("updates.Push remove temp failed")
	}
	c.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("updates.Push posted")
	return nil
}

// encodeResults wraps raw in the upload envelope, sealing and compressing it
// when configured.
func (c *Client) encodeResults(raw []byte) ([]byte, map[string]string, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	body, err := json.Marshal(logDump{Log: string(raw)})
	if err != nil {
		return nil, nil, err
	}
	if c.cfg.Encrypt {
		key, err := DeriveKey(c.secret())
		if err != nil {
			return nil, nil, err
		}
		sealed, err := Seal(key, body)
		if err != nil {
			return nil, nil, err
		}
		body, err = json.Marshal(encryptedPayload{Payload: base64.StdEncoding.EncodeToString(sealed)})
		if err != nil {
			return nil, nil, err
		}
	}
	if c.cfg.Compress {
		body, err = Compress(body)
		if err != nil {
			return nil, nil, err
		}
		headers["Content-Encoding"] = "zstd"
	}
	return body, headers, nil
}

func (c *Client) secret() string {
	if c.cfg.Key != "" {
		return c.cfg.Key
	}
	return c.ident.base.Name
}

func appendBack(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	return errors.Join(werr, f.Close())
}
