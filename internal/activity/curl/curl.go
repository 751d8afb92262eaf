// Package curl fetches web resources the way the host curl activity does,
// using the agent's own HTTP client instead of an external binary.
package curl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

// ErrNoURL is recorded for events that name no http(s) target.
var ErrNoURL = errors.New("curl: no url in event")

const userAgent = "Mozilla/5.0 (compatible; ghostline)"

type Runner struct {
	client  *http.Client
	results *activity.ResultSink
	log     zerolog.Logger
}

func New(env activity.Env) *Runner {
	client := env.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Runner{
		client:  client,
		results: env.Results,
		log:     env.Logger.With().Str("handler", timeline.KindCurl.String()).Logger(),
	}
}

func (r *Runner) Run(ctx context.Context, h timeline.Handler) error {
	return activity.Drive(ctx, h, r.results, r.fetchAll)
}

func (r *Runner) fetchAll(ctx context.Context, ev timeline.Event) (string, error) {
	urls := URLs(ev)
	if len(urls) == 0 {
		return "", ErrNoURL
	}
	results := make([]string, 0, len(urls))
	var errs []error
	for _, u := range urls {
		res, err := r.fetch(ctx, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return strings.Join(results, "; "), errors.Join(errs...)
}

func (r *Runner) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	r.log.Debug().Str("url", url).Int("status", resp.StatusCode).Int64("bytes", n).Msg("curl.fetch")
	return fmt.Sprintf("GET %s status=%d bytes=%d", url, resp.StatusCode, n), nil
}

// URLs extracts every http(s) token from the event command and args, which
// may be written as full curl argument strings such as "-L https://x".
func URLs(ev timeline.Event) []string {
	out := make([]string, 0)
	scan := func(s string) {
		for _, field := range strings.Fields(s) {
			field = strings.Trim(field, `"'`)
			lower := strings.ToLower(field)
			if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
				out = append(out, field)
			}
		}
	}
	scan(ev.Command)
	for _, arg := range ev.StringArgs() {
		scan(arg)
	}
	return out
}

func Spec() activity.Spec {
	return activity.Spec{
		Kind:          timeline.KindCurl,
		Description:   "issues GET requests for each url in the event",
		Factory:       func(env activity.Env) activity.Runner { return New(env) },
		InstanceLimit: 1,
	}
}
