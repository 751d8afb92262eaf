package inbound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultStopFile, written next to the timeline document, stops the agent.
const DefaultStopFile = "stop.txt"

var ErrTimelinePathRequired = errors.New("inbound: timeline path is required")

type TimelineWatcherConfig struct {
	Path     string
	StopFile string
	// Settle is how long the document must stay quiet before a reload.
	Settle time.Duration
	Logger zerolog.Logger
}

// TimelineWatcher performs a full reload when the local timeline document
// changes and stops the agent when the stop file appears. It watches the
// parent directory so editors that replace the file by rename are seen.
type TimelineWatcher struct {
	cfg    TimelineWatcherConfig
	reload Reloader
	log    zerolog.Logger
}

func NewTimelineWatcher(cfg TimelineWatcherConfig, reload Reloader) *TimelineWatcher {
	if cfg.StopFile == "" {
		cfg.StopFile = DefaultStopFile
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultDebounce
	}
	return &TimelineWatcher{cfg: cfg, reload: reload, log: cfg.Logger}
}

// Run watches until ctx ends or the stop file is seen.
func (w *TimelineWatcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.cfg.Path) == "" {
		return ErrTimelinePathRequired
	}
	dir := filepath.Dir(w.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("timeline watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.log.Info().Str("path", w.cfg.Path).Str("stop_file", w.cfg.StopFile).Msg("inbound.timeline watching")

	timelineName := filepath.Base(w.cfg.Path)
	var settle *time.Timer
	var settled <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			switch filepath.Base(ev.Name) {
			case w.cfg.StopFile:
				w.log.Info().Str("path", ev.Name).Msg("inbound.timeline stop file seen")
				observability.RecordInbound("timeline", "stop")
				w.reload.Stop()
				return nil
			case timelineName:
				if settle == nil {
					settle = time.NewTimer(w.cfg.Settle)
				} else {
					if !settle.Stop() {
						select {
						case <-settle.C:
						default:
						}
					}
					settle.Reset(w.cfg.Settle)
				}
				settled = settle.C
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("inbound.timeline watcher error")
		case <-settled:
			settled = nil
			w.log.Info().Str("path", w.cfg.Path).Msg("inbound.timeline changed, reloading")
			if err := w.reload.Reload(ctx); err != nil {
				observability.RecordInbound("timeline", "reload_failed")
				w.log.Error().Err(err).Msg("inbound.timeline reload failed")
				continue
			}
			observability.RecordInbound("timeline", "reloaded")
		}
	}
}
