package inbound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Outcomes of handling one inbound file.
const (
	OutcomeDispatched   = "dispatched"
	OutcomeDuplicate    = "duplicate"
	OutcomeMissing      = "missing"
	OutcomeEmpty        = "empty"
	OutcomeMalformed    = "malformed"
	OutcomeUnrecognized = "unrecognized"
)

// DefaultSettle is how long a dropped file must keep its size and mtime
// before it is read.
const DefaultSettle = 250 * time.Millisecond

// settleRounds bounds the settle wait for a file that keeps growing.
const settleRounds = 40

// processedLayout prefixes moved files so the outbound folder sorts by time.
const processedLayout = "20060102T150405.000000000"

var ErrInboundDirRequired = errors.New("inbound: inbound and outbound directories are required")

type DirectoryConfig struct {
	InboundDir  string
	OutboundDir string
	Debounce    time.Duration
	Settle      time.Duration
	// PollInterval drives the fallback scan that catches files whose
	// notifications were lost, and the only scan when fsnotify fails.
	PollInterval time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Debounce:     DefaultDebounce,
		Settle:       DefaultSettle,
		PollInterval: 30 * time.Second,
		Now:          time.Now,
		Logger:       zerolog.Nop(),
	}
}

// DirectoryWatcher dispatches timeline documents (.json, .yaml, .yml) and
// legacy browser scripts (.cs) dropped into the inbound folder, then moves
// every file it saw to the outbound folder.
type DirectoryWatcher struct {
	cfg      DirectoryConfig
	dispatch Dispatcher
	debounce *Debouncer
	log      zerolog.Logger
}

func NewDirectoryWatcher(cfg DirectoryConfig, dispatch Dispatcher) *DirectoryWatcher {
	def := DefaultDirectoryConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Settle <= 0 {
		cfg.Settle = def.Settle
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &DirectoryWatcher{
		cfg:      cfg,
		dispatch: dispatch,
		debounce: NewDebouncer(cfg.Debounce, cfg.Now),
		log:      cfg.Logger,
	}
}

// Run watches the inbound folder until ctx ends.
func (w *DirectoryWatcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.cfg.InboundDir) == "" || strings.TrimSpace(w.cfg.OutboundDir) == "" {
		return ErrInboundDirRequired
	}
	for _, dir := range []string{w.cfg.InboundDir, w.cfg.OutboundDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	w.Scan(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("inbound.directory fsnotify unavailable, polling")
		return w.poll(ctx)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(w.cfg.InboundDir); err != nil {
		w.log.Warn().Err(err).Str("dir", w.cfg.InboundDir).Msg("inbound.directory watch failed, polling")
		return w.poll(ctx)
	}
	w.log.Info().Str("dir", w.cfg.InboundDir).Str("out", w.cfg.OutboundDir).Msg("inbound.directory watching")

	fallback := time.NewTicker(w.cfg.PollInterval)
	defer fallback.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.Handle(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("inbound.directory watcher error")
		case <-fallback.C:
			w.Scan(ctx)
		}
	}
}

func (w *DirectoryWatcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan handles every file currently in the inbound folder, oldest name first.
func (w *DirectoryWatcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.InboundDir)
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.cfg.InboundDir).Msg("inbound.directory scan failed")
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		w.Handle(ctx, filepath.Join(w.cfg.InboundDir, name))
	}
}

// Handle processes one notification for path and returns the outcome.
func (w *DirectoryWatcher) Handle(ctx context.Context, path string) string {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return OutcomeUnrecognized
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return OutcomeMissing
	}
	// A create notification can arrive before any content; the write that
	// follows brings the file back here.
	if info.Size() == 0 {
		return OutcomeEmpty
	}
	if !w.debounce.Allow(path) {
		w.log.Trace().Str("path", path).Msg("inbound.directory duplicate notification")
		observability.RecordInbound("directory", OutcomeDuplicate)
		return OutcomeDuplicate
	}

	if !w.settle(ctx, path, info) {
		return OutcomeMissing
	}

	outcome := w.process(ctx, path)
	observability.RecordInbound("directory", outcome)
	w.moveProcessed(path)
	return outcome
}

// settle waits until path keeps the same size and mtime across one Settle
// interval. It gives up on a file still growing after settleRounds and reads
// it as is. False means the file vanished or ctx ended.
func (w *DirectoryWatcher) settle(ctx context.Context, path string, info os.FileInfo) bool {
	timer := time.NewTimer(w.cfg.Settle)
	defer timer.Stop()
	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
		next, err := os.Stat(path)
		if err != nil {
			return false
		}
		if next.Size() == info.Size() && next.ModTime().Equal(info.ModTime()) {
			return true
		}
		if round >= settleRounds {
			w.log.Warn().Str("path", path).Int64("size", next.Size()).Msg("inbound.directory file still changing, reading anyway")
			return true
		}
		info = next
		timer.Reset(w.cfg.Settle)
	}
}

func (w *DirectoryWatcher) process(ctx context.Context, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("inbound.directory read failed")
		return OutcomeMissing
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		tl, err := timeline.Decode(data, timeline.FormatFromPath(path))
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("inbound.directory malformed timeline")
			return OutcomeMalformed
		}
		tl.Canonicalize()
		for _, h := range tl.Handlers {
			w.log.Debug().Str("path", path).Str("kind", h.Kind.String()).Msg("inbound.directory handler found")
			if _, err := w.dispatch.RunCommand(ctx, h); err != nil {
				w.log.Warn().Err(err).Str("kind", h.Kind.String()).Msg("inbound.directory dispatch failed")
			}
		}
		return OutcomeDispatched
	case ".cs":
		h := timeline.TranslateScript(string(data))
		h.Canonicalize()
		if _, err := w.dispatch.RunCommand(ctx, h); err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("inbound.directory script dispatch failed")
		}
		return OutcomeDispatched
	default:
		w.log.Debug().Str("path", path).Msg("inbound.directory unrecognized file")
		return OutcomeUnrecognized
	}
}

func (w *DirectoryWatcher) moveProcessed(path string) {
	dest := filepath.Join(w.cfg.OutboundDir, ProcessedName(w.cfg.Now(), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn().Err(err).Str("path", path).Str("dest", dest).Msg("inbound.directory move failed")
		return
	}
	w.log.Debug().Str("path", path).Str("dest", dest).Msg("inbound.directory moved")
}

// ProcessedName is the outbound file name for name handled at t.
func ProcessedName(t time.Time, name string) string {
	return t.UTC().Format(processedLayout) + "-" + name
}
