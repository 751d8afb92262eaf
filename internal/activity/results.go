package activity

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

// ResultSink appends one JSON line per executed event to the results file.
// The file is reopened for every write so a concurrent rename by the upload
// loop moves whole lines only and the next write starts a fresh file.
type ResultSink struct {
	log zerolog.Logger
}

// NewResultSink writes result lines to w.
func NewResultSink(w io.Writer) *ResultSink {
	if w == nil {
		w = io.Discard
	}
	return &ResultSink{log: zerolog.New(w).With().Timestamp().Logger().Level(zerolog.TraceLevel)}
}

// OpenResultSink appends result lines to path.
func OpenResultSink(path string) *ResultSink {
	if path == "" {
		return NewResultSink(nil)
	}
	return NewResultSink(&appendFile{path: path})
}

// Record appends one result line. Result lines carry no level.
func (s *ResultSink) Record(kind timeline.ActivityKind, ev timeline.Event, result string, err error) {
	if s == nil {
		return
	}
	event := s.log.Log().
		Str("type", "TIMELINE").
		Str("handler", kind.String()).
		Str("command", ev.Command).
		Strs("args", ev.StringArgs()).
		Str("trackable_id", ev.TrackableID)
	if result != "" {
		event = event.Str("result", result)
	}
	if err != nil {
		event = event.Str("error", err.Error())
	}
	event.Msg("")
}

type appendFile struct {
	mu   sync.Mutex
	path string
}

func (f *appendFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return 0, err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, werr := file.Write(p)
	cerr := file.Close()
	if werr != nil {
		return n, werr
	}
	return n, cerr
}
