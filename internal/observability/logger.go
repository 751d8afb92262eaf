package observability

import (
	"io"
	"os"

	"github.com/danmuck/ghostline/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process logger tagged with app and installs it as the
// zerolog package logger. A nil w writes to stdout.
func InitLogger(app string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	cfg := logging.ConfigureRuntime()
	logger := logging.New(cfg, w).With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
