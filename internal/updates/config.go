package updates

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

const (
	DefaultResultsFile = "clientupdates.log"
	AppLogFile         = "app.log"
	HealthFile         = "health.yaml"
	IDFile             = "id.json"
)

// Dispatcher runs one handler immediately, bypassing the stored timeline.
type Dispatcher interface {
	RunCommand(ctx context.Context, h timeline.Handler) (string, error)
}

// TimelineStore is the local timeline document.
type TimelineStore interface {
	Load() (timeline.Timeline, error)
	Save(t timeline.Timeline) error
}

// Config configures a Client. An empty URL disables the loop or request
// that needs it.
type Config struct {
	PullURL     string
	PostURL     string
	TimelineURL string
	IDURL       string

	PullInterval time.Duration
	PushInterval time.Duration
	// Jitter is the fraction each sleep may deviate from its base interval.
	Jitter float64

	// Encrypt seals uploaded results under a key derived from Key, or from
	// the machine name when Key is empty.
	Encrypt  bool
	Key      string
	Compress bool

	LogDir      string
	ResultsFile string

	Name    string
	FQDN    string
	Version string

	// CAFile is a PEM bundle trusted alongside the system roots.
	CAFile             string
	InsecureSkipVerify bool
	HTTP               *http.Client
	Rand               *rand.Rand
	Logger             zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		PullInterval: 5 * time.Minute,
		PushInterval: 5 * time.Minute,
		Jitter:       0.25,
		ResultsFile:  DefaultResultsFile,
		Version:      "dev",
		Logger:       zerolog.Nop(),
	}
}
