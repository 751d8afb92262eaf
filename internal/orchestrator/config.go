package orchestrator

import (
	"context"
	"time"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

// Supervisor is the slice of the process supervisor the orchestrator needs.
type Supervisor interface {
	CountByName(name string) int
	ListPidsByName(name string) []int32
	KillTree(pid int32)
	KillByActivityKind(kind timeline.ActivityKind)
}

// Gate blocks a worker until its handler's active window opens.
type Gate interface {
	Wait(ctx context.Context, h timeline.Handler) error
}

// MissingAppPolicy decides what Dispatch does when a kind's host
// application probe fails.
type MissingAppPolicy string

const (
	MissingAppSkip     MissingAppPolicy = "skip"
	MissingAppDispatch MissingAppPolicy = "dispatch"
)

type Config struct {
	Registry   *activity.Registry
	Supervisor Supervisor
	Gate       Gate
	Env        activity.Env

	MonitorInterval time.Duration
	// ShutdownGrace bounds how long Shutdown waits for cancelled workers
	// before the forced process kill.
	ShutdownGrace  time.Duration
	InstanceLimits map[timeline.ActivityKind]int
	MissingApp     MissingAppPolicy
	Logger         zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Registry:        activity.NewRegistry(),
		MonitorInterval: 30 * time.Second,
		ShutdownGrace:   2 * time.Second,
		InstanceLimits:  make(map[timeline.ActivityKind]int),
		MissingApp:      MissingAppSkip,
		Logger:          zerolog.Nop(),
	}
}
