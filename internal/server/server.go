// Package server exposes the agent's local status surface over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/orchestrator"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var ErrAddrRequired = errors.New("server: listen address required")

// Status is the runtime view the routes report.
type Status interface {
	Jobs() []orchestrator.JobInfo
	TimelineID() string
	Running() bool
}

// TimelineSource yields the stored timeline document.
type TimelineSource interface {
	Load() (timeline.Timeline, error)
}

type Config struct {
	Addr        string
	AgentID     string
	CORSOrigins []string
	// Token, when set, guards every route except /health and /ready.
	Token   string
	Version string
	Logger  zerolog.Logger
}

// Server is the gin engine plus the sources it reads.
type Server struct {
	cfg      Config
	router   *gin.Engine
	status   Status
	timeline TimelineSource
	started  time.Time
	log      zerolog.Logger
}

func New(cfg Config, status Status, tl TimelineSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.StatusAccess(cfg.AgentID, cfg.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		router:   r,
		status:   status,
		timeline: tl,
		started:  time.Now(),
		log:      cfg.Logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Addr) == "" {
		return ErrAddrRequired
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("server.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("server.Serve shutdown")
		}
		<-errCh
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
