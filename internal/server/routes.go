package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/auth"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "ghostline",
			"version": s.cfg.Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		running := s.status != nil && s.status.Running()
		code := http.StatusOK
		if !running {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":    running,
			"timeline": s.timelineID(),
		})
	})

	guarded := s.router.Group("/")
	if token := strings.TrimSpace(s.cfg.Token); token != "" {
		guarded.Use(auth.Require(auth.StaticToken{Token: token}))
	}

	guarded.GET("/jobs", func(c *gin.Context) {
		if s.status == nil {
			c.JSON(http.StatusOK, gin.H{"jobs": []any{}})
			return
		}
		jobs := s.status.Jobs()
		c.JSON(http.StatusOK, gin.H{
			"timeline": s.timelineID(),
			"count":    len(jobs),
			"jobs":     jobs,
		})
	})

	guarded.GET("/timeline", func(c *gin.Context) {
		if s.timeline == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": timeline.ErrNoTimeline.Error()})
			return
		}
		tl, err := s.timeline.Load()
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, timeline.ErrNoTimeline) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tl)
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) timelineID() string {
	if s.status == nil {
		return ""
	}
	return s.status.TimelineID()
}
