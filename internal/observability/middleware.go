package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests that hit no registered route, so stray
// paths cannot grow the metric label set.
const unmatchedRoute = "unmatched"

// StatusAccess logs and counts every request to the agent's status surface
// under agent. Health checks log at debug; rejected tokens log as denied.
func StatusAccess(agent string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("agent", agent).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		RecordHTTPRequest(agent, c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status == http.StatusUnauthorized:
			event = log.Warn().Bool("denied", true)
		case status >= http.StatusBadRequest:
			event = log.Warn()
		case route == "/health" || route == "/ready":
			event = log.Debug()
		default:
			event = log.Info()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("server.request")
	}
}
