package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func accessRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(StatusAccess("ghost-7", zerolog.New(buf).Level(zerolog.DebugLevel)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/jobs", func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) })
	return r
}

func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestStatusAccessTagsAgentAndLevels(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := accessRouter(&buf)
	for _, path := range []string{"/health", "/jobs", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := accessLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected one line per request, got %d", len(lines))
	}
	for _, line := range lines {
		if line["agent"] != "ghost-7" || line["message"] != "server.request" {
			t.Fatalf("unexpected access line: %v", line)
		}
	}
	if lines[0]["level"] != "debug" || lines[0]["route"] != "/health" {
		t.Fatalf("health checks log at debug: %v", lines[0])
	}
	if lines[1]["level"] != "warn" || lines[1]["denied"] != true {
		t.Fatalf("rejected token must log as denied: %v", lines[1])
	}
	if lines[2]["route"] != unmatchedRoute || lines[2]["path"] != "/missing" {
		t.Fatalf("unmatched request must keep its path but not its route: %v", lines[2])
	}
}
