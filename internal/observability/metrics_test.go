package observability

import (
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	logger := testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("ghost.local", "GET", "/health", 200, 12*time.Millisecond)
	RecordDispatch("Command", "started")
	RecordWorkerPanic("Command")
	RecordMonitorAction("BrowserFirefox", "trim", 2)
	SetActiveJobs(3)
	RecordProcessKill("graceful", true)
	RecordInbound("socket", "ok")
	RecordUpdateCycle("pull", "noop")
	RecordUploadBytes(128)

	logger.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}
