package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"agent", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ghostline",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent", "method", "route", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "orchestrator",
			Name:      "dispatches_total",
			Help:      "Handler dispatch attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	workerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "orchestrator",
			Name:      "worker_panics_total",
			Help:      "Recovered worker panics by kind.",
		},
		[]string{"kind"},
	)
	monitorActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "monitor",
			Name:      "actions_total",
			Help:      "Monitor revivals and trims by kind.",
		},
		[]string{"kind", "action"},
	)
	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ghostline",
			Subsystem: "orchestrator",
			Name:      "jobs",
			Help:      "Currently tracked jobs.",
		},
	)
	processKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "procs",
			Name:      "kills_total",
			Help:      "Process termination attempts by stage and result.",
		},
		[]string{"stage", "success"},
	)
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Inbound channel payloads by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
	updateCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "updates",
			Name:      "cycles_total",
			Help:      "Update client pull/push cycles by loop and outcome.",
		},
		[]string{"loop", "outcome"},
	)
	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ghostline",
			Subsystem: "updates",
			Name:      "uploaded_bytes_total",
			Help:      "Result bytes acknowledged by the server.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatches, workerPanics, monitorActions, activeJobs,
			processKills, inboundMessages, updateCycles, uploadBytes,
		)
	})
}

func RecordHTTPRequest(agent, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(agent, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(agent, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(kind, outcome string) {
	RegisterMetrics()
	dispatches.WithLabelValues(kind, outcome).Inc()
}

func RecordWorkerPanic(kind string) {
	RegisterMetrics()
	workerPanics.WithLabelValues(kind).Inc()
}

func RecordMonitorAction(kind, action string, n int) {
	RegisterMetrics()
	monitorActions.WithLabelValues(kind, action).Add(float64(n))
}

func SetActiveJobs(n int) {
	RegisterMetrics()
	activeJobs.Set(float64(n))
}

func RecordProcessKill(stage string, success bool) {
	RegisterMetrics()
	processKills.WithLabelValues(stage, strconv.FormatBool(success)).Inc()
}

func RecordInbound(channel, outcome string) {
	RegisterMetrics()
	inboundMessages.WithLabelValues(channel, outcome).Inc()
}

func RecordUpdateCycle(loop, outcome string) {
	RegisterMetrics()
	updateCycles.WithLabelValues(loop, outcome).Inc()
}

func RecordUploadBytes(n int) {
	RegisterMetrics()
	uploadBytes.Add(float64(n))
}
