package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentd_workers_total",
			Help: "Number of workers by lifecycle state",
		},
		[]string{"state"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_commands_total",
			Help: "Total number of handled commands by command name and outcome",
		},
		[]string{"command", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Agent metrics
	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_agent_invocation_duration_seconds",
			Help:    "Agent CLI invocation duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"agent"},
	)

	// Image metrics
	ImageBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_image_builds_total",
			Help: "Total number of image builds by outcome",
		},
		[]string{"outcome"},
	)

	ImageCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentd_image_cache_entries",
			Help: "Number of cached worker images",
		},
	)

	ImagesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_images_evicted_total",
			Help: "Total number of images evicted by the garbage collector",
		},
	)

	// Crash metrics
	CrashNotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_crash_notifications_total",
			Help: "Total number of synthesized crash failure responses",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(ImageBuildsTotal)
	prometheus.MustRegister(ImageCacheEntries)
	prometheus.MustRegister(ImagesEvicted)
	prometheus.MustRegister(CrashNotificationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time on a labeled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
