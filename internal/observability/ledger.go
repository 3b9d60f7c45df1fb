package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// remoteBuckets mencakup rentang kueri jarak jauh sampai batas waktu inception.
var remoteBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90, 120, 180}

// LedgerMetrics mencatat kueri ledger, tugas fanout dan pembangunan grid saldo.
type LedgerMetrics struct {
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
	retries       *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	builds        *prometheus.HistogramVec
}

// NewLedgerMetrics mendaftarkan metrik ledger pada registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glbridge_remote_queries_total",
			Help: "Jumlah kueri ledger berdasarkan nama dan hasil.",
		}, []string{"query", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glbridge_remote_query_duration_seconds",
			Help:    "Durasi kueri ledger per halaman.",
			Buckets: remoteBuckets,
		}, []string{"query"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glbridge_fanout_tasks_total",
			Help: "Jumlah tugas fanout berdasarkan nama dan hasil.",
		}, []string{"task", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glbridge_fanout_retries_total",
			Help: "Jumlah percobaan ulang karena batas laju.",
		}, []string{"task"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glbridge_fanout_task_duration_seconds",
			Help:    "Durasi tugas fanout termasuk percobaan ulang.",
			Buckets: remoteBuckets,
		}, []string{"task"}),
		builds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glbridge_build_duration_seconds",
			Help:    "Durasi pembangunan grid saldo dan ekuitas.",
			Buckets: remoteBuckets,
		}, []string{"kind", "shared"}),
	}
	reg.MustRegister(m.queries, m.queryDuration, m.tasks, m.retries, m.taskDuration, m.builds)
	return m
}

// ObserveQuery memenuhi suiteql.Observer.
func (m *LedgerMetrics) ObserveQuery(name, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(name, kind).Inc()
	m.queryDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveTask memenuhi fanout.Observer.
func (m *LedgerMetrics) ObserveTask(name, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(name, outcome).Inc()
	if attempts > 1 {
		m.retries.WithLabelValues(name).Add(float64(attempts - 1))
	}
	m.taskDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveBuild memenuhi consol.BuildObserver.
func (m *LedgerMetrics) ObserveBuild(kind string, shared bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(kind, strconv.FormatBool(shared)).Observe(elapsed.Seconds())
}
