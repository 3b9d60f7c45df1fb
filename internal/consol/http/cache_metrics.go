package http

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheMetricsMu          sync.Mutex
	cacheMetricsInitialized bool

	cellCounter       *prometheus.CounterVec
	gridSizeHistogram *prometheus.HistogramVec
	cacheMetricsError error
)

// SetupCacheMetrics registers Prometheus metrics describing how balance grids
// were served. The registration is performed once and subsequent calls are
// ignored.
func SetupCacheMetrics(reg prometheus.Registerer) error {
	cacheMetricsMu.Lock()
	defer cacheMetricsMu.Unlock()
	if cacheMetricsInitialized {
		return cacheMetricsError
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cellCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glbridge_grid_cells_total",
		Help: "Balance cells returned to clients by source (cached, computed, failed).",
	}, []string{"endpoint", "source"})
	gridSizeHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glbridge_grid_size_cells",
		Help:    "Number of cells requested per balance grid.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"endpoint"})

	for _, collector := range []prometheus.Collector{cellCounter, gridSizeHistogram} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				switch c := already.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					cellCounter = c
				case *prometheus.HistogramVec:
					gridSizeHistogram = c
				default:
					cacheMetricsError = fmt.Errorf("grid metrics: unexpected collector type %T", c)
				}
				continue
			}
			cacheMetricsError = err
			cellCounter = nil
			gridSizeHistogram = nil
			cacheMetricsInitialized = true
			return cacheMetricsError
		}
	}

	cacheMetricsInitialized = true
	return cacheMetricsError
}

func recordGrid(endpoint string, cached bool, cells, failed int) {
	if cellCounter == nil || gridSizeHistogram == nil {
		return
	}
	source := "computed"
	if cached {
		source = "cached"
	}
	if ok := cells - failed; ok > 0 {
		cellCounter.WithLabelValues(endpoint, source).Add(float64(ok))
	}
	if failed > 0 {
		cellCounter.WithLabelValues(endpoint, "failed").Add(float64(failed))
	}
	gridSizeHistogram.WithLabelValues(endpoint).Observe(float64(cells))
}
