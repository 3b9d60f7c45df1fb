package cache

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records cache hits and misses in Prometheus.
type Metrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

// NewMetrics registers the cache counters. Collectors already registered on
// reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glbridge_cache_hits_total",
		Help: "Number of cache hits per cache.",
	}, []string{"cache"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glbridge_cache_miss_total",
		Help: "Number of cache misses per cache.",
	}, []string{"cache"})

	var err error
	if hits, err = register(reg, hits); err != nil {
		return nil, err
	}
	if misses, err = register(reg, misses); err != nil {
		return nil, err
	}
	return &Metrics{hits: hits, misses: misses}, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("cache metrics: unexpected collector type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return nil, err
	}
	return c, nil
}

// Hit implements Observer.
func (m *Metrics) Hit(cache string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(cache).Inc()
}

// Miss implements Observer.
func (m *Metrics) Miss(cache string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(cache).Inc()
}
