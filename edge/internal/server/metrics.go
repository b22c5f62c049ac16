package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	depth    prometheus.Histogram
	cache    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assets",
			Subsystem: "edge",
			Name:      "requests_total",
			Help:      "Image requests by response status.",
		}, []string{"status"}),
		depth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assets",
			Subsystem: "edge",
			Name:      "resolve_depth",
			Help:      "Position in the fallback chain of the served variant, 0 if the first candidate existed.",
			Buckets:   prometheus.LinearBuckets(0, 1, 13),
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assets",
			Subsystem: "edge",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.depth, err = register(reg, m.depth); err != nil {
		return nil, err
	}
	if m.cache, err = register(reg, m.cache); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, err
		}
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
		return c, err
	}
	return c, nil
}
