package objstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented records the latency and outcome of every store operation.
type Instrumented struct {
	store    Store
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// NewInstrumented wraps store and registers its collectors with reg. Collectors that are already
// registered (for example when several stores share a registry) are reused.
func NewInstrumented(store Store, reg prometheus.Registerer) (*Instrumented, error) {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assets",
		Subsystem: "objstore",
		Name:      "operation_duration_seconds",
		Help:      "Duration of object store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "outcome"})
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assets",
		Subsystem: "objstore",
		Name:      "transferred_bytes_total",
		Help:      "Bytes written to or read from the object store.",
	}, []string{"op"})

	if err := reg.Register(duration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		duration = already.ExistingCollector.(*prometheus.HistogramVec)
	}
	if err := reg.Register(bytes); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		bytes = already.ExistingCollector.(*prometheus.CounterVec)
	}
	return &Instrumented{store: store, duration: duration, bytes: bytes}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.duration.WithLabelValues(op, outcome(err)).Observe(time.Since(start).Seconds())
}

func (i *Instrumented) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	start := time.Now()
	err := i.store.Put(ctx, key, data, opts)
	i.observe("put", start, err)
	if err == nil {
		i.bytes.WithLabelValues("put").Add(float64(len(data)))
	}
	return err
}

func (i *Instrumented) Get(ctx context.Context, key string) (*Object, error) {
	start := time.Now()
	obj, err := i.store.Get(ctx, key)
	i.observe("get", start, err)
	if err == nil {
		i.bytes.WithLabelValues("get").Add(float64(len(obj.Body)))
	}
	return obj, err
}

func (i *Instrumented) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := i.store.Head(ctx, key)
	i.observe("head", start, err)
	return info, err
}

func (i *Instrumented) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	infos, err := i.store.List(ctx, prefix)
	i.observe("list", start, err)
	return infos, err
}
