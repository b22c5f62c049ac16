package processor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	files          *prometheus.CounterVec
	variants       *prometheus.CounterVec
	uploadedBytes  prometheus.Counter
	uploadFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assets",
			Subsystem: "processor",
			Name:      "files_total",
			Help:      "Source files handled by outcome.",
		}, []string{"outcome"}),
		variants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assets",
			Subsystem: "processor",
			Name:      "variants_encoded_total",
			Help:      "Variants encoded and uploaded by format.",
		}, []string{"format"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assets",
			Subsystem: "processor",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of variants uploaded to the object store.",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assets",
			Subsystem: "processor",
			Name:      "upload_failures_total",
			Help:      "Variants that could not be uploaded.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.files, err = register(reg, m.files); err != nil {
		return nil, err
	}
	if m.variants, err = register(reg, m.variants); err != nil {
		return nil, err
	}
	if m.uploadedBytes, err = register(reg, m.uploadedBytes); err != nil {
		return nil, err
	}
	if m.uploadFailures, err = register(reg, m.uploadFailures); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the already registered collector if an identical one exists so several runs
// can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}
