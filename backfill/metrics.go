package backfill

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultDone      = "done"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Metrics 回填指标
type Metrics struct {
	Records  *prometheus.CounterVec
	Warnings *prometheus.CounterVec
	Builds   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Active   prometheus.Gauge
}

func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "records_indexed_total",
		Help:      "Number of documents written to index tables by backfill",
	}, []string{"index"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "warnings_total",
		Help:      "Number of documents skipped by backfill",
	}, []string{"index"})
	builds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "builds_total",
		Help:      "Number of finished index builds by result",
	}, []string{"result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "build_duration_seconds",
		Help:      "Duration of index builds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"result"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "active_builds",
		Help:      "Number of index builds in progress",
	})

	m := &Metrics{}
	var err error
	if m.Records, err = register(registerer, records); err != nil {
		return nil, err
	}
	if m.Warnings, err = register(registerer, warnings); err != nil {
		return nil, err
	}
	if m.Builds, err = register(registerer, builds); err != nil {
		return nil, err
	}
	if m.Duration, err = register(registerer, duration); err != nil {
		return nil, err
	}
	if m.Active, err = register(registerer, active); err != nil {
		return nil, err
	}
	return m, nil
}

// register 同名指标已注册时复用已有的
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, errors.Wrap(err, "register backfill metrics failed")
	}
	return collector, nil
}
