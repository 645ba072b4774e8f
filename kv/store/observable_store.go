package store

import (
	"context"
	"time"

	"github.com/hatlonely/secidx/log"
	"github.com/hatlonely/secidx/log/logger"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableStoreOptions struct {
	// Store 被包装的底层存储配置
	Store *ref.TypeOptions `cfg:"store" validate:"required"`

	Logger *logger.SLogOptions `cfg:"logger"`

	EnableMetrics bool `cfg:"enableMetrics"`
	EnableLogging bool `cfg:"enableLogging"`
	EnableTracing bool `cfg:"enableTracing"`

	// Name 组件名称，作为指标名前缀、日志 component 字段和 span 属性
	Name string `cfg:"name" def:"store"`

	// Registerer 指标注册器，为空时使用 prometheus 默认注册器
	Registerer prometheus.Registerer `cfg:"-"`
}

// ObservableMetrics 存储操作指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	batchSize         *prometheus.HistogramVec
}

// NewObservableMetrics 创建并注册指标，同名指标已注册时复用已有的收集器
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name + "_operations_total",
		Help: "Total number of store operations",
	}, []string{"operation", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name + "_operation_duration_seconds",
		Help:    "Duration of store operations in seconds",
		Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"operation"})
	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name + "_batch_size",
		Help:    "Size of batch operations",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	}, []string{"operation"})

	metrics := &ObservableMetrics{}
	var err error
	if metrics.operationCounter, err = registerOrReuse(registerer, counter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = registerOrReuse(registerer, duration); err != nil {
		return nil, err
	}
	if metrics.batchSize, err = registerOrReuse(registerer, batchSize); err != nil {
		return nil, err
	}
	return metrics, nil
}

func registerOrReuse[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, errors.Wrap(err, "register metrics failed")
	}
	return collector, nil
}

// ObservableStore 装饰器，为任何 Store 添加指标、日志和链路追踪
type ObservableStore[K comparable, V any] struct {
	store   Store[K, V]
	name    string
	logger  logger.Logger
	metrics *ObservableMetrics
	tracer  trace.Tracer
}

func NewObservableStoreWithOptions[K comparable, V any](options *ObservableStoreOptions) (*ObservableStore[K, V], error) {
	if options == nil || options.Store == nil {
		return nil, errors.New("underlying store options is required")
	}

	s, err := NewStoreWithOptions[K, V](options.Store)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create underlying store")
	}

	obs, err := NewObservableStore(s, options)
	if err != nil {
		s.Close()
		return nil, err
	}
	return obs, nil
}

// NewObservableStore 包装已经创建好的存储
func NewObservableStore[K comparable, V any](s Store[K, V], options *ObservableStoreOptions) (*ObservableStore[K, V], error) {
	name := options.Name
	if name == "" {
		name = "store"
	}
	obs := &ObservableStore[K, V]{store: s, name: name}

	if options.EnableLogging {
		l, err := log.NewLoggerWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create logger")
		}
		obs.logger = l.WithGroup("observableStore")
	}
	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(name, options.Registerer)
		if err != nil {
			return nil, err
		}
		obs.metrics = metrics
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer("store." + name)
	}
	return obs, nil
}

// observe 统一记录一次操作，batchSize 小于 0 表示非批量操作
func (obs *ObservableStore[K, V]) observe(ctx context.Context, operation string, batchSize int, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("component", obs.name),
			attribute.String("operation", operation),
		}
		if batchSize >= 0 {
			attrs = append(attrs, attribute.Int("batch_size", batchSize))
		}
		ctx, span = obs.tracer.Start(ctx, "store."+operation, trace.WithAttributes(attrs...))
		defer span.End()
	}

	err := fn(ctx)
	duration := time.Since(start)

	// 键不存在不算失败
	status := "success"
	if errors.Is(err, ErrKeyNotFound) {
		status = "miss"
	} else if err != nil {
		status = "error"
	}

	if span != nil {
		if status == "error" {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.metrics != nil {
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
		if batchSize >= 0 {
			obs.metrics.batchSize.WithLabelValues(operation).Observe(float64(batchSize))
		}
	}

	if obs.logger != nil {
		args := []any{"component", obs.name, "operation", operation, "durationMs", duration.Milliseconds()}
		if batchSize >= 0 {
			args = append(args, "batchSize", batchSize)
		}
		if status == "error" {
			obs.logger.ErrorContext(ctx, "store operation failed", append(args, "error", err.Error())...)
		} else {
			obs.logger.DebugContext(ctx, "store operation completed", append(args, "status", status)...)
		}
	}

	return err
}

func (obs *ObservableStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	return obs.observe(ctx, "set", -1, func(ctx context.Context) error {
		return obs.store.Set(ctx, key, value, opts...)
	})
}

func (obs *ObservableStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var result V
	err := obs.observe(ctx, "get", -1, func(ctx context.Context) error {
		var err error
		result, err = obs.store.Get(ctx, key)
		return err
	})
	return result, err
}

func (obs *ObservableStore[K, V]) Del(ctx context.Context, key K) error {
	return obs.observe(ctx, "del", -1, func(ctx context.Context) error {
		return obs.store.Del(ctx, key)
	})
}

func (obs *ObservableStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	var result []error
	err := obs.observe(ctx, "batch_set", len(keys), func(ctx context.Context) error {
		var err error
		result, err = obs.store.BatchSet(ctx, keys, vals, opts...)
		return err
	})
	return result, err
}

func (obs *ObservableStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	var vals []V
	var errs []error
	err := obs.observe(ctx, "batch_get", len(keys), func(ctx context.Context) error {
		var err error
		vals, errs, err = obs.store.BatchGet(ctx, keys)
		return err
	})
	return vals, errs, err
}

func (obs *ObservableStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	var result []error
	err := obs.observe(ctx, "batch_del", len(keys), func(ctx context.Context) error {
		var err error
		result, err = obs.store.BatchDel(ctx, keys)
		return err
	})
	return result, err
}

func (obs *ObservableStore[K, V]) Close() error {
	return obs.store.Close()
}
