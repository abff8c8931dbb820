package instrumentation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "team-broker"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// ExporterPrometheus exposes metrics through a Prometheus registerer
	ExporterPrometheus = "prometheus"

	// ExporterNone keeps metrics in no-op instruments
	ExporterNone = "none"

	scopePrefix = "github.com/giantswarm/team-broker/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// MetricsExporter selects the metrics exporter: "prometheus" or "none" (default).
	MetricsExporter string

	// PrometheusRegisterer receives the exporter's collector. Defaults to
	// prometheus.DefaultRegisterer, which promhttp.Handler() serves.
	PrometheusRegisterer prometheus.Registerer

	// Resource allows custom resource attributes
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	pendingSource   atomic.Pointer[SizeCallback]
	pendingRegister sync.Once
	pendingErr      error

	// registered during New() only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterNone
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// NewNoop returns disabled instrumentation. It cannot fail.
func NewNoop() *Instrumentation {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		panic(fmt.Sprintf("noop instrumentation: %v", err))
	}
	return inst
}

func (i *Instrumentation) initializeProviders() error {
	switch i.config.MetricsExporter {
	case ExporterNone:
		return nil
	case ExporterPrometheus:
		opts := []otelprom.Option{}
		if i.config.PrometheusRegisterer != nil {
			opts = append(opts, otelprom.WithRegisterer(i.config.PrometheusRegisterer))
		}
		exporter, err := otelprom.New(opts...)
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(i.resource),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
		return nil
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}
}

// Shutdown flushes and stops the providers. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope ("http", "broker", "storage", ...).
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// SizeCallback returns the current size of a stored collection.
type SizeCallback func() int64

// RegisterPendingAuthorizationsCallback reports the number of pending OAuth
// authorizations through the broker.pending_authorizations gauge. The gauge
// has a single source; a later call replaces the previous callback.
func (i *Instrumentation) RegisterPendingAuthorizationsCallback(cb SizeCallback) error {
	if cb == nil {
		return nil
	}
	i.pendingSource.Store(&cb)

	i.pendingRegister.Do(func() {
		_, i.pendingErr = i.Meter("storage").RegisterCallback(
			func(_ context.Context, observer metric.Observer) error {
				if src := i.pendingSource.Load(); src != nil {
					observer.ObserveInt64(i.metrics.PendingAuthorizations, (*src)())
				}
				return nil
			},
			i.metrics.PendingAuthorizations,
		)
	})
	return i.pendingErr
}
