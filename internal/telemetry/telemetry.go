// Package telemetry wires profiling, tracing and Prometheus metrics for the
// long-running binaries.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"runtime"
	"slices"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/xerrors"
)

type Config struct {
	ServiceName string
	// PyroscopeEndpoint enables continuous profiling when set.
	PyroscopeEndpoint string
	// Tracing exports spans over OTLP/gRPC, configured by the standard OTEL_EXPORTER_OTLP_*
	// variables.
	Tracing bool
	// Registry receives the metrics. nil means the Prometheus default registry.
	Registry *prometheus.Registry
}

type Telemetry struct {
	Meter metric.Meter

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	shutdown   []func(context.Context) error
}

func Setup(ctx context.Context, c Config) (_ *Telemetry, err error) {
	t := &Telemetry{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	if c.Registry != nil {
		t.registerer = c.Registry
		t.gatherer = c.Registry
	}
	defer func() {
		if err != nil {
			_ = t.Shutdown(ctx)
		}
	}()

	if c.PyroscopeEndpoint != "" {
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)

		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: c.ServiceName,
			ServerAddress:   c.PyroscopeEndpoint,
			UploadRate:      60 * time.Second,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
				pyroscope.ProfileMutexDuration,
			},
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create profiler: %w", err)
		}
		t.shutdown = append(t.shutdown, func(context.Context) error {
			return profiler.Stop()
		})
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	if c.Tracing {
		r, err := sdkresource.Merge(
			sdkresource.Default(),
			sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(c.ServiceName)),
		)
		if err != nil {
			return nil, xerrors.Errorf("failed to create resource: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, xerrors.Errorf("failed to create trace exporter: %w", err)
		}
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithResource(r),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(provider))
		t.shutdown = append(t.shutdown, provider.Shutdown)
	}

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(t.registerer))
	if err != nil {
		return nil, xerrors.Errorf("failed to create metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	t.shutdown = append(t.shutdown, provider.Shutdown)
	// NOTE: Gauge(UpDownCounter), Summary or Untyped does not support exemplars
	t.Meter = provider.Meter(c.ServiceName)

	return t, nil
}

// MetricsHandler serves the registry in the OpenMetrics format.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(t.registerer, promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}

// HandleDebug registers the pprof endpoints. CPU profiles carry span labels when
// profiling is enabled.
func HandleDebug(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
}

// Shutdown flushes and stops everything Setup started, newest first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range slices.Backward(t.shutdown) {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdown = nil
	if len(errs) > 0 {
		return xerrors.Errorf("failed to shutdown telemetry: %w", errors.Join(errs...))
	}
	return nil
}
