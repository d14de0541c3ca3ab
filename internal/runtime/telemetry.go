package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/tradingagents/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Telemetry encapsulates tracer and meter providers and the Prometheus
// registry served on /metrics.
type Telemetry struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
	metrics  *http.Server
}

// TelemetryOptions configures telemetry initialization.
type TelemetryOptions struct {
	ServiceVersion string
	Logger         *zap.Logger
}

// SetupTelemetry initializes tracing and metrics. When telemetry is disabled
// the global no-op providers stay in place, but a Prometheus registry is still
// returned so collectors such as the pool stats can be exposed.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts TelemetryOptions) (*Telemetry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	promRegistry := prometheus.NewRegistry()
	if !cfg.Enabled {
		return &Telemetry{registry: promRegistry}, nil
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "tradingagents-reports"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("service.namespace", "tradingagents"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}

	promExporter, err := promexporter.New(promexporter.WithRegisterer(promRegistry))
	if err != nil {
		return nil, fmt.Errorf("prom exporter: %w", err)
	}
	readers := []sdkmetric.Option{sdkmetric.WithReader(promExporter), sdkmetric.WithResource(res)}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	// Without an endpoint only the Prometheus side is wired.
	if endpoint := cfg.OTLPEndpoint; endpoint != "" {
		dial := grpc.WithUserAgent(serviceName)
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(dial),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp init: %w", err)
		}
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithDialOption(dial),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric init: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)
	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)

	t := &Telemetry{tp: tp, mp: mp, registry: promRegistry}
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.metrics = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := t.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}
	logger.Info("telemetry enabled", zap.String("service", serviceName), zap.String("otlp_endpoint", cfg.OTLPEndpoint), zap.Int("metrics_port", cfg.MetricsPort))
	return t, nil
}

// Registry returns the Prometheus registry backing /metrics.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	if t.metrics != nil {
		if e := t.metrics.Shutdown(ctx); e != nil {
			err = fmt.Errorf("metrics server shutdown: %w", e)
		}
	}
	if t.tp != nil {
		if e := t.tp.Shutdown(ctx); e != nil {
			err = joinErr(err, fmt.Errorf("trace shutdown: %w", e))
		}
	}
	if t.mp != nil {
		if e := t.mp.Shutdown(ctx); e != nil {
			err = joinErr(err, fmt.Errorf("metric shutdown: %w", e))
		}
	}
	return err
}

func joinErr(prev, next error) error {
	if prev == nil {
		return next
	}
	return fmt.Errorf("%v; %w", prev, next)
}
