package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	storeTracer = otel.Tracer("tradingagents/internal/store")

	storeMetricsOnce sync.Once
	opCounter        otelmetric.Int64Counter
	opDuration       otelmetric.Float64Histogram
	retryCounter     otelmetric.Int64Counter
	purgedCounter    otelmetric.Int64Counter
)

func initStoreMetrics() {
	meter := otel.Meter("tradingagents/store")
	var err error
	opCounter, err = meter.Int64Counter(
		"report_store_operations_total",
		otelmetric.WithDescription("Report store operations by name and outcome"),
	)
	if err != nil {
		zap.L().Warn("store metrics init", zap.String("metric", "report_store_operations_total"), zap.Error(err))
	}
	opDuration, err = meter.Float64Histogram(
		"report_store_operation_duration_seconds",
		otelmetric.WithDescription("Latency of report store operations including retries"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		zap.L().Warn("store metrics init", zap.String("metric", "report_store_operation_duration_seconds"), zap.Error(err))
	}
	retryCounter, err = meter.Int64Counter(
		"report_store_retries_total",
		otelmetric.WithDescription("Retried database attempts"),
	)
	if err != nil {
		zap.L().Warn("store metrics init", zap.String("metric", "report_store_retries_total"), zap.Error(err))
	}
	purgedCounter, err = meter.Int64Counter(
		"report_store_sessions_purged_total",
		otelmetric.WithDescription("Sessions deleted by retention"),
	)
	if err != nil {
		zap.L().Warn("store metrics init", zap.String("metric", "report_store_sessions_purged_total"), zap.Error(err))
	}
}

// startOp opens a span for op and returns a finisher that records the outcome.
func startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	storeMetricsOnce.Do(initStoreMetrics)
	ctx, span := storeTracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
	began := time.Now()
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		set := otelmetric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
		if opCounter != nil {
			opCounter.Add(ctx, 1, set)
		}
		if opDuration != nil {
			opDuration.Record(ctx, time.Since(began).Seconds(), otelmetric.WithAttributes(attribute.String("op", op)))
		}
	}
}

func recordRetry(ctx context.Context, op string) {
	storeMetricsOnce.Do(initStoreMetrics)
	if retryCounter != nil {
		retryCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("op", op)))
	}
}

func recordPurged(ctx context.Context, n int64) {
	storeMetricsOnce.Do(initStoreMetrics)
	if purgedCounter != nil && n > 0 {
		purgedCounter.Add(ctx, n)
	}
}
