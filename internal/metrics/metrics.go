// Package metrics holds the process's OpenTelemetry instruments, registered
// against the global delegating provider at init time so they forward to a
// real provider once one is installed.
package metrics

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/passrepo/depositorch"

// Tracer is the process-wide tracer for CSE critical sections and deposit
// tasks.
var Tracer = otel.Tracer(instrumentationName)

// Init installs real SDK tracer and meter providers in place of the no-op
// global defaults, writing both traces and periodic metric snapshots to w.
// Called explicitly from main rather than relying on an auto-configured
// exporter.
func Init(ctx context.Context, w io.Writer) (shutdown func(context.Context) error, err error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", "depositorchd")))
	if err != nil {
		return nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("metrics: build trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("metrics: build metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return meterProvider.Shutdown(ctx)
	}, nil
}

var core struct {
	cseAttempts      metric.Int64Counter
	cseConflicts     metric.Int64Counter
	cseRetriesExhausted metric.Int64Counter
	poolOccupancy    metric.Int64UpDownCounter
	poolRejected     metric.Int64Counter
	depositOutcomes  metric.Int64Counter
	refreshUnresolved metric.Int64Counter
}

func init() {
	m := otel.Meter(instrumentationName)

	core.cseAttempts, _ = m.Int64Counter("depositorch.cse.attempts",
		metric.WithDescription("Critical-section executions, successful or not"),
		metric.WithUnit("{attempt}"),
	)
	core.cseConflicts, _ = m.Int64Counter("depositorch.cse.conflicts",
		metric.WithDescription("ETag conflicts observed while retrying a critical section"),
		metric.WithUnit("{conflict}"),
	)
	core.cseRetriesExhausted, _ = m.Int64Counter("depositorch.cse.retries_exhausted",
		metric.WithDescription("Critical sections that failed after exhausting their retry bound"),
		metric.WithUnit("{exhaustion}"),
	)
	core.poolOccupancy, _ = m.Int64UpDownCounter("depositorch.worker.pool_occupancy",
		metric.WithDescription("In-flight deposit tasks currently held by the worker pool"),
		metric.WithUnit("{task}"),
	)
	core.poolRejected, _ = m.Int64Counter("depositorch.worker.pool_rejected",
		metric.WithDescription("Task submissions rejected because the pool queue was saturated"),
		metric.WithUnit("{task}"),
	)
	core.depositOutcomes, _ = m.Int64Counter("depositorch.deposit.outcomes",
		metric.WithDescription("Deposits reaching a terminal status, by status"),
		metric.WithUnit("{deposit}"),
	)
	core.refreshUnresolved, _ = m.Int64Counter("depositorch.deposit.refresh_unresolved",
		metric.WithDescription("Status refreshes that returned an unrecognized native status term"),
		metric.WithUnit("{refresh}"),
	)
}

// RecordCSEAttempt records one critical-section execution for entityType,
// tagging whether it ultimately succeeded.
func RecordCSEAttempt(ctx context.Context, entityType string, success bool) {
	core.cseAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.Bool("success", success),
	))
}

// RecordCSEConflict records one ETag conflict observed while retrying.
func RecordCSEConflict(ctx context.Context, entityType string) {
	core.cseConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// RecordCSERetriesExhausted records a critical section that never
// succeeded within its retry bound (spec.md §8 property 6).
func RecordCSERetriesExhausted(ctx context.Context, entityType string) {
	core.cseRetriesExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// PoolTaskStarted/PoolTaskFinished track in-flight worker-pool occupancy.
func PoolTaskStarted(ctx context.Context) { core.poolOccupancy.Add(ctx, 1) }
func PoolTaskFinished(ctx context.Context) { core.poolOccupancy.Add(ctx, -1) }

// RecordPoolRejected records a Submit call rejected by a saturated queue.
func RecordPoolRejected(ctx context.Context) {
	core.poolRejected.Add(ctx, 1)
}

// RecordDepositOutcome records a Deposit reaching terminal status.
func RecordDepositOutcome(ctx context.Context, status string) {
	core.depositOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRefreshUnresolved records a refresh that left a Deposit SUBMITTED
// because its target returned an unmapped native status term.
func RecordRefreshUnresolved(ctx context.Context, target string) {
	core.refreshUnresolved.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// StartSpan starts a span named name under Tracer, the common entry point
// CSE invocations and deposit tasks use to bound their work.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
