package generate

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("steer.generate")
	meter  = otel.Meter("steer.generate")
)

var (
	stepsTotal      metric.Int64Counter
	actionsTotal    metric.Int64Counter
	backtracksTotal metric.Int64Counter
	terminalsTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the loop instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		stepsTotal, err = meter.Int64Counter(
			"steer.generate.steps",
			metric.WithDescription("Decoding steps executed across all requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		actionsTotal, err = meter.Int64Counter(
			"steer.generate.actions",
			metric.WithDescription("Mod actions applied, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		backtracksTotal, err = meter.Int64Counter(
			"steer.generate.backtracks",
			metric.WithDescription("KV-cache rewinds performed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		terminalsTotal, err = meter.Int64Counter(
			"steer.generate.terminals",
			metric.WithDescription("Requests ended by a terminal action, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordStep(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	stepsTotal.Add(ctx, 1)
}

func recordAction(ctx context.Context, kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	actionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordBacktrack(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	backtracksTotal.Add(ctx, 1)
}

func recordTerminal(ctx context.Context, kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	terminalsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func startRunSpan(ctx context.Context, batch int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "generate.Run",
		trace.WithAttributes(attribute.Int("generate.batch_size", batch)),
	)
}
