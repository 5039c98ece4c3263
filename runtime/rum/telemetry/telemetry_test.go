package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"goa.design/clue/log"
)

func TestNoopTelemetry(t *testing.T) {
	ctx := context.Background()

	logger := NewNoopLogger()
	logger.Debug(ctx, "debug", "key", "value")
	logger.Info(ctx, "info", "key", "value")
	logger.Warn(ctx, "warn", "key", "value")
	logger.Error(ctx, "error", "key", "value")

	metrics := NewNoopMetrics()
	metrics.IncCounter(MetricSessionStarted, 1, "sampled", "true")
	metrics.RecordTimer(MetricSessionDuration, time.Minute)
	metrics.RecordGauge("rum.views.active", 2)

	tracer := NewNoopTracer()
	newCtx, span := tracer.Start(ctx, "rum.session.renew")
	require.Equal(t, ctx, newCtx)
	span.AddEvent("view.transferred", "view_id", "v1")
	span.SetStatus(codes.Ok, "")
	span.RecordError(errors.New("boom"))
	span.End()
	require.NotNil(t, tracer.Span(ctx))
}

func TestClueMetricsReusesInstruments(t *testing.T) {
	m := newClueMetrics(noop.NewMeterProvider().Meter("test"))
	for range 3 {
		m.IncCounter(MetricCommandDropped, 1, "command", "AddError")
		m.RecordTimer(MetricSessionDuration, time.Minute)
		m.RecordGauge("rum.views.active", 1)
	}
	m.IncCounter(MetricSessionStarted, 1, "sampled", "true")

	require.Len(t, m.counters, 2)
	require.Len(t, m.histograms, 1)
	require.Len(t, m.gauges, 1)
	require.Contains(t, m.counters, MetricCommandDropped)
	for _, name := range []string{MetricSessionStarted, MetricSessionExpired, MetricViewStarted, MetricCommandDropped, MetricSessionDuration} {
		require.NotEmpty(t, metricDescriptions[name], name)
	}
}

func TestClueLoggerWritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON), log.WithDebug())

	logger := NewClueLogger()
	logger.Warn(ctx, "no view to attach command", "command", "AddError")
	require.Contains(t, buf.String(), "no view to attach command")
	require.Contains(t, buf.String(), "AddError")
	require.Contains(t, buf.String(), "warning")
}

func TestKVSliceToClue(t *testing.T) {
	fielders := kvSliceToClue([]any{"a", 1, 2, "skipped", "odd"})
	require.Len(t, fielders, 2)
	require.Equal(t, log.KV{K: "a", V: 1}, fielders[0])
	require.Equal(t, log.KV{K: "odd", V: nil}, fielders[1])
}

func TestTagsToAttrs(t *testing.T) {
	attrs := tagsToAttrs([]string{"sampled", "true", "reason"})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("sampled", "true"),
		attribute.String("reason", ""),
	}, attrs)
}

func TestKVSliceToAttrs(t *testing.T) {
	attrs := kvSliceToAttrs([]any{"s", "x", "i", 3, "b", true, "d", time.Second, "o", struct{}{}})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("s", "x"),
		attribute.Int("i", 3),
		attribute.Bool("b", true),
		attribute.String("d", "1s"),
		attribute.String("o", ""),
	}, attrs)
}
