package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevel(t *testing.T) {
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	require.NoError(t, InitLogger("production", "warn"))
	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, GetLogger().Core().Enabled(zapcore.WarnLevel))

	assert.Error(t, InitLogger("development", "loud"))
}

func TestInitTracerWithoutExporter(t *testing.T) {
	SetLogger(zap.NewNop())
	tp, err := InitTracer("", 1)
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := StartSpan(context.Background(), "noop")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestBookingSpanRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer = tp.Tracer(serviceName)
	t.Cleanup(func() { tracer = nil })

	_, span := StartBookingSpan(context.Background(), "BookingService.Cancel", "MC2026-ABC123")
	SpanError(span, nil)
	SpanError(span, errors.New("deadlock detected"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("booking.reference", "MC2026-ABC123"))
	assert.Len(t, ended[0].Events(), 1)
}
