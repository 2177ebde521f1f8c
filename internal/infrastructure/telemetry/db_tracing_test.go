package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func installSpanRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr, tp
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, a := range span.Attributes() {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBName)
}

func TestRegisterDBTracing_Disabled(t *testing.T) {
	db := setupInstrumentedDB(t)
	require.NoError(t, RegisterDBTracing(db, DefaultDBTracingConfig(), zap.NewNop()))
	// Registering again is still fine: nothing was installed
	require.NoError(t, RegisterDBTracing(db, DefaultDBTracingConfig(), zap.NewNop()))
}

func TestRegisterDBTracing_AnnotatesQuerySpans(t *testing.T) {
	sr, tp := installSpanRecorder(t)
	db := setupInstrumentedDB(t)

	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{
		Enabled:         true,
		SlowQueryThresh: time.Nanosecond,
		DBName:          "sqlite",
	}, zap.NewNop()))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "ingest.land")
	rows := []catalogRow{{FileHash: "a"}, {FileHash: "b"}, {FileHash: "c"}}
	require.NoError(t, db.WithContext(ctx).Create(&rows).Error)
	parent.End()

	var insert sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if s.Name() != "ingest.land" {
			insert = s
		}
	}
	require.NotNil(t, insert, "otelgorm should record a query span")
	assert.Equal(t, parent.SpanContext().SpanID(), insert.Parent().SpanID())

	affected, ok := spanAttr(insert, "db.rows_affected")
	require.True(t, ok)
	assert.Equal(t, int64(3), affected.AsInt64())

	table, ok := spanAttr(insert, "db.sql.table")
	require.True(t, ok)
	assert.Equal(t, "catalog_rows", table.AsString())

	slow, ok := spanAttr(insert, "db.slow_query")
	require.True(t, ok)
	assert.True(t, slow.AsBool())

	t.Run("double registration fails", func(t *testing.T) {
		assert.Error(t, RegisterDBTracing(db, DBTracingConfig{Enabled: true}, zap.NewNop()))
	})
}

func TestAnnotateQuerySpan(t *testing.T) {
	db := setupInstrumentedDB(t)

	t.Run("no span in context", func(t *testing.T) {
		tx := db.WithContext(context.Background())
		assert.NotPanics(t, func() { annotateQuerySpan(tx, time.Second) })
	})

	t.Run("error marks span", func(t *testing.T) {
		sr, tp := installSpanRecorder(t)
		ctx, span := tp.Tracer("test").Start(context.Background(), "query")

		tx := db.WithContext(ctx)
		tx.Statement.Context = ctx
		tx.Error = errors.New("relation does not exist")
		annotateQuerySpan(tx, time.Hour)
		span.End()

		ended := sr.Ended()
		require.Len(t, ended, 1)
		assert.Equal(t, codes.Error, ended[0].Status().Code)
		_, slow := spanAttr(ended[0], "db.slow_query")
		assert.False(t, slow)
	})

	t.Run("record not found is not an error", func(t *testing.T) {
		sr, tp := installSpanRecorder(t)
		ctx, span := tp.Tracer("test").Start(context.Background(), "query")

		tx := db.WithContext(ctx)
		tx.Error = gorm.ErrRecordNotFound
		annotateQuerySpan(tx, time.Hour)
		span.End()

		assert.Equal(t, codes.Unset, sr.Ended()[0].Status().Code)
	})
}
