package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type traceRow struct {
	ID   uint   `gorm:"primaryKey"`
	Body string `gorm:"size:100"`
}

func setupTraceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&traceRow{}))
	return db
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
	assert.True(t, cfg.WithoutVariables)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := setupTraceDB(t)
	plugin := NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop())

	require.NoError(t, plugin.RegisterOtelGorm(db))
	assert.Nil(t, db.Callback().Query().Get("otel_slow_query:query"))
}

func TestDBTracingPlugin_RegistersCallbacks(t *testing.T) {
	db := setupTraceDB(t)
	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.DBSystem = "sqlite"

	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))

	assert.NotNil(t, db.Callback().Query().Get("otel_timing:before_query"))
	assert.NotNil(t, db.Callback().Query().Get("otel_slow_query:query"))
	assert.NotNil(t, db.Callback().Create().Get("otel_slow_query:create"))

	var rows []traceRow
	assert.NoError(t, db.Find(&rows).Error)
}

// withTimingHooks installs only the timing callbacks so assertions can
// target the caller's span.
func withTimingHooks(t *testing.T, db *gorm.DB, p *DBTracingPlugin) {
	t.Helper()
	for _, h := range hooks(true) {
		require.NoError(t, h.register(db, "test_timing:before_"+h.op, markQueryStart))
	}
	for _, h := range hooks(false) {
		require.NoError(t, h.register(db, "test_timing:after_"+h.op, p.afterQuery))
	}
}

func spanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func TestDBTracingPlugin_AnnotatesActiveSpan(t *testing.T) {
	db := setupTraceDB(t)
	cfg := DefaultDBTracingConfig()
	cfg.SlowQueryThresh = time.Hour
	withTimingHooks(t, db, NewDBTracingPlugin(cfg, zap.NewNop()))
	tp, sr := spanRecorder(t)

	ctx, parent := tp.Tracer("test").Start(context.Background(), "parent")
	require.NoError(t, db.WithContext(ctx).Create(&traceRow{Body: "hi"}).Error)
	parent.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(1), attrs["db.rows_affected"])
	assert.Equal(t, "trace_rows", attrs["db.sql.table"])
	_, slow := attrs["db.slow_query"]
	assert.False(t, slow)
}

func TestDBTracingPlugin_SlowQueryFlag(t *testing.T) {
	db := setupTraceDB(t)
	cfg := DefaultDBTracingConfig()
	cfg.SlowQueryThresh = time.Nanosecond
	withTimingHooks(t, db, NewDBTracingPlugin(cfg, zap.NewNop()))
	tp, sr := spanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "slow")
	var rows []traceRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	span.End()

	ended := sr.Ended()[0]
	var slow bool
	for _, kv := range ended.Attributes() {
		if kv.Key == "db.slow_query" {
			slow = kv.Value.AsBool()
		}
	}
	assert.True(t, slow)

	var warned bool
	for _, e := range ended.Events() {
		if e.Name == "slow_query_warning" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestDBTracingPlugin_NotFoundIsNotAnError(t *testing.T) {
	db := setupTraceDB(t)
	withTimingHooks(t, db, NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop()))
	tp, sr := spanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "lookup")
	var row traceRow
	err := db.WithContext(ctx).First(&row, 999).Error
	span.End()

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NotEqual(t, codes.Error, sr.Ended()[0].Status().Code)
}
