package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled          bool
	LogFullSQL       bool          // include bound variables in spans; dev only
	SlowQueryThresh  time.Duration // default 200ms
	DBSystem         string        // default "postgresql"
	WithoutVariables bool
}

// DefaultDBTracingConfig returns default configuration for database tracing.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}
}

// DBTracingPlugin wraps the otelgorm plugin with slow query detection.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a new database tracing plugin with the given configuration.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	return &DBTracingPlugin{
		config: cfg,
		logger: logger,
	}
}

type callbackHook struct {
	op       string
	register func(db *gorm.DB, name string, fn func(*gorm.DB)) error
}

func hooks(before bool) []callbackHook {
	if before {
		return []callbackHook{
			{"create", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
				return db.Callback().Create().Before("gorm:create").Register(n, fn)
			}},
			{"query", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
				return db.Callback().Query().Before("gorm:query").Register(n, fn)
			}},
			{"update", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
				return db.Callback().Update().Before("gorm:update").Register(n, fn)
			}},
			{"delete", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
				return db.Callback().Delete().Before("gorm:delete").Register(n, fn)
			}},
			{"row", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
				return db.Callback().Row().Before("gorm:row").Register(n, fn)
			}},
			{"raw", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
				return db.Callback().Raw().Before("gorm:raw").Register(n, fn)
			}},
		}
	}
	return []callbackHook{
		{"create", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Create().After("gorm:create").Register(n, fn)
		}},
		{"query", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Query().After("gorm:query").Register(n, fn)
		}},
		{"update", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Update().After("gorm:update").Register(n, fn)
		}},
		{"delete", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Delete().After("gorm:delete").Register(n, fn)
		}},
		{"row", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Row().After("gorm:row").Register(n, fn)
		}},
		{"raw", func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Raw().After("gorm:raw").Register(n, fn)
		}},
	}
}

// RegisterOtelGorm installs otelgorm on db plus the timing callbacks used
// to flag slow queries. It is a no-op when tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL || p.config.WithoutVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	// Timing callbacks go in first so the after hooks run while the
	// otelgorm span is still open.
	for _, h := range hooks(true) {
		if err := h.register(db, "otel_timing:before_"+h.op, markQueryStart); err != nil {
			return err
		}
	}
	for _, h := range hooks(false) {
		if err := h.register(db, "otel_slow_query:"+h.op, p.afterQuery); err != nil {
			return err
		}
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = WithQueryStartTime(db.Statement.Context)
	}
}

func (p *DBTracingPlugin) afterQuery(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	// Not-found is an expected outcome for lookups.
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	startTime, ok := ctx.Value(queryStartTimeKey).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(startTime); elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// WithQueryStartTime returns a context carrying the current time as query start.
func WithQueryStartTime(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryStartTimeKey, time.Now())
}
