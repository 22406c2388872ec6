package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/campus/messaging/internal/infrastructure/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectTimeout = 5 * time.Second

// Database is the gorm handle shared by the conversation, message and
// notification repositories
type Database struct {
	DB  *gorm.DB
	sql *sql.DB
}

// NewDatabase connects to PostgreSQL. A nil gormLogger discards gorm output.
func NewDatabase(cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	return openDatabase(postgres.Open(cfg.DSN()), cfg, gormLogger)
}

func openDatabase(dialector gorm.Dialector, cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	if gormLogger == nil {
		gormLogger = logger.Discard
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		DisableAutomaticPing:   true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open messaging database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("messaging database handle: %w", err)
	}
	applyPool(sqlDB, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("reach messaging database at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Database{DB: db, sql: sqlDB}, nil
}

// applyPool sizes the pool. The gateway holds no connection per socket, so
// zero values fall back to small defaults.
func applyPool(sqlDB *sql.DB, cfg *config.DatabaseConfig) {
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen / 2
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}
}

// Ping backs the database entry of the health check
func (d *Database) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close releases the pool
func (d *Database) Close() error {
	return d.sql.Close()
}
