package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erp/ingestion/internal/infrastructure/config"
)

// ErrSchemaNotReady is returned by RequireSchema when migrations have not
// been applied, or the last one failed half way.
var ErrSchemaNotReady = errors.New("database schema is not migrated")

// Database owns the warehouse connection pool
type Database struct {
	DB *gorm.DB
}

// Open connects to Postgres, sizes the pool and pings within ctx.
// A nil gormLogger silences GORM.
func Open(ctx context.Context, cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	d := &Database{DB: db}
	if err := d.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Ping checks the connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the pool
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// SchemaVersion reads the golang-migrate bookkeeping row. A migrated but
// empty table reports version 0.
func (d *Database) SchemaVersion(ctx context.Context) (version uint, dirty bool, err error) {
	row := d.DB.WithContext(ctx).Raw("SELECT version, dirty FROM schema_migrations LIMIT 1").Row()
	if err := row.Scan(&version, &dirty); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read schema_migrations: %w", err)
	}
	return version, dirty, nil
}

// RequireSchema fails unless at least one migration has been applied cleanly.
func (d *Database) RequireSchema(ctx context.Context) (uint, error) {
	version, dirty, err := d.SchemaVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSchemaNotReady, err)
	}
	if version == 0 {
		return 0, fmt.Errorf("%w: no migrations applied, run `migrate up`", ErrSchemaNotReady)
	}
	if dirty {
		return version, fmt.Errorf("%w: version %d is dirty, run `migrate force`", ErrSchemaNotReady, version)
	}
	return version, nil
}
