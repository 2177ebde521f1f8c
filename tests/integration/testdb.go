// Package integration runs the ingestion pipeline against a real PostgreSQL
// started with testcontainers. The tests are skipped with -short.
package integration

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const postgresImage = "postgres:16-alpine"

var (
	// one container per package, migrated once
	sharedContainer    testcontainers.Container
	sharedContainerMu  sync.Mutex
	sharedContainerDSN string
)

// TestDB is a migrated database plus the container behind it
type TestDB struct {
	DB        *gorm.DB
	SqlDB     *sql.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// NewTestDB starts a private container. Use it for tests that change the
// schema; it is terminated on cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	container, dsn := startPostgres(t, "ingestion_test")
	tdb := connect(t, dsn, container)
	migrateUp(t, tdb.SqlDB)
	t.Cleanup(func() {
		_ = tdb.SqlDB.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})
	return tdb
}

// NewSharedTestDB connects to the package-wide container, starting and
// migrating it on first use. Callers own the data: call CleanTables first.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()

	sharedContainerMu.Lock()
	if sharedContainer == nil {
		container, dsn := startPostgres(t, "ingestion_shared_test")
		first := connect(t, dsn, container)
		migrateUp(t, first.SqlDB)
		_ = first.SqlDB.Close()
		sharedContainer, sharedContainerDSN = container, dsn
	}
	container, dsn := sharedContainer, sharedContainerDSN
	sharedContainerMu.Unlock()

	tdb := connect(t, dsn, container)
	t.Cleanup(func() { _ = tdb.SqlDB.Close() })
	return tdb
}

// CleanupSharedContainer terminates the shared container; call it from TestMain
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sharedContainer.Terminate(ctx)
	sharedContainer, sharedContainerDSN = nil, ""
}

func startPostgres(t *testing.T, dbName string) (testcontainers.Container, string) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase(dbName),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")
	return container, dsn
}

func connect(t *testing.T, dsn string, container testcontainers.Container) *TestDB {
	t.Helper()

	level := logger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = logger.Info
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")
	// refresh tests hold a reader open while a refresher works
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetMaxIdleConns(2)

	return &TestDB{DB: db, SqlDB: sqlDB, Container: container, DSN: dsn, t: t}
}

func migrateUp(t *testing.T, sqlDB *sql.DB) {
	t.Helper()
	if err := newMigrate(t, sqlDB).Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err, "Failed to run migrations")
	}
}

// newMigrate returns a migrate instance over the module's migrations directory
func newMigrate(t *testing.T, sqlDB *sql.DB) *migrate.Migrate {
	t.Helper()

	migrationsPath := findRepoPath("migrations")
	require.NotEmpty(t, migrationsPath, "Could not find migrations directory")

	driver, err := mpg.WithInstance(sqlDB, &mpg.Config{})
	require.NoError(t, err, "Failed to create migration driver")

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	require.NoError(t, err, "Failed to create migrate instance")
	return m
}

// findRepoPath locates rel (a file or directory) by walking up from this
// file, then from the working directory.
func findRepoPath(rel string) string {
	var starts []string
	if _, filename, _, ok := runtime.Caller(0); ok {
		starts = append(starts, filepath.Dir(filename))
	}
	if wd, err := os.Getwd(); err == nil {
		starts = append(starts, wd)
	}
	for _, dir := range starts {
		for i := 0; i < 5; i++ {
			p := filepath.Join(dir, rel)
			if _, err := os.Stat(p); err == nil {
				return p
			}
			dir = filepath.Dir(dir)
		}
	}
	return ""
}

// CleanTables truncates every table except schema_migrations. Materialized
// views keep their last refreshed contents.
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT quote_ident(tablename) FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to list tables")
	if len(tables) == 0 {
		return
	}
	require.NoError(tdb.t, tdb.DB.Exec("TRUNCATE TABLE "+strings.Join(tables, ", ")+" RESTART IDENTITY CASCADE").Error)
}

// CountRows returns the row count of table or view
func (tdb *TestDB) CountRows(table string) int64 {
	tdb.t.Helper()
	var n int64
	require.NoError(tdb.t, tdb.DB.Raw("SELECT COUNT(*) FROM "+table).Scan(&n).Error)
	return n
}
