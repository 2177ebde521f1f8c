package mview

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erp/ingestion/internal/domain/warehouse"
)

func newMockRefresher(t *testing.T, opts ...Option) (*Refresher, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRefresher(db, opts...), mock, mockDB
}

func expectIndexCount(mock sqlmock.Sqlmock, view string, n int) *sqlmock.ExpectedQuery {
	return mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_indexes`).
		WithArgs(view).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func TestRefresher_Refresh(t *testing.T) {
	r, mock, mockDB := newMockRefresher(t, WithTimeout(time.Minute))
	defer mockDB.Close()

	view := warehouse.ViewShopDailyPerformance
	expectIndexCount(mock, view, 1)
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_shop_daily_performance`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM mv_shop_daily_performance`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	rows, err := r.Refresh(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresher_MissingUniqueIndex(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r, mock, mockDB := newMockRefresher(t, WithLogger(zap.New(core)))
	defer mockDB.Close()

	expectIndexCount(mock, warehouse.ViewProductManagement, 0)

	_, err := r.Refresh(context.Background(), warehouse.ViewProductManagement)
	assert.ErrorIs(t, err, ErrMissingUniqueIndex)
	assert.Contains(t, err.Error(), warehouse.ViewProductManagement)
	// no REFRESH statement of any kind may follow
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, warehouse.ViewProductManagement, logs.All()[0].ContextMap()["view"])
}

func TestRefresher_Errors(t *testing.T) {
	tests := []struct {
		name  string
		view  string
		setup func(sqlmock.Sqlmock)
		want  error
		msg   string
	}{
		{
			name:  "unknown view",
			view:  "pg_user; --",
			setup: func(sqlmock.Sqlmock) {},
			want:  ErrUnknownView,
		},
		{
			name: "index lookup fails",
			view: warehouse.ViewShopHealthSummary,
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_indexes`).WillReturnError(assert.AnError)
			},
			want: assert.AnError,
			msg:  "failed to inspect indexes of mv_shop_health_summary",
		},
		{
			name: "refresh fails",
			view: warehouse.ViewCampaignAchievement,
			setup: func(m sqlmock.Sqlmock) {
				expectIndexCount(m, warehouse.ViewCampaignAchievement, 1)
				m.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_campaign_achievement`).
					WillReturnError(assert.AnError)
			},
			want: assert.AnError,
			msg:  "failed to refresh mv_campaign_achievement",
		},
		{
			name: "count fails",
			view: warehouse.ViewTargetAchievement,
			setup: func(m sqlmock.Sqlmock) {
				expectIndexCount(m, warehouse.ViewTargetAchievement, 2)
				m.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_target_achievement`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectQuery(`SELECT COUNT\(\*\) FROM mv_target_achievement`).
					WillReturnError(assert.AnError)
			},
			want: assert.AnError,
			msg:  "failed to count rows of mv_target_achievement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock, mockDB := newMockRefresher(t)
			defer mockDB.Close()
			tt.setup(mock)

			_, err := r.Refresh(context.Background(), tt.view)
			assert.ErrorIs(t, err, tt.want)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRefresher_LastRefreshedAt(t *testing.T) {
	r, mock, mockDB := newMockRefresher(t)
	defer mockDB.Close()
	ctx := context.Background()
	stamp := time.Date(2024, 9, 4, 2, 0, 3, 0, time.UTC)

	mock.ExpectQuery(`SELECT MAX\(refreshed_at\) FROM mv_shop_daily_performance`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(stamp))
	got, err := r.LastRefreshedAt(ctx, warehouse.ViewShopDailyPerformance)
	require.NoError(t, err)
	assert.True(t, got.Equal(stamp))

	mock.ExpectQuery(`SELECT MAX\(refreshed_at\) FROM mv_product_management`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	got, err = r.LastRefreshedAt(ctx, warehouse.ViewProductManagement)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = r.LastRefreshedAt(ctx, "dim_shops")
	assert.ErrorIs(t, err, ErrUnknownView)
	assert.NoError(t, mock.ExpectationsWereMet())
}
