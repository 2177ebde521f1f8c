package warehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Materialized views maintained by the refresh layer
const (
	ViewShopDailyPerformance = "mv_shop_daily_performance"
	ViewProductManagement    = "mv_product_management"
	ViewShopHealthSummary    = "mv_shop_health_summary"
	ViewCampaignAchievement  = "mv_campaign_achievement"
	ViewTargetAchievement    = "mv_target_achievement"
)

// AllViews lists every view in refresh order. Each view recomputes from fact
// and planning tables only, never from another view.
var AllViews = []string{
	ViewShopDailyPerformance,
	ViewProductManagement,
	ViewShopHealthSummary,
	ViewCampaignAchievement,
	ViewTargetAchievement,
}

// IsKnownView reports whether name is one of AllViews
func IsKnownView(name string) bool {
	for _, v := range AllViews {
		if v == name {
			return true
		}
	}
	return false
}

// ViewState is the refresh state of one materialized view
type ViewState string

const (
	ViewStale      ViewState = "stale"
	ViewRefreshing ViewState = "refreshing"
	ViewFresh      ViewState = "fresh"
	ViewFailed     ViewState = "failed"
)

var viewTransitions = map[ViewState][]ViewState{
	ViewStale:      {ViewRefreshing},
	ViewRefreshing: {ViewFresh, ViewFailed},
	ViewFresh:      {ViewStale},
	ViewFailed:     {ViewStale},
}

// CanTransitionTo reports whether next is reachable from s in one step
func (s ViewState) CanTransitionTo(next ViewState) bool {
	for _, allowed := range viewTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RefreshStatus is the outcome recorded in mv_refresh_log
type RefreshStatus string

const (
	RefreshRunning RefreshStatus = "running"
	RefreshSuccess RefreshStatus = "success"
	RefreshFailed  RefreshStatus = "failed"
)

// Refresh triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// RefreshLog is one audit row of a view refresh
type RefreshLog struct {
	ID           uuid.UUID
	ViewName     string
	Status       RefreshStatus
	RowCount     int64
	Duration     time.Duration
	TriggeredBy  string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// NewRefreshLog starts an audit row in running state
func NewRefreshLog(view, trigger string, now time.Time) *RefreshLog {
	return &RefreshLog{
		ID:          uuid.New(),
		ViewName:    view,
		Status:      RefreshRunning,
		TriggeredBy: trigger,
		StartedAt:   now,
	}
}

// Succeed closes the row with the refreshed row count
func (l *RefreshLog) Succeed(rows int64, now time.Time) {
	l.Status = RefreshSuccess
	l.RowCount = rows
	l.finish(now)
}

// Fail closes the row with the error that stopped the refresh
func (l *RefreshLog) Fail(err error, now time.Time) {
	l.Status = RefreshFailed
	if err != nil {
		l.ErrorMessage = err.Error()
	}
	l.finish(now)
}

func (l *RefreshLog) finish(now time.Time) {
	l.FinishedAt = &now
	l.Duration = now.Sub(l.StartedAt)
}

// RefreshLogRepository persists mv_refresh_log rows
type RefreshLogRepository interface {
	// Create inserts a running row
	Create(ctx context.Context, log *RefreshLog) error

	// Update stores the final status of a row
	Update(ctx context.Context, log *RefreshLog) error

	// Latest returns the most recent row for each view
	Latest(ctx context.Context) (map[string]*RefreshLog, error)
}
