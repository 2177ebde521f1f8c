// Package reporting keeps the reporting materialized views up to date.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/shared"
	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/scheduler"
)

// ErrRefreshInProgress is returned when a view is already being refreshed
var ErrRefreshInProgress = shared.NewDomainError("REFRESH_IN_PROGRESS", "Materialized view refresh already in progress")

// ViewRefresher refreshes one materialized view and returns its row count
type ViewRefresher interface {
	Refresh(ctx context.Context, view string) (int64, error)
}

// RefreshMetrics records refresh outcomes
type RefreshMetrics interface {
	RecordViewRefresh(ctx context.Context, view string, elapsed time.Duration, err error)
}

// DataStamper is implemented by refreshers that can read the refreshed_at
// stamp a view's rows carry.
type DataStamper interface {
	LastRefreshedAt(ctx context.Context, view string) (time.Time, error)
}

// ViewStatus is the current picture of one view
type ViewStatus struct {
	View        string
	State       warehouse.ViewState
	LastRefresh *warehouse.RefreshLog
	// DataAsOf is nil when the view is empty or could not be read
	DataAsOf *time.Time
}

// RefreshService drives the per-view stale → refreshing → fresh|failed cycle
// and writes one mv_refresh_log row per attempt.
type RefreshService struct {
	refresher ViewRefresher
	logs      warehouse.RefreshLogRepository
	metrics   RefreshMetrics
	logger    *zap.Logger
	views     []string
	now       func() time.Time

	mu     sync.Mutex
	states map[string]warehouse.ViewState
}

// NewRefreshService creates a refresh service for views, in the given order.
// An empty list means warehouse.AllViews. metrics may be nil.
func NewRefreshService(
	refresher ViewRefresher,
	logs warehouse.RefreshLogRepository,
	metrics RefreshMetrics,
	logger *zap.Logger,
	views []string,
) (*RefreshService, error) {
	if len(views) == 0 {
		views = warehouse.AllViews
	}
	states := make(map[string]warehouse.ViewState, len(views))
	for _, v := range views {
		if !warehouse.IsKnownView(v) {
			return nil, fmt.Errorf("%w: unknown materialized view %q", shared.ErrInvalidInput, v)
		}
		states[v] = warehouse.ViewStale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshService{
		refresher: refresher,
		logs:      logs,
		metrics:   metrics,
		logger:    logger,
		views:     append([]string(nil), views...),
		now:       time.Now,
		states:    states,
	}, nil
}

// Views returns the managed views in refresh order
func (s *RefreshService) Views() []string {
	return append([]string(nil), s.views...)
}

// MarkStale flags views as needing a refresh. No names means every view.
// Views that are refreshing keep their state.
func (s *RefreshService) MarkStale(views ...string) {
	if len(views) == 0 {
		views = s.views
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range views {
		if state, ok := s.states[v]; ok && state.CanTransitionTo(warehouse.ViewStale) {
			s.states[v] = warehouse.ViewStale
		}
	}
}

// States returns a snapshot of every view's state
func (s *RefreshService) States() map[string]warehouse.ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]warehouse.ViewState, len(s.states))
	for v, st := range s.states {
		out[v] = st
	}
	return out
}

// begin moves view to refreshing. A fresh or failed view passes through
// stale first, which is how the next cycle retries a failure.
func (s *RefreshService) begin(view string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[view]
	if !ok {
		return fmt.Errorf("%w: view %q is not managed", shared.ErrInvalidInput, view)
	}
	if state == warehouse.ViewRefreshing {
		return fmt.Errorf("%w: %s", ErrRefreshInProgress, view)
	}
	if state.CanTransitionTo(warehouse.ViewStale) {
		state = warehouse.ViewStale
	}
	if !state.CanTransitionTo(warehouse.ViewRefreshing) {
		return fmt.Errorf("%w: %s cannot refresh from %s", shared.ErrInvalidState, view, state)
	}
	s.states[view] = warehouse.ViewRefreshing
	return nil
}

func (s *RefreshService) finish(view string, next warehouse.ViewState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[view] = next
}

// RefreshView refreshes one view and records the attempt
func (s *RefreshService) RefreshView(ctx context.Context, view, trigger string) error {
	if err := s.begin(view); err != nil {
		return err
	}

	entry := warehouse.NewRefreshLog(view, trigger, s.now())
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Warn("Failed to write refresh log",
			zap.String("view", view),
			zap.Error(err),
		)
	}

	rows, err := s.refresher.Refresh(ctx, view)
	if err != nil {
		entry.Fail(err, s.now())
		s.finish(view, warehouse.ViewFailed)
		s.logger.Error("Materialized view refresh failed",
			zap.String("view", view),
			zap.String("triggered_by", trigger),
			zap.Error(err),
		)
	} else {
		entry.Succeed(rows, s.now())
		s.finish(view, warehouse.ViewFresh)
	}

	if uerr := s.logs.Update(ctx, entry); uerr != nil {
		s.logger.Warn("Failed to close refresh log",
			zap.String("view", view),
			zap.Error(uerr),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordViewRefresh(ctx, view, entry.Duration, err)
	}

	if err != nil {
		return fmt.Errorf("refresh %s: %w", view, err)
	}
	return nil
}

// RefreshAll refreshes every managed view in order. A failing view does not
// stop the others; all failures are returned joined.
func (s *RefreshService) RefreshAll(ctx context.Context, trigger string) error {
	var errs []error
	for _, view := range s.views {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.RefreshView(ctx, view, trigger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute implements scheduler.JobExecutor for refresh jobs
func (s *RefreshService) Execute(ctx context.Context, job *scheduler.Job) error {
	trigger := job.TriggeredBy
	if trigger == "" {
		trigger = warehouse.TriggerSchedule
	}
	if job.Target == "" {
		return s.RefreshAll(ctx, trigger)
	}
	err := s.RefreshView(ctx, job.Target, trigger)
	if errors.Is(err, shared.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", scheduler.ErrPermanent, err)
	}
	return err
}

// Status merges in-memory states with the latest audit row of each view
func (s *RefreshService) Status(ctx context.Context) ([]ViewStatus, error) {
	latest, err := s.logs.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh log: %w", err)
	}
	states := s.States()

	stamper, _ := s.refresher.(DataStamper)
	out := make([]ViewStatus, 0, len(s.views))
	for _, v := range s.views {
		vs := ViewStatus{View: v, State: states[v], LastRefresh: latest[v]}
		if stamper != nil {
			stamp, err := stamper.LastRefreshedAt(ctx, v)
			switch {
			case err != nil:
				s.logger.Warn("Failed to read view data stamp", zap.String("view", v), zap.Error(err))
			case !stamp.IsZero():
				vs.DataAsOf = &stamp
			}
		}
		out = append(out, vs)
	}
	return out, nil
}
