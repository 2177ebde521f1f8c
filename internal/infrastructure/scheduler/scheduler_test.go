package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockExecutor implements JobExecutor for testing
type mockExecutor struct {
	executeFunc func(ctx context.Context, job *Job) error
	execCount   int32
}

func (m *mockExecutor) Execute(ctx context.Context, job *Job) error {
	atomic.AddInt32(&m.execCount, 1)
	if m.executeFunc != nil {
		return m.executeFunc(ctx, job)
	}
	return nil
}

func newTestScheduler(t *testing.T, config SchedulerConfig, exec JobExecutor) *Scheduler {
	t.Helper()
	s, err := NewScheduler(config, exec, zap.NewNop())
	require.NoError(t, err)
	return s
}

func stopScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestJobLifecycle(t *testing.T) {
	job := NewJob(KindIngestFile, "f-1", "schedule", 2)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)

	job.Error = "previous error"
	job.Start()
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.Empty(t, job.Error)

	job.Fail("boom")
	assert.True(t, job.ShouldRetry())
	job.ScheduleRetry(time.Second)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, JobStatusPending, job.Status)
	require.NotNil(t, job.NextRetryAt)

	job.Start()
	job.Fail("boom")
	job.ScheduleRetry(time.Second)
	job.Start()
	job.Fail("boom")
	assert.False(t, job.ShouldRetry())

	job.Start()
	job.Complete()
	assert.Equal(t, JobStatusSuccess, job.Status)
	assert.False(t, job.ShouldRetry())
}

func TestSchedulerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SchedulerConfig)
		wantErr bool
	}{
		{"default", func(*SchedulerConfig) {}, false},
		{"no workers", func(c *SchedulerConfig) { c.MaxConcurrentJobs = 0 }, true},
		{"no queue", func(c *SchedulerConfig) { c.QueueSize = 0 }, true},
		{"no timeout", func(c *SchedulerConfig) { c.JobTimeout = 0 }, true},
		{"negative retries", func(c *SchedulerConfig) { c.RetryAttempts = -1 }, true},
		{"zero retries", func(c *SchedulerConfig) { c.RetryAttempts = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSchedulerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{}, &mockExecutor{}, nil)
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(t, DefaultSchedulerConfig(), &mockExecutor{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	stopScheduler(t, s)
	stopScheduler(t, s)
	assert.False(t, s.IsRunning())
}

func TestScheduler_SubmitJob_NotRunning(t *testing.T) {
	s := newTestScheduler(t, DefaultSchedulerConfig(), &mockExecutor{})

	err := s.ScheduleRefresh("", "manual")
	assert.Equal(t, ErrSchedulerNotRunning, err)
}

func TestScheduler_SubmitJob_QueueFull(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.QueueSize = 1

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	exec := &mockExecutor{executeFunc: func(ctx context.Context, job *Job) error {
		started <- struct{}{}
		<-release
		return nil
	}}
	s := newTestScheduler(t, cfg, exec)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.ScheduleIngest(uuid.New(), "scan"))
	<-started
	require.NoError(t, s.ScheduleIngest(uuid.New(), "scan"))
	assert.Equal(t, ErrJobQueueFull, s.ScheduleIngest(uuid.New(), "scan"))

	close(release)
	stopScheduler(t, s)
}

func TestScheduler_ExecutesJobs(t *testing.T) {
	var refreshes, ingests int32
	var gotTarget atomic.Value
	mux := Mux{
		KindRefreshViews: JobExecutorFunc(func(ctx context.Context, job *Job) error {
			atomic.AddInt32(&refreshes, 1)
			gotTarget.Store(job.Target)
			return nil
		}),
		KindIngestFile: JobExecutorFunc(func(ctx context.Context, job *Job) error {
			atomic.AddInt32(&ingests, 1)
			return nil
		}),
	}
	s := newTestScheduler(t, DefaultSchedulerConfig(), mux)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.ScheduleRefresh("mv_shop_daily_performance", "manual"))
	require.NoError(t, s.ScheduleIngest(uuid.New(), "scan"))
	require.NoError(t, s.ScheduleIngest(uuid.New(), "scan"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&refreshes) == 1 && atomic.LoadInt32(&ingests) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "mv_shop_daily_performance", gotTarget.Load())

	stopScheduler(t, s)
}

func TestScheduler_JobRetry(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RetryAttempts = 5

	var callCount int32
	exec := &mockExecutor{executeFunc: func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&callCount, 1) < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}}
	s := newTestScheduler(t, cfg, exec)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.ScheduleRefresh("", "schedule"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&callCount) == 3
	}, 2*time.Second, 10*time.Millisecond)

	stopScheduler(t, s)
}

func TestScheduler_RetryExhausted(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.RetryAttempts = 1

	exec := &mockExecutor{executeFunc: func(ctx context.Context, job *Job) error {
		return errors.New("permanent failure")
	}}
	s := newTestScheduler(t, cfg, exec)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.ScheduleIngest(uuid.New(), "scan"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&exec.execCount) == 2
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&exec.execCount))

	stopScheduler(t, s)
}

func TestScheduler_PermanentErrorNotRetried(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.RetryAttempts = 3

	exec := &mockExecutor{executeFunc: func(ctx context.Context, job *Job) error {
		return fmt.Errorf("%w: bad target", ErrPermanent)
	}}
	s := newTestScheduler(t, cfg, exec)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.ScheduleIngest(uuid.New(), "scan"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&exec.execCount) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exec.execCount))

	stopScheduler(t, s)
}

func TestMux_UnknownKind(t *testing.T) {
	err := Mux{}.Execute(context.Background(), NewJob("EXPORT", "", "manual", 0))
	assert.ErrorIs(t, err, ErrUnknownJobKind)
	assert.Contains(t, err.Error(), "EXPORT")
}
