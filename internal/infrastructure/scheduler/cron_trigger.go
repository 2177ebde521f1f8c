package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/warehouse"
)

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// Hour and Minute are the daily run time in 24h local time
	Hour   int
	Minute int

	// CheckInterval is how often to check if it's time to run
	CheckInterval time.Duration
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		Hour:          2, // 2am
		Minute:        0,
		CheckInterval: time.Minute,
	}
}

// CronTriggerConfigFromSchedule builds a config from a "m h * * *" expression
func CronTriggerConfigFromSchedule(expr string) (CronTriggerConfig, error) {
	cfg := DefaultCronTriggerConfig()
	hour, minute, err := ParseCronSchedule(expr)
	if err != nil {
		return cfg, err
	}
	cfg.Hour = hour
	cfg.Minute = minute
	return cfg, nil
}

// ParseCronSchedule parses a cron expression "minute hour * * *" to extract hour and minute.
// Returns defaults (2:00) for an empty expression.
func ParseCronSchedule(cronExpr string) (hour, minute int, err error) {
	hour = 2
	minute = 0

	parts := strings.Fields(cronExpr)
	if len(parts) == 0 {
		return hour, minute, nil
	}
	if len(parts) < 2 {
		return 2, 0, fmt.Errorf("%w: cron expression %q needs minute and hour", ErrInvalidConfig, cronExpr)
	}

	if minute, err = parseCronField(parts[0], 0); err != nil {
		return 2, 0, err
	}
	if hour, err = parseCronField(parts[1], 2); err != nil {
		return 2, 0, err
	}

	if minute < 0 || minute > 59 {
		return 2, 0, fmt.Errorf("minute must be 0-59, got %d", minute)
	}
	if hour < 0 || hour > 23 {
		return 2, 0, fmt.Errorf("hour must be 0-23, got %d", hour)
	}

	return hour, minute, nil
}

func parseCronField(s string, defaultVal int) (int, error) {
	if s == "*" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal, fmt.Errorf("%w: cron field %q", ErrInvalidConfig, s)
	}
	return val, nil
}

// CronTrigger submits a refresh of all materialized views once a day
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler *Scheduler
	logger    *zap.Logger
	now       func() time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string // Track which date we last ran for
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config CronTriggerConfig, scheduler *Scheduler, logger *zap.Logger) *CronTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Cron trigger started",
		zap.Int("daily_hour", c.config.Hour),
		zap.Int("daily_minute", c.config.Minute),
		zap.Duration("check_interval", c.config.CheckInterval),
	)

	return nil
}

// Stop stops the cron trigger
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger()
		}
	}
}

// checkAndTrigger submits the daily refresh when the configured minute is
// reached, at most once per calendar day. It reports whether it fired.
func (c *CronTrigger) checkAndTrigger() bool {
	now := c.now()
	currentDate := now.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRunDate == currentDate {
		return false
	}
	if now.Hour() != c.config.Hour || now.Minute() != c.config.Minute {
		return false
	}
	c.lastRunDate = currentDate

	c.logger.Info("Triggering daily materialized view refresh")
	if err := c.scheduler.ScheduleRefresh("", warehouse.TriggerSchedule); err != nil {
		c.logger.Error("Failed to schedule daily refresh", zap.Error(err))
	}
	return true
}

// TriggerManualRefresh submits a refresh of view, or of every view when view is empty
func (c *CronTrigger) TriggerManualRefresh(view string) error {
	return c.scheduler.ScheduleRefresh(view, warehouse.TriggerManual)
}
