// Command ingestd runs the ingestion pipeline as a long-lived worker: it
// registers files as they are collected, processes them on a worker pool and
// refreshes the reporting views on a daily schedule. SIGHUP queues a refresh
// of every view.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/application/ingestion"
	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
	"github.com/erp/ingestion/internal/infrastructure/scheduler"
)

const (
	// sweepInterval re-submits pending files the queue could not take
	sweepInterval = 5 * time.Minute
	// backlogInterval is how often the catalog backlog gauges are refreshed
	backlogInterval = 30 * time.Second
)

func main() {
	configFile := flag.String("config", "", "config file (default: config.toml in ., ./config or /app)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, bootstrap.Options{
		ConfigFile:  *configFile,
		ServiceName: "ingestd",
		Telemetry:   true,
	})
	if err != nil {
		panic("Failed to start: " + err.Error())
	}
	log := rt.Logger
	cfg := rt.Config

	log.Info("Starting ingestion worker",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("root", cfg.Scanner.Root),
		zap.Int("workers", cfg.Ingestion.Workers),
	)

	sched, err := scheduler.NewScheduler(cfg.SchedulerConfig(), scheduler.Mux{
		scheduler.KindIngestFile:   rt.Ingestion,
		scheduler.KindRefreshViews: rt.Refresh,
	}, log.Named("scheduler"))
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	var cron *scheduler.CronTrigger
	if cfg.Refresh.Enabled {
		cronCfg, err := scheduler.CronTriggerConfigFromSchedule(cfg.Refresh.Schedule)
		if err != nil {
			log.Fatal("Invalid refresh schedule", zap.String("schedule", cfg.Refresh.Schedule), zap.Error(err))
		}
		cron = scheduler.NewCronTrigger(cronCfg, sched, log.Named("cron"))
		if err := cron.Start(ctx); err != nil {
			log.Fatal("Failed to start refresh trigger", zap.Error(err))
		}
	}

	rt.Metrics.StartPeriodicCollection(ctx, backlogInterval)

	initialScan(ctx, rt)
	schedulePending(ctx, rt, sched, "startup")

	if cfg.Scanner.Watch {
		go func() {
			err := rt.Scanner.Watch(ctx, scanner.DefaultSettleDelay, func(ctx context.Context, info scanner.FileInfo) {
				onWatchedFile(ctx, rt, sched, info)
			})
			if err != nil && ctx.Err() == nil {
				log.Error("File watcher stopped", zap.Error(err))
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			schedulePending(ctx, rt, sched, "sweep")
		case <-hup:
			var err error
			if cron != nil {
				err = cron.TriggerManualRefresh("")
			} else {
				err = sched.ScheduleRefresh("", warehouse.TriggerManual)
			}
			if err != nil {
				log.Error("Failed to queue manual refresh", zap.Error(err))
			} else {
				log.Info("Manual refresh queued")
			}
		}
	}

	log.Info("Shutting down ingestion worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()

	if cron != nil {
		if err := cron.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop refresh trigger", zap.Error(err))
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop scheduler", zap.Error(err))
	}
	if err := rt.Close(shutdownCtx); err != nil {
		// the logger may already be synced; stderr is all that is left
		_, _ = os.Stderr.WriteString("shutdown: " + err.Error() + "\n")
	}
}

func initialScan(ctx context.Context, rt *bootstrap.Runtime) {
	report, err := rt.Scanner.ScanAndAnalyze(ctx)
	if err != nil {
		rt.Logger.Error("Initial scan failed", zap.Error(err))
		return
	}
	result, err := rt.Ingestion.RegisterScan(ctx, report)
	if err != nil {
		rt.Logger.Error("Initial registration failed", zap.Error(err))
		return
	}
	rt.Logger.Info("Initial scan registered",
		zap.Int("valid", report.Valid),
		zap.Int("registered", result.Registered),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
	)
}

// schedulePending queues every pending file. A file already queued is
// skipped by the worker once the first job has claimed it.
func schedulePending(ctx context.Context, rt *bootstrap.Runtime, sched *scheduler.Scheduler, trigger string) {
	status := catalog.FileStatusPending
	files, err := rt.Files.FindAll(ctx, catalog.CatalogFileFilter{Status: &status, Limit: rt.Config.Ingestion.QueueSize})
	if err != nil {
		rt.Logger.Error("Failed to load pending files", zap.Error(err))
		return
	}
	queued := 0
	for _, f := range files {
		if err := sched.ScheduleIngest(f.ID, trigger); err != nil {
			rt.Logger.Warn("Ingest queue full, will retry on next sweep",
				zap.Int("queued", queued),
				zap.Int("pending", len(files)),
				zap.Error(err),
			)
			return
		}
		queued++
	}
	if queued > 0 {
		rt.Logger.Info("Pending files queued", zap.Int("count", queued), zap.String("trigger", trigger))
	}
}

func onWatchedFile(ctx context.Context, rt *bootstrap.Runtime, sched *scheduler.Scheduler, info scanner.FileInfo) {
	outcome, file, err := rt.Ingestion.RegisterFile(ctx, info)
	if err != nil {
		rt.Logger.Warn("Failed to register watched file", zap.String("path", info.Path), zap.Error(err))
		return
	}
	if file == nil || outcome != ingestion.RegisterNew {
		return
	}
	if err := sched.ScheduleIngest(file.ID, "watch"); err != nil {
		rt.Logger.Warn("Ingest queue full, file left pending", zap.String("file_id", file.ID.String()), zap.Error(err))
	}
}
