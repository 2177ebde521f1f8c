package config

import (
	"github.com/erp/ingestion/internal/infrastructure/scheduler"
	"github.com/erp/ingestion/internal/infrastructure/telemetry"
)

// TracingConfig returns the tracer provider settings
func (c *Config) TracingConfig() telemetry.TracingConfig {
	return telemetry.TracingConfig{
		Enabled:           c.Telemetry.Enabled,
		CollectorEndpoint: c.Telemetry.CollectorEndpoint,
		SamplingRatio:     c.Telemetry.SamplingRatio,
		ServiceName:       c.Telemetry.ServiceName,
		ServiceVersion:    c.App.Version,
		Insecure:          c.Telemetry.Insecure,
	}
}

// MetricsConfig returns the meter provider settings. Metrics need the
// telemetry master switch as well as their own.
func (c *Config) MetricsConfig() telemetry.MetricsConfig {
	return telemetry.MetricsConfig{
		Enabled:           c.Telemetry.Enabled && c.Telemetry.MetricsEnabled,
		CollectorEndpoint: c.Telemetry.CollectorEndpoint,
		ExportInterval:    c.Telemetry.MetricsInterval,
		ServiceName:       c.Telemetry.ServiceName,
		ServiceVersion:    c.App.Version,
		Insecure:          c.Telemetry.Insecure,
	}
}

// LogsConfig returns the OTLP log pipeline settings
func (c *Config) LogsConfig() telemetry.LogsConfig {
	return telemetry.LogsConfig{
		Enabled:           c.Telemetry.Enabled && c.Telemetry.LogsEnabled,
		CollectorEndpoint: c.Telemetry.CollectorEndpoint,
		ServiceName:       c.Telemetry.ServiceName,
		ServiceVersion:    c.App.Version,
		Insecure:          c.Telemetry.Insecure,
	}
}

func (c *Config) DBTracingConfig() telemetry.DBTracingConfig {
	return telemetry.DBTracingConfig{
		Enabled:         c.Telemetry.Enabled && c.Telemetry.DBTraceEnabled,
		LogFullSQL:      c.Telemetry.DBLogFullSQL,
		SlowQueryThresh: c.Telemetry.DBSlowQueryThresh,
		DBName:          c.Database.DBName,
	}
}

func (c *Config) DBMetricsConfig() telemetry.DBMetricsConfig {
	return telemetry.DBMetricsConfig{
		Enabled:            c.Telemetry.DBMetricsEnabled,
		SlowQueryThreshold: c.Telemetry.DBSlowQueryThresh,
		PoolStatsInterval:  c.Telemetry.DBPoolInterval,
	}
}

// ProfilerConfig returns the Pyroscope settings
func (c *Config) ProfilerConfig() telemetry.ProfilerConfig {
	return telemetry.ProfilerConfig{
		Enabled:              c.Profiler.Enabled,
		ServerAddress:        c.Profiler.ServerAddress,
		ApplicationName:      c.Profiler.ApplicationName,
		BasicAuthUser:        c.Profiler.BasicAuthUser,
		BasicAuthPassword:    c.Profiler.BasicAuthPassword,
		ProfileTypes:         c.Profiler.ProfileTypes,
		MutexProfileFraction: c.Profiler.MutexProfileFraction,
		BlockProfileRate:     c.Profiler.BlockProfileRate,
	}
}

// SchedulerConfig sizes the job scheduler from the ingestion section
func (c *Config) SchedulerConfig() scheduler.SchedulerConfig {
	return scheduler.SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: c.Ingestion.Workers,
		QueueSize:         c.Ingestion.QueueSize,
		JobTimeout:        c.Ingestion.JobTimeout,
		RetryAttempts:     c.Ingestion.MaxRetries,
		RetryDelay:        c.Ingestion.RetryDelay,
	}
}
