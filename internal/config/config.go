package config

import (
	"os"
	"time"
)

// EngineConfig holds configuration for the session engine
type EngineConfig struct {
	SessionTimeout time.Duration // Time after which an untouched session expires
	SweepInterval  time.Duration // How often the expiration sweeper runs
	EventQueueSize int           // Buffer size of the lifecycle event queue
}

// RestoreConfig holds configuration for the restoration controller
type RestoreConfig struct {
	Retries        int           // Retry budget for transient hook failures
	RetryDelay     time.Duration // Wait between attempts
	OverallTimeout time.Duration // Deadline covering all attempts combined
}

// ServerConfig holds configuration for the HTTP protocol layer
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RatePerMinute   float64 // Sustained requests per minute per client IP
	RateBurst       int
}

// SnapshotConfig holds configuration for the periodic registry backup
type SnapshotConfig struct {
	Interval time.Duration
	TTL      time.Duration // TTL applied to persisted session keys
}

// DefaultEngineConfig returns sensible default engine configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  5 * time.Minute,
		EventQueueSize: 256,
	}
}

// DefaultRestoreConfig returns sensible default restoration configuration.
// Restoration retries are opt-in, so the default budget is zero.
func DefaultRestoreConfig() RestoreConfig {
	return RestoreConfig{
		Retries:        0,
		RetryDelay:     100 * time.Millisecond,
		OverallTimeout: 5 * time.Second,
	}
}

// DefaultServerConfig returns sensible default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8000",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RatePerMinute:   100,
		RateBurst:       10,
	}
}

// DefaultSnapshotConfig returns sensible default snapshot configuration
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Interval: 1 * time.Minute,
		TTL:      24 * time.Hour,
	}
}

// Env returns the value of an environment variable, or fallback when unset.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
