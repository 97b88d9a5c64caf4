// Package config holds the node's runtime settings, with defaults,
// environment loading, and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/paisley/internal/persistence/redisstore"
)

type (
	// Config holds configuration settings for a process engine node
	Config struct {
		LogLevel   string
		ArchiveURL string

		// Stores
		EngineStore  redisstore.Config
		HistoryStore timebox.StoreConfig

		// Job executor
		Jobs JobConfig

		// Engine
		CommandRetries      int
		DefinitionCacheSize int
		ShutdownTimeout     time.Duration
	}

	// JobConfig tunes the node's job acquisition and execution
	JobConfig struct {
		LockTTL     time.Duration
		AcquireWait time.Duration
		MaxJobs     int
		Workers     int
		QueueSize   int
	}
)

const (
	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisDB       = 0
	DefaultRedisPrefix   = "paisley"
	DefaultHistoryPrefix = "paisley-history"
	DefaultArchiveURL    = "mem://"

	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second

	DefaultJobLockTTL     = 5 * time.Minute
	DefaultJobAcquireWait = 5 * time.Second
	DefaultJobMaxJobs     = 3
	DefaultJobWorkers     = 3
	DefaultJobQueueSize   = 3

	DefaultCommandRetries      = 3
	DefaultDefinitionCacheSize = 128
	DefaultShutdownTimeout     = 10 * time.Second

	MaxJobLockTTL     = 24 * time.Hour
	MaxJobAcquireWait = time.Hour
	MaxJobMaxJobs     = 1000
	MaxJobWorkers     = 1024
	MaxJobQueueSize   = 100_000

	MaxCommandRetries      = 100
	MaxDefinitionCacheSize = 1_000_000
	MaxShutdownTimeout     = time.Hour
)

var (
	ErrInvalidLockTTL = errors.New("job lock TTL must be positive")
	ErrInvalidWait    = errors.New("job acquire wait must be positive")
	ErrInvalidMaxJobs = errors.New(
		"jobs per acquisition must be positive",
	)
	ErrInvalidWorkers = errors.New("job workers must be positive")
	ErrInvalidRetries = errors.New("command retries must be positive")
	ErrMissingArchive = errors.New("archive URL cannot be empty")
)

// NewDefaultConfig creates a configuration with sensible defaults for
// all node settings, stores, and job executor tuning
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		ArchiveURL: DefaultArchiveURL,
		EngineStore: redisstore.Config{
			Addr:   DefaultRedisEndpoint,
			DB:     DefaultRedisDB,
			Prefix: DefaultRedisPrefix,
		},
		HistoryStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultHistoryPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		Jobs: JobConfig{
			LockTTL:     DefaultJobLockTTL,
			AcquireWait: DefaultJobAcquireWait,
			MaxJobs:     DefaultJobMaxJobs,
			Workers:     DefaultJobWorkers,
			QueueSize:   DefaultJobQueueSize,
		},
		CommandRetries:      DefaultCommandRetries,
		DefinitionCacheSize: DefaultDefinitionCacheSize,
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.HistoryStore, "HISTORY")

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.EngineStore.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.EngineStore.Password = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.EngineStore.Prefix = prefix
	}
	if err := loadEnvInt("REDIS_DB", &c.EngineStore.DB, -1, 15); err != nil {
		return err
	}

	if archiveURL := os.Getenv("ARCHIVE_URL"); archiveURL != "" {
		c.ArchiveURL = archiveURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if err := loadEnvSeconds(
		"JOB_LOCK_TTL", &c.Jobs.LockTTL, MaxJobLockTTL,
	); err != nil {
		return err
	}
	if err := loadEnvSeconds(
		"JOB_ACQUIRE_WAIT", &c.Jobs.AcquireWait, MaxJobAcquireWait,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"JOB_MAX_JOBS", &c.Jobs.MaxJobs, 0, MaxJobMaxJobs,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"JOB_WORKERS", &c.Jobs.Workers, 0, MaxJobWorkers,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"JOB_QUEUE_SIZE", &c.Jobs.QueueSize, -1, MaxJobQueueSize,
	); err != nil {
		return err
	}

	if err := loadEnvInt(
		"COMMAND_RETRIES", &c.CommandRetries, 0, MaxCommandRetries,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"DEFINITION_CACHE_SIZE", &c.DefinitionCacheSize,
		0, MaxDefinitionCacheSize,
	); err != nil {
		return err
	}
	return loadEnvSeconds(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxShutdownTimeout,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Jobs.LockTTL <= 0 {
		return ErrInvalidLockTTL
	}
	if c.Jobs.AcquireWait <= 0 {
		return ErrInvalidWait
	}
	if c.Jobs.MaxJobs <= 0 {
		return ErrInvalidMaxJobs
	}
	if c.Jobs.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.CommandRetries <= 0 {
		return ErrInvalidRetries
	}
	if c.ArchiveURL == "" {
		return ErrMissingArchive
	}
	return nil
}

// LoadStoreConfigFromEnv loads timebox store configuration from
// environment variables with the given prefix (e.g., "HISTORY")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvSeconds reads key as a whole number of seconds
func loadEnvSeconds(key string, dst *time.Duration, max time.Duration) error {
	var secs int64
	if err := loadEnvInt(key, &secs, 0, int64(max/time.Second)); err != nil {
		return err
	}
	if secs == 0 {
		return nil
	}
	*dst = time.Duration(secs) * time.Second
	return nil
}
