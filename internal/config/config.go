package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/efreitasn/exchangecore/internal/engine"
)

// Config holds all runtime configuration for the exchange core.
type Config struct {
	Port     int
	LogLevel string

	RiskShards     int
	MatchingShards int
	BucketImpl     engine.BucketImpl
	L2Depth        int

	// DataDir is the pebble directory for snapshots. Empty keeps snapshots
	// in memory.
	DataDir            string
	BootstrapFile      string
	SnapshotOnShutdown bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	riskShards, err := getInt("RISK_SHARDS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid RISK_SHARDS: %w", err)
	}
	if !isPowerOfTwo(riskShards) {
		return nil, fmt.Errorf("invalid RISK_SHARDS: %d, must be a power of two", riskShards)
	}

	matchingShards, err := getInt("MATCHING_SHARDS", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid MATCHING_SHARDS: %w", err)
	}
	if !isPowerOfTwo(matchingShards) {
		return nil, fmt.Errorf("invalid MATCHING_SHARDS: %d, must be a power of two", matchingShards)
	}

	bucketImpl, err := engine.ParseBucketImpl(getStr("BUCKET_IMPL", "fast"))
	if err != nil {
		return nil, fmt.Errorf("invalid BUCKET_IMPL: %w", err)
	}

	l2Depth, err := getInt("L2_DEPTH", 8)
	if err != nil {
		return nil, fmt.Errorf("invalid L2_DEPTH: %w", err)
	}
	if l2Depth < 0 {
		return nil, fmt.Errorf("invalid L2_DEPTH: %d, must not be negative", l2Depth)
	}

	snapshotOnShutdown, err := getBool("SNAPSHOT_ON_SHUTDOWN", true)
	if err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_ON_SHUTDOWN: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:               port,
		LogLevel:           logLevel,
		RiskShards:         riskShards,
		MatchingShards:     matchingShards,
		BucketImpl:         bucketImpl,
		L2Depth:            l2Depth,
		DataDir:            lookupStr("DATA_DIR", "./data"),
		BootstrapFile:      getStr("BOOTSTRAP_FILE", ""),
		SnapshotOnShutdown: snapshotOnShutdown,
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		IdleTimeout:        idleTimeout,
		ShutdownTimeout:    shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

// lookupStr is getStr where an explicitly empty value is kept.
func lookupStr(key, defaultVal string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
