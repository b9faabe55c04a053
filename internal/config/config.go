package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	StoreBackend  string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	KafkaBrokers []string
	RedisAddr    string

	SweepInterval        time.Duration
	SweepPendingAge      time.Duration
	FailedStatusAttempts int
}

// Load reads .env when present, then the environment. Variables already set
// in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.LookupEnv)
}

func fromEnv(lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, fallback string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return fallback
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "spendflow"),
		KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", "")),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
	}

	var errs []error
	var err error
	if cfg.SweepInterval, err = parseDuration("SWEEP_INTERVAL", getEnv("SWEEP_INTERVAL", "30s")); err != nil {
		errs = append(errs, err)
	}
	if cfg.SweepPendingAge, err = parseDuration("SWEEP_PENDING_AGE", getEnv("SWEEP_PENDING_AGE", "2m")); err != nil {
		errs = append(errs, err)
	}
	if cfg.FailedStatusAttempts, err = strconv.Atoi(getEnv("FAILED_STATUS_ATTEMPTS", "3")); err != nil {
		errs = append(errs, fmt.Errorf("FAILED_STATUS_ATTEMPTS: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, postgres, mongo", c.StoreBackend))
	}

	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepPendingAge <= 0 {
		errs = append(errs, errors.New("SWEEP_PENDING_AGE must be positive"))
	}
	if c.FailedStatusAttempts < 1 {
		errs = append(errs, errors.New("FAILED_STATUS_ATTEMPTS must be at least 1"))
	}

	return errors.Join(errs...)
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
