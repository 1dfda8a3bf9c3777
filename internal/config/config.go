package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig carries every tunable of the orchestrator. All retry bounds and
// timeouts live here so the turn coordinator never hard-codes policy.
type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	StockfishPath string
	VisionBaseURL string
	RobotBaseURL  string

	HTTPListenAddr string

	// Human-move detection.
	DetectTimeout       time.Duration
	DetectMaxAttempts   int
	ConfidenceThreshold float64

	// Engine move computation.
	DefaultDifficulty  int
	MinDifficulty      int
	ComputeMaxAttempts int

	// Robot execution.
	ExecTimeout     time.Duration
	ExecMaxAttempts int

	// Lifecycle sweeping.
	StaleGameTimeout time.Duration
	ArchiveGrace     time.Duration
	SweepInterval    time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPListenAddr:      ":8090",
		DetectTimeout:       10 * time.Second,
		DetectMaxAttempts:   3,
		ConfidenceThreshold: 0.5,
		DefaultDifficulty:   3,
		MinDifficulty:       1,
		ComputeMaxAttempts:  3,
		ExecTimeout:         30 * time.Second,
		ExecMaxAttempts:     3,
		StaleGameTimeout:    5 * time.Minute,
		ArchiveGrace:        time.Hour,
		SweepInterval:       time.Minute,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	cfg.VisionBaseURL = strings.TrimSpace(os.Getenv("VISION_BASE_URL"))
	cfg.RobotBaseURL = strings.TrimSpace(os.Getenv("ROBOT_BASE_URL"))

	if v := strings.TrimSpace(os.Getenv("HTTP_LISTEN_ADDR")); v != "" {
		cfg.HTTPListenAddr = v
	}

	var err error
	if cfg.DetectTimeout, err = durationEnv("DETECT_TIMEOUT", cfg.DetectTimeout); err != nil {
		return nil, err
	}
	if cfg.ExecTimeout, err = durationEnv("EXEC_TIMEOUT", cfg.ExecTimeout); err != nil {
		return nil, err
	}
	if cfg.StaleGameTimeout, err = durationEnv("STALE_GAME_TIMEOUT", cfg.StaleGameTimeout); err != nil {
		return nil, err
	}
	if cfg.ArchiveGrace, err = durationEnv("ARCHIVE_GRACE", cfg.ArchiveGrace); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("DETECT_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DetectMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EXEC_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ExecMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("COMPUTE_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ComputeMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONFIDENCE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.ConfidenceThreshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_DIFFICULTY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 10 {
			cfg.DefaultDifficulty = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}
	if cfg.VisionBaseURL == "" {
		return nil, errors.New("VISION_BASE_URL is required")
	}
	if cfg.RobotBaseURL == "" {
		return nil, errors.New("ROBOT_BASE_URL is required")
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
