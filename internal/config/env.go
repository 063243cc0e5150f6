// Package config provides centralized configuration management.
// All CONVERGE_* environment handling lives here.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ConvergeEnv holds all Converge environment variables.
type ConvergeEnv struct {
	// DBPath is the SQLite task database path (CONVERGE_DB_PATH)
	DBPath string

	// OutputDir is the base directory for run artifacts (CONVERGE_OUTPUT_DIR)
	OutputDir string

	// WorkerID identifies this worker instance (CONVERGE_WORKER_ID)
	WorkerID string

	// PollInterval is the queue polling interval (CONVERGE_POLL_INTERVAL)
	PollInterval time.Duration

	// BatchSize is the claim batch size per poll cycle (CONVERGE_BATCH_SIZE)
	BatchSize int

	// MaxAttempts bounds task-level retries (CONVERGE_MAX_ATTEMPTS)
	MaxAttempts int

	// LeaseTimeout is the stale-claim requeue threshold (CONVERGE_LEASE_TIMEOUT)
	LeaseTimeout time.Duration

	// HilMode selects conditional or interrupt escalation (CONVERGE_HIL_MODE)
	HilMode string

	// AgentProvider is the default planning capability (CONVERGE_CODING_AGENT)
	AgentProvider string

	// NoLLM forces heuristic capabilities only (CONVERGE_NO_LLM)
	NoLLM bool

	// ServerAddr is the HTTP API listen address (CONVERGE_SERVER_ADDR)
	ServerAddr string
}

var (
	env     *ConvergeEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *ConvergeEnv {
	envOnce.Do(func() {
		// Best effort: a missing .env file is not an error.
		godotenv.Load(GetPaths().EnvFile)
		godotenv.Load()

		env = &ConvergeEnv{
			DBPath:        getEnvDefault("CONVERGE_DB_PATH", filepath.Join(GetPaths().Data, "converge.db")),
			OutputDir:     getEnvDefault("CONVERGE_OUTPUT_DIR", GetPaths().Runs),
			WorkerID:      os.Getenv("CONVERGE_WORKER_ID"),
			PollInterval:  getEnvDuration("CONVERGE_POLL_INTERVAL", 5*time.Second),
			BatchSize:     getEnvInt("CONVERGE_BATCH_SIZE", 1),
			MaxAttempts:   getEnvInt("CONVERGE_MAX_ATTEMPTS", 3),
			LeaseTimeout:  getEnvDuration("CONVERGE_LEASE_TIMEOUT", 15*time.Minute),
			HilMode:       getEnvDefault("CONVERGE_HIL_MODE", "conditional"),
			AgentProvider: getEnvDefault("CONVERGE_CODING_AGENT", "heuristic"),
			NoLLM:         os.Getenv("CONVERGE_NO_LLM") == "true",
			ServerAddr:    getEnvDefault("CONVERGE_SERVER_ADDR", "127.0.0.1:8787"),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// Paths holds standard Converge directory paths.
type Paths struct {
	// Home is the Converge home directory (~/.converge)
	Home string

	// Data is the data directory (~/.converge/data)
	Data string

	// Runs is the run artifacts directory (~/.converge/runs)
	Runs string

	// EnvFile is the .env file path (~/.converge/.env)
	EnvFile string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		convergeHome := filepath.Join(home, ".converge")

		paths = &Paths{
			Home:    convergeHome,
			Data:    filepath.Join(convergeHome, "data"),
			Runs:    filepath.Join(convergeHome, "runs"),
			EnvFile: filepath.Join(convergeHome, ".env"),
		}
	})
	return paths
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// IsWorker returns true if this process runs as a worker instance.
func IsWorker() bool {
	return Env().WorkerID != ""
}
