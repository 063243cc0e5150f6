package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnv(t *testing.T) {
	// Reset env for clean test
	ResetEnv()

	// Set test environment
	os.Setenv("CONVERGE_DB_PATH", "/tmp/test-converge.db")
	os.Setenv("CONVERGE_WORKER_ID", "worker-1")
	os.Setenv("CONVERGE_POLL_INTERVAL", "250ms")
	os.Setenv("CONVERGE_BATCH_SIZE", "4")
	os.Setenv("CONVERGE_HIL_MODE", "interrupt")
	os.Setenv("CONVERGE_NO_LLM", "true")
	defer func() {
		os.Unsetenv("CONVERGE_DB_PATH")
		os.Unsetenv("CONVERGE_WORKER_ID")
		os.Unsetenv("CONVERGE_POLL_INTERVAL")
		os.Unsetenv("CONVERGE_BATCH_SIZE")
		os.Unsetenv("CONVERGE_HIL_MODE")
		os.Unsetenv("CONVERGE_NO_LLM")
		ResetEnv()
	}()

	env := Env()

	assert.Equal(t, "/tmp/test-converge.db", env.DBPath)
	assert.Equal(t, "worker-1", env.WorkerID)
	assert.Equal(t, 250*time.Millisecond, env.PollInterval)
	assert.Equal(t, 4, env.BatchSize)
	assert.Equal(t, "interrupt", env.HilMode)
	assert.True(t, env.NoLLM)
}

func TestEnvDefaults(t *testing.T) {
	ResetEnv()

	// Clear environment
	os.Unsetenv("CONVERGE_POLL_INTERVAL")
	os.Unsetenv("CONVERGE_BATCH_SIZE")
	os.Unsetenv("CONVERGE_MAX_ATTEMPTS")
	os.Unsetenv("CONVERGE_LEASE_TIMEOUT")
	os.Unsetenv("CONVERGE_HIL_MODE")
	os.Unsetenv("CONVERGE_CODING_AGENT")
	os.Unsetenv("CONVERGE_SERVER_ADDR")
	defer ResetEnv()

	env := Env()

	// Check defaults
	assert.Equal(t, 5*time.Second, env.PollInterval)
	assert.Equal(t, 1, env.BatchSize)
	assert.Equal(t, 3, env.MaxAttempts)
	assert.Equal(t, 15*time.Minute, env.LeaseTimeout)
	assert.Equal(t, "conditional", env.HilMode)
	assert.Equal(t, "heuristic", env.AgentProvider)
	assert.Equal(t, "127.0.0.1:8787", env.ServerAddr)
}

func TestEnvIgnoresMalformedValues(t *testing.T) {
	ResetEnv()

	os.Setenv("CONVERGE_BATCH_SIZE", "not-a-number")
	os.Setenv("CONVERGE_MAX_ATTEMPTS", "-3")
	os.Setenv("CONVERGE_LEASE_TIMEOUT", "soon")
	defer func() {
		os.Unsetenv("CONVERGE_BATCH_SIZE")
		os.Unsetenv("CONVERGE_MAX_ATTEMPTS")
		os.Unsetenv("CONVERGE_LEASE_TIMEOUT")
		ResetEnv()
	}()

	env := Env()

	assert.Equal(t, 1, env.BatchSize)
	assert.Equal(t, 3, env.MaxAttempts)
	assert.Equal(t, 15*time.Minute, env.LeaseTimeout)
}

func TestEnvSingleton(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	env1 := Env()
	env2 := Env()

	// Should return same instance
	assert.Same(t, env1, env2)
}

func TestResetEnv(t *testing.T) {
	ResetEnv()
	os.Setenv("CONVERGE_HIL_MODE", "interrupt")
	env1 := Env()
	assert.Equal(t, "interrupt", env1.HilMode)

	os.Setenv("CONVERGE_HIL_MODE", "conditional")
	ResetEnv()

	env2 := Env()
	assert.Equal(t, "conditional", env2.HilMode)

	// Cleanup
	os.Unsetenv("CONVERGE_HIL_MODE")
	ResetEnv()
}

func TestGetPaths(t *testing.T) {
	paths := GetPaths()

	assert.Contains(t, paths.Home, ".converge")
	assert.Equal(t, filepath.Join(paths.Home, "data"), paths.Data)
	assert.Equal(t, filepath.Join(paths.Home, "runs"), paths.Runs)
	assert.Equal(t, filepath.Join(paths.Home, ".env"), paths.EnvFile)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "deep")

	assert.NoError(t, EnsureDir(dir))
	assert.DirExists(t, dir)

	// Idempotent on an existing directory.
	assert.NoError(t, EnsureDir(dir))
}

func TestIsWorker(t *testing.T) {
	ResetEnv()
	os.Unsetenv("CONVERGE_WORKER_ID")
	assert.False(t, IsWorker())

	ResetEnv()
	os.Setenv("CONVERGE_WORKER_ID", "worker-7")
	defer func() {
		os.Unsetenv("CONVERGE_WORKER_ID")
		ResetEnv()
	}()
	assert.True(t, IsWorker())
}
