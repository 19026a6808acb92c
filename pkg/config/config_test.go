package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/workerpool"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg.Log)
	assert.Greater(t, cfg.WorkerSlots, 0)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NATIVE_FULL_THRESHOLD", "16MB")
	t.Setenv("WORKER_SLOTS", "7")
	t.Setenv("WORKER_MODE", "subprocess")

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 16*1024*1024, cfg.Thresholds.NativeFullThreshold)
	assert.Equal(t, 7, cfg.WorkerSlots)
	assert.Equal(t, workerpool.Subprocess, cfg.WorkerMode)
}

func TestLoadOptionOverridesEnv(t *testing.T) {
	t.Setenv("WORKER_SLOTS", "7")
	cfg, err := Load(WithWorkerSlots(2))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerSlots)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("WORKER_MODE", "not-a-mode")
	_, err := Load()
	assert.Error(t, err)
	os.Unsetenv("WORKER_MODE")
}
