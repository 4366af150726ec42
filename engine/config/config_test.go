package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSettingsClamping(t *testing.T) {
	s := DefaultRenderSettings()
	s.ShadowMapSize = 100000
	s.CascadeCount = 9
	s.CascadeLambda = -2
	s.Exposure = 0
	s.ShadowStrength = 5
	s.Sanitize()

	assert.Equal(t, uint32(MaxShadowMapSize), s.ShadowMapSize)
	assert.Equal(t, uint32(MaxCascades), s.CascadeCount)
	assert.Equal(t, float32(0), s.CascadeLambda)
	assert.Equal(t, float32(0.01), s.Exposure)
	assert.Equal(t, float32(1), s.ShadowStrength)
}

func TestRenderSettingsClampLow(t *testing.T) {
	s := DefaultRenderSettings()
	s.ShadowMapSize = 1
	s.CascadeCount = 0
	s.Sanitize()

	assert.Equal(t, uint32(MinShadowMapSize), s.ShadowMapSize)
	assert.Equal(t, uint32(1), s.CascadeCount)
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	render, threads := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Equal(t, DefaultRenderSettings(), render)
	assert.Equal(t, DefaultThreadConfig(), threads)
}

func TestLoadFileParsesAndClamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crown.toml")
	body := `
[render]
enable_ssao = true
shadow_map_size = 9999
cascade_count = 2
cascade_lambda = 0.7

[threads]
render_prepare_worker_threads = 3
render_recording_contexts = 16
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	render, threads := LoadFile(path)
	assert.True(t, render.EnableSSAO)
	assert.Equal(t, uint32(MaxShadowMapSize), render.ShadowMapSize)
	assert.Equal(t, uint32(2), render.CascadeCount)
	assert.InDelta(t, 0.7, float64(render.CascadeLambda), 1e-6)

	// Prep worker is a single thread at most; contexts cap at 4.
	assert.Equal(t, uint32(1), threads.RenderPrepareWorkerThreads)
	assert.Equal(t, uint32(4), threads.RenderRecordingContexts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CROWN_THREADS_RENDER_SHADOWS", "3")
	t.Setenv("CROWN_THREADS_RENDER_PREPARE", "0")

	_, threads := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Equal(t, uint32(3), threads.RenderShadowRecordThreads)
	assert.Equal(t, uint32(0), threads.RenderPrepareWorkerThreads)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("CROWN_THREADS_MAX", "lots")

	_, threads := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Equal(t, uint32(0), threads.MaxThreads)
}
