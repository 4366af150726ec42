package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/crown3d/crown/engine/core"
)

// ThreadConfig controls how much concurrency each subsystem is allowed to
// use. 0 means single-threaded for that subsystem.
type ThreadConfig struct {
	// CPU frame prep worker (BuildPreparedFrame off-thread). 0 disables
	// the worker, 1 enables it; higher values are treated as 1.
	RenderPrepareWorkerThreads uint32 `toml:"render_prepare_worker_threads"`

	// Recording contexts used for the shadow cascade passes. 0/1 = record
	// on the frame thread; capped at 4.
	RenderShadowRecordThreads uint32 `toml:"render_shadow_record_threads"`

	// Number of parallel recording contexts for the geometry pass.
	// 0/1 = record on the frame thread; capped at 4.
	RenderRecordingContexts uint32 `toml:"render_recording_contexts"`

	// Optional global clamp. 0 = no clamp.
	MaxThreads uint32 `toml:"max_threads"`
}

func DefaultThreadConfig() ThreadConfig {
	return ThreadConfig{
		RenderPrepareWorkerThreads: 1,
		RenderShadowRecordThreads:  0,
		RenderRecordingContexts:    0,
		MaxThreads:                 0,
	}
}

// fileConfig is the on-disk shape of crown.toml.
type fileConfig struct {
	Render  RenderSettings `toml:"render"`
	Threads ThreadConfig   `toml:"threads"`
}

// Load reads crown.toml (preferring the directory of the executable, then
// the working directory), applies CROWN_THREADS_* environment overrides and
// clamps everything. A missing file is not an error: defaults apply.
func Load() (RenderSettings, ThreadConfig) {
	return LoadFile("crown.toml")
}

// LoadFile is Load with an explicit file name, for tests.
func LoadFile(name string) (RenderSettings, ThreadConfig) {
	cfg := fileConfig{
		Render:  DefaultRenderSettings(),
		Threads: DefaultThreadConfig(),
	}

	if path, ok := findConfigFile(name); ok {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				core.LogWarn("config: failed to parse %s: %s; using defaults", path, err.Error())
				cfg.Render = DefaultRenderSettings()
				cfg.Threads = DefaultThreadConfig()
			}
		}
	}

	applyEnvOverrides(&cfg.Threads)

	cfg.Render.Sanitize()
	cfg.Threads.sanitize()
	return cfg.Render, cfg.Threads
}

func findConfigFile(name string) (string, bool) {
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	if _, err := os.Stat(name); err == nil {
		return name, true
	}
	return "", false
}

func applyEnvOverrides(tc *ThreadConfig) {
	overrideU32(&tc.MaxThreads, "CROWN_THREADS_MAX")
	overrideU32(&tc.RenderPrepareWorkerThreads, "CROWN_THREADS_RENDER_PREPARE")
	overrideU32(&tc.RenderShadowRecordThreads, "CROWN_THREADS_RENDER_SHADOWS")
	overrideU32(&tc.RenderRecordingContexts, "CROWN_THREADS_RENDER_CONTEXTS")
}

func overrideU32(dst *uint32, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		core.LogWarn("config: ignoring %s=%q: %s", key, v, err.Error())
		return
	}
	*dst = uint32(n)
}

func (tc *ThreadConfig) sanitize() {
	if tc.RenderPrepareWorkerThreads > 1 {
		tc.RenderPrepareWorkerThreads = 1
	}
	if tc.RenderShadowRecordThreads > 4 {
		tc.RenderShadowRecordThreads = 4
	}
	if tc.RenderRecordingContexts > 4 {
		tc.RenderRecordingContexts = 4
	}
	if tc.MaxThreads > 0 {
		tc.RenderShadowRecordThreads = clamp(tc.RenderShadowRecordThreads, 0, tc.MaxThreads)
		tc.RenderRecordingContexts = clamp(tc.RenderRecordingContexts, 0, tc.MaxThreads)
	}
}
