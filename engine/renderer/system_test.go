package renderer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/assets"
	"github.com/crown3d/crown/engine/config"
	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

func newTestSystem(t *testing.T, backend *fakeBackend, settings config.RenderSettings) *RenderSystem {
	t.Helper()
	threads := config.ThreadConfig{
		RenderPrepareWorkerThreads: 0,
		RenderRecordingContexts:    1,
	}
	dir := t.TempDir()
	sys := NewRenderSystem(backend, settings, threads,
		assets.NewMaterialRegistry(dir), assets.NewTextureRegistry(dir))
	t.Cleanup(sys.Shutdown)
	return sys
}

func testScene() *scene.Scene {
	sc := scene.New()
	sc.Camera.Position = mgl32.Vec3{0, 4, -10}
	sc.Camera.Target = mgl32.Vec3{0, 0, 0}
	sc.AddLight(scene.DefaultSun())

	cube := scene.GenerateCube("cube", 2)
	for i := 0; i < 3; i++ {
		e := sc.NewEntity("cube", cube)
		e.Transform.Position = mgl32.Vec3{float32(i-1) * 3, 1, 0}
	}
	return sc
}

func TestDrawFramePassSequence(t *testing.T) {
	backend := newFakeBackend()
	sys := newTestSystem(t, backend, config.DefaultRenderSettings())

	require.NoError(t, sys.DrawFrame(testScene(), 0.016))

	assert.Equal(t, 1, backend.beginFrames)
	assert.Equal(t, 1, backend.endFrames)
	assert.Equal(t, int(sys.Settings().CascadeCount), backend.passCount(metadata.PassShadow))
	assert.Equal(t, 1, backend.passCount(metadata.PassGeometry))
	assert.Equal(t, 1, backend.passCount(metadata.PassTonemap))
	assert.Zero(t, backend.passCount(metadata.PassSSAO))
	assert.Zero(t, backend.passCount(metadata.PassDepthPrepass))

	// Geometry and casters went up in a single instance write.
	assert.Len(t, backend.writes, 1)
	assert.NotEmpty(t, backend.draws)

	fc := backend.lastConstants
	assert.Equal(t, sys.Settings().ShadowStrength, fc.ShadowStrength)
	assert.Equal(t, sys.Settings().ShadowBias, fc.ShadowBias)
	assert.Equal(t, sys.Settings().ShadowSoftness, fc.ShadowSoftness)
	assert.NotEqual(t, mgl32.Ident4(), fc.CascadeViewProj[0])
	assert.Equal(t, float32(1.0), fc.CascadeSplitsNdc[2])
	assert.Equal(t, uint32(1), fc.LightCount)
	require.Len(t, backend.lastLights, 1)
	assert.Equal(t, metadata.LightTypeDirectional, backend.lastLights[0].Type)
}

func TestDrawFrameShadowsDisabled(t *testing.T) {
	settings := config.DefaultRenderSettings()
	settings.EnableShadows = false

	backend := newFakeBackend()
	sys := newTestSystem(t, backend, settings)

	require.NoError(t, sys.DrawFrame(testScene(), 0.016))
	assert.Zero(t, backend.passCount(metadata.PassShadow))
	assert.Equal(t, 1, backend.passCount(metadata.PassGeometry))
	// The shader sees zero strength and skips shadow sampling entirely.
	assert.Zero(t, backend.lastConstants.ShadowStrength)
	assert.Zero(t, backend.lastConstants.ShadowSoftness)
}

func TestDrawFrameSkipsShadowsForNonCastingSun(t *testing.T) {
	backend := newFakeBackend()
	sys := newTestSystem(t, backend, config.DefaultRenderSettings())

	sc := testScene()
	sc.Lights[0].CastsShadows = false

	require.NoError(t, sys.DrawFrame(sc, 0.016))
	assert.Zero(t, backend.passCount(metadata.PassShadow))
	assert.Equal(t, 1, backend.passCount(metadata.PassGeometry))
	assert.Zero(t, backend.lastConstants.ShadowStrength)
}

func TestDrawFrameDegradesWhenShadowTargetsUnavailable(t *testing.T) {
	backend := newFakeBackend()
	backend.shadowTargetsOK = false
	sys := newTestSystem(t, backend, config.DefaultRenderSettings())

	require.NoError(t, sys.DrawFrame(testScene(), 0.016))
	assert.Zero(t, backend.passCount(metadata.PassShadow))
	assert.Equal(t, 1, backend.passCount(metadata.PassGeometry))
}

func TestDrawFrameOptionalPasses(t *testing.T) {
	settings := config.DefaultRenderSettings()
	settings.EnableSSAO = true
	settings.EnableDepthPrepass = true

	backend := newFakeBackend()
	sys := newTestSystem(t, backend, settings)

	require.NoError(t, sys.DrawFrame(testScene(), 0.016))
	assert.Equal(t, 1, backend.passCount(metadata.PassDepthPrepass))
	assert.Equal(t, 1, backend.passCount(metadata.PassSSAO))
	assert.Equal(t, 1, backend.passCount(metadata.PassTonemap))
}

func TestDrawFrameEmptyScene(t *testing.T) {
	backend := newFakeBackend()
	sys := newTestSystem(t, backend, config.DefaultRenderSettings())

	sc := scene.New()
	require.NoError(t, sys.DrawFrame(sc, 0.016))

	assert.Empty(t, backend.draws)
	assert.Empty(t, backend.writes)
	assert.Equal(t, 1, backend.beginFrames)
	assert.Equal(t, 1, backend.endFrames)
}

func TestDrawFrameRecoversAfterDeviceLoss(t *testing.T) {
	backend := newFakeBackend()
	sys := newTestSystem(t, backend, config.DefaultRenderSettings())

	sc := testScene()
	require.NoError(t, sys.DrawFrame(sc, 0.016))
	uploaded := backend.texturesCreated
	require.NotZero(t, uploaded)

	sys.OnDeviceLost()
	require.NoError(t, sys.DrawFrame(sc, 0.016))

	assert.Greater(t, backend.texturesCreated, uploaded)
	assert.NotEmpty(t, backend.draws)
}

func TestDrawFrameShadowRecordingParallelMatchesSequential(t *testing.T) {
	// Distinct meshes so every cascade carries several batches to chunk.
	buildScene := func() *scene.Scene {
		sc := scene.New()
		sc.Camera.Position = mgl32.Vec3{0, 4, -10}
		sc.Camera.Target = mgl32.Vec3{0, 0, 0}
		sc.AddLight(scene.DefaultSun())
		for i := 0; i < 6; i++ {
			mesh := scene.GenerateCube(fmt.Sprintf("cube-%d", i), 1)
			e := sc.NewEntity("cube", mesh)
			e.Transform.Position = mgl32.Vec3{float32(i-3) * 2, 1, 0}
		}
		return sc
	}

	run := func(workers uint32) []fakeDraw {
		backend := newFakeBackend()
		threads := config.ThreadConfig{
			RenderRecordingContexts:   1,
			RenderShadowRecordThreads: workers,
		}
		dir := t.TempDir()
		sys := NewRenderSystem(backend, config.DefaultRenderSettings(), threads,
			assets.NewMaterialRegistry(dir), assets.NewTextureRegistry(dir))
		t.Cleanup(sys.Shutdown)
		require.NoError(t, sys.DrawFrame(buildScene(), 0.016))
		return backend.draws
	}

	sequential := run(1)
	require.NotEmpty(t, sequential)
	assert.Equal(t, sequential, run(4))
}

func TestDrawFramePicksUpMaterialReload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cube.mat"), []byte("roughness 0.2\n"), 0o644))

	backend := newFakeBackend()
	materials := assets.NewMaterialRegistry(dir)
	threads := config.ThreadConfig{RenderRecordingContexts: 1}
	sys := NewRenderSystem(backend, config.DefaultRenderSettings(), threads,
		materials, assets.NewTextureRegistry(dir))
	t.Cleanup(sys.Shutdown)

	sc := testScene()
	for _, e := range sc.Entities() {
		e.Material = "cube"
	}

	require.NoError(t, sys.DrawFrame(sc, 0.016))
	uploaded := backend.texturesCreated
	require.NotZero(t, uploaded)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cube.mat"), []byte("roughness 0.9\n"), 0o644))
	require.NoError(t, materials.Reload("cube"))

	// The version bump invalidates GPU material state, which rebuilds.
	require.NoError(t, sys.DrawFrame(sc, 0.016))
	assert.Greater(t, backend.texturesCreated, uploaded)
	assert.NotEmpty(t, backend.draws)
}

func TestDrawFrameWithPrepWorkerWarmsUp(t *testing.T) {
	backend := newFakeBackend()
	threads := config.ThreadConfig{
		RenderPrepareWorkerThreads: 1,
		RenderRecordingContexts:    1,
	}
	dir := t.TempDir()
	sys := NewRenderSystem(backend, config.DefaultRenderSettings(), threads,
		assets.NewMaterialRegistry(dir), assets.NewTextureRegistry(dir))
	defer sys.Shutdown()

	sc := testScene()
	// The first frame builds synchronously while the worker warms up; later
	// frames consume the async result. Both paths must produce draws.
	for i := 0; i < 5; i++ {
		require.NoError(t, sys.DrawFrame(sc, 0.016))
	}
	assert.NotEmpty(t, backend.draws)
	assert.Equal(t, 5, backend.endFrames)
}
