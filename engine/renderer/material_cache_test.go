package renderer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/assets"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

func newTestMaterialCache(t *testing.T) (*MaterialResourceCache, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	return NewMaterialResourceCache(backend, assets.NewTextureRegistry(t.TempDir())), backend
}

func TestGetOrCreateCachesByContentHash(t *testing.T) {
	cache, backend := newTestMaterialCache(t)

	value := metadata.DefaultMaterialValue()
	hash := value.ContentHash()

	first, err := cache.GetOrCreate(&value, hash)
	require.NoError(t, err)
	second, err := cache.GetOrCreate(&value, hash)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
	// First resolution uploads the four fallback textures, nothing more.
	assert.Equal(t, 4, backend.texturesCreated)
}

func TestGetOrCreateFillsParamsAndFallbacks(t *testing.T) {
	cache, _ := newTestMaterialCache(t)

	value := metadata.MaterialValue{
		Albedo:    mgl32.Vec4{0.8, 0.3, 0.2, 1},
		Roughness: 0.4,
		Metallic:  0.1,
		Emissive:  mgl32.Vec3{0, 1, 0},
		Shader:    "pbr",
	}
	state, err := cache.GetOrCreate(&value, value.ContentHash())
	require.NoError(t, err)

	assert.Equal(t, [4]float32{0.8, 0.3, 0.2, 1}, state.Params.Albedo)
	assert.Equal(t, [3]float32{0, 1, 0}, state.Params.Emissive)
	assert.Equal(t, float32(0.4), state.Params.Roughness)
	assert.Equal(t, float32(0.1), state.Params.Metallic)
	assert.False(t, state.Blended)

	assert.True(t, state.AlbedoMap.Valid())
	assert.True(t, state.NormalMap.Valid())
	assert.True(t, state.MetallicRoughnessMap.Valid())
	assert.True(t, state.EmissiveMap.Valid())
}

func TestProgramVariantsGetStableDistinctIDs(t *testing.T) {
	cache, backend := newTestMaterialCache(t)

	pbr := metadata.DefaultMaterialValue()
	unlit := metadata.DefaultMaterialValue()
	unlit.Shading = metadata.ShadingModelUnlit
	glass := metadata.DefaultMaterialValue()
	glass.Blend = metadata.BlendModeAlphaBlend

	pbrState, err := cache.GetOrCreate(&pbr, pbr.ContentHash())
	require.NoError(t, err)
	unlitState, err := cache.GetOrCreate(&unlit, unlit.ContentHash())
	require.NoError(t, err)
	glassState, err := cache.GetOrCreate(&glass, glass.ContentHash())
	require.NoError(t, err)

	assert.Equal(t, uint32(1), pbrState.ProgramID)
	assert.Equal(t, uint32(2), unlitState.ProgramID)
	assert.Equal(t, uint32(3), glassState.ProgramID)
	assert.True(t, glassState.Blended)
	assert.Len(t, backend.programs, 3)

	// A different value with the same variant reuses the compiled program.
	unlit2 := unlit
	unlit2.Albedo = mgl32.Vec4{0, 0, 0, 1}
	unlit2State, err := cache.GetOrCreate(&unlit2, unlit2.ContentHash())
	require.NoError(t, err)
	assert.NotSame(t, unlitState, unlit2State)
	assert.Equal(t, unlitState.ProgramID, unlit2State.ProgramID)
	assert.Equal(t, unlitState.Program, unlit2State.Program)
	assert.Len(t, backend.programs, 3)
}

func TestShaderNameResolution(t *testing.T) {
	assert.Equal(t, "shaders/pbr", shaderSource(""))
	assert.Equal(t, "shaders/pbr", shaderSource("pbr"))
	assert.Equal(t, "shaders/toon", shaderSource("toon"))
	assert.Equal(t, "custom/water.hlsl", shaderSource("custom/water.hlsl"))
}

func TestGetOrCreateFailsWhenProgramFails(t *testing.T) {
	cache, backend := newTestMaterialCache(t)
	backend.failPrograms = true

	value := metadata.DefaultMaterialValue()
	_, err := cache.GetOrCreate(&value, value.ContentHash())
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestInvalidateAllRebuildsEverything(t *testing.T) {
	cache, backend := newTestMaterialCache(t)

	value := metadata.DefaultMaterialValue()
	state, err := cache.GetOrCreate(&value, value.ContentHash())
	require.NoError(t, err)
	require.True(t, state.AlbedoMap.Valid())

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())

	rebuilt, err := cache.GetOrCreate(&value, value.ContentHash())
	require.NoError(t, err)
	assert.NotSame(t, state, rebuilt)
	assert.True(t, rebuilt.AlbedoMap.Valid())
	// Textures were re-uploaded after the handles were dropped.
	assert.Equal(t, 8, backend.texturesCreated)
}
