package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

func writeMaterial(t *testing.T, dir, name, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name+MaterialFileExtension), []byte(content), 0o644)
	require.NoError(t, err)
}

func TestParseMaterialFile(t *testing.T) {
	dir := t.TempDir()
	writeMaterial(t, dir, "rock", `
# rock material
shader pbr
blend opaque
albedo 0.5 0.4 0.3 1.0
roughness 0.8
metallic 0.1
emissive 0 0 0
tex_albedo rock_albedo.png   # trailing comment
tex_normal rock_n.png
scalar rim_power 2.5
`)

	m, err := ParseMaterialFile(filepath.Join(dir, "rock.mat"))
	require.NoError(t, err)

	assert.Equal(t, "pbr", m.Shader)
	assert.Equal(t, metadata.BlendModeOpaque, m.Blend)
	assert.Equal(t, metadata.ShadingModelPbr, m.Shading)
	assert.InDelta(t, 0.5, m.Albedo.X(), 1e-6)
	assert.InDelta(t, 0.8, m.Roughness, 1e-6)
	assert.Equal(t, "rock_albedo.png", m.Textures.Albedo)
	assert.Equal(t, "rock_n.png", m.Textures.Normal)
	assert.InDelta(t, 2.5, m.Scalars["rim_power"], 1e-6)
}

func TestParseMaterialDerivesShadingFromShaderName(t *testing.T) {
	dir := t.TempDir()
	writeMaterial(t, dir, "sky", "shader unlit_sky\n")
	writeMaterial(t, dir, "glow", "shader rim_highlight\n")
	writeMaterial(t, dir, "custom", "shader shaders/custom_unlit.hlsl\n")

	m, err := ParseMaterialFile(filepath.Join(dir, "sky.mat"))
	require.NoError(t, err)
	assert.Equal(t, metadata.ShadingModelUnlit, m.Shading)

	m, err = ParseMaterialFile(filepath.Join(dir, "glow.mat"))
	require.NoError(t, err)
	assert.Equal(t, metadata.ShadingModelRimGlow, m.Shading)

	// Path-like shader names keep the default model.
	m, err = ParseMaterialFile(filepath.Join(dir, "custom.mat"))
	require.NoError(t, err)
	assert.Equal(t, metadata.ShadingModelPbr, m.Shading)
}

func TestParseMaterialExplicitShadingWins(t *testing.T) {
	dir := t.TempDir()
	writeMaterial(t, dir, "m", "shader unlit_sky\nshading pbr\n")

	m, err := ParseMaterialFile(filepath.Join(dir, "m.mat"))
	require.NoError(t, err)
	assert.Equal(t, metadata.ShadingModelPbr, m.Shading)
}

func TestParseMaterialIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeMaterial(t, dir, "m", "frobnicate yes\nroughness 0.25\n")

	m, err := ParseMaterialFile(filepath.Join(dir, "m.mat"))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, m.Roughness, 1e-6)
}

func TestRegistryFallsBackToDefault(t *testing.T) {
	r := NewMaterialRegistry(t.TempDir())

	m := r.Get("does-not-exist")
	def := metadata.DefaultMaterialValue()
	assert.Equal(t, def.ContentHash(), m.ContentHash())

	// Cached: second lookup returns the same value.
	assert.Same(t, m, r.Get("does-not-exist"))
}

func TestRegistryReloadPublishesNewValue(t *testing.T) {
	dir := t.TempDir()
	writeMaterial(t, dir, "m", "roughness 0.2\n")

	r := NewMaterialRegistry(dir)
	old := r.Get("m")
	assert.InDelta(t, 0.2, old.Roughness, 1e-6)
	v0 := r.Version()

	writeMaterial(t, dir, "m", "roughness 0.9\n")
	require.NoError(t, r.Reload("m"))

	// The old value stays untouched; re-resolving picks up the reload.
	assert.InDelta(t, 0.2, old.Roughness, 1e-6)
	fresh := r.Get("m")
	assert.NotSame(t, old, fresh)
	assert.InDelta(t, 0.9, fresh.Roughness, 1e-6)
	assert.Greater(t, r.Version(), v0)
}

func TestRegistryReloadConcurrentWithReaders(t *testing.T) {
	dir := t.TempDir()
	writeMaterial(t, dir, "m", "roughness 0.2\n")
	r := NewMaterialRegistry(dir)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.Get("m").ContentHash()
		}
	}()

	writeMaterial(t, dir, "m", "roughness 0.9\n")
	for i := 0; i < 200; i++ {
		require.NoError(t, r.Reload("m"))
	}
	<-done
}
