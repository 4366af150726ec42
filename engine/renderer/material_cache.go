package renderer

import (
	"fmt"
	"strings"

	"github.com/crown3d/crown/engine/assets"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

type programEntry struct {
	handle metadata.ProgramHandle
	id     uint32
}

// MaterialResourceCache resolves material values to GPU state: the compiled
// program variant, uploaded textures and the parameter block. Entries are
// keyed by the material's content hash and live until device loss; the cache
// is never partially evicted.
type MaterialResourceCache struct {
	backend  Backend
	textures *assets.TextureRegistry

	states        map[uint64]*metadata.MaterialGpuState
	programs      map[string]programEntry
	nextProgramID uint32

	uploaded []*metadata.Texture

	fallbackAlbedo   *metadata.Texture
	fallbackNormal   *metadata.Texture
	fallbackMR       *metadata.Texture
	fallbackEmissive *metadata.Texture
}

func NewMaterialResourceCache(backend Backend, textures *assets.TextureRegistry) *MaterialResourceCache {
	return &MaterialResourceCache{
		backend:  backend,
		textures: textures,
		states:   make(map[uint64]*metadata.MaterialGpuState),
		programs: make(map[string]programEntry),

		fallbackAlbedo:   assets.SolidTexture("fallback_albedo", [4]byte{255, 255, 255, 255}),
		fallbackNormal:   assets.SolidTexture("fallback_normal", [4]byte{128, 128, 255, 255}),
		fallbackMR:       assets.SolidTexture("fallback_mr", [4]byte{255, 128, 0, 255}),
		fallbackEmissive: assets.SolidTexture("fallback_emissive", [4]byte{0, 0, 0, 255}),
	}
}

// GetOrCreate returns the GPU state for the material value, creating programs
// and uploading textures on first sight of the hash.
func (c *MaterialResourceCache) GetOrCreate(value *metadata.MaterialValue, hash uint64) (*metadata.MaterialGpuState, error) {
	if state, ok := c.states[hash]; ok {
		return state, nil
	}

	prog, err := c.program(value)
	if err != nil {
		return nil, err
	}

	state := &metadata.MaterialGpuState{
		Hash:      hash,
		Program:   prog.handle,
		ProgramID: prog.id,
		Blended:   value.Blend == metadata.BlendModeAlphaBlend,
		Params: metadata.MaterialParams{
			Albedo:    [4]float32{value.Albedo.X(), value.Albedo.Y(), value.Albedo.Z(), value.Albedo.W()},
			Emissive:  [3]float32{value.Emissive.X(), value.Emissive.Y(), value.Emissive.Z()},
			Roughness: value.Roughness,
			Metallic:  value.Metallic,
		},
	}

	if state.AlbedoMap, err = c.texture(value.Textures.Albedo, c.fallbackAlbedo); err != nil {
		return nil, err
	}
	if state.NormalMap, err = c.texture(value.Textures.Normal, c.fallbackNormal); err != nil {
		return nil, err
	}
	if state.MetallicRoughnessMap, err = c.texture(value.Textures.MetallicRoughness, c.fallbackMR); err != nil {
		return nil, err
	}
	if state.EmissiveMap, err = c.texture(value.Textures.Emissive, c.fallbackEmissive); err != nil {
		return nil, err
	}

	c.states[hash] = state
	return state, nil
}

// program compiles (or reuses) the program variant for the material's shader
// and shading model. Program IDs are small stable integers used for rebind
// comparison during recording.
func (c *MaterialResourceCache) program(value *metadata.MaterialValue) (programEntry, error) {
	key := metadata.ProgramKey{
		Source: shaderSource(value.Shader),
		Entry:  "main",
	}
	switch value.Shading {
	case metadata.ShadingModelUnlit:
		key.Defines = append(key.Defines, "SHADING_UNLIT")
	case metadata.ShadingModelRimGlow:
		key.Defines = append(key.Defines, "SHADING_RIM_GLOW")
	}
	if value.Blend == metadata.BlendModeAlphaBlend {
		key.Defines = append(key.Defines, "BLEND_ALPHA")
	}

	canonical := key.Canonical()
	if entry, ok := c.programs[canonical]; ok {
		return entry, nil
	}

	handle, err := c.backend.CompileProgram(key)
	if err != nil {
		return programEntry{}, fmt.Errorf("compile program %s: %w", canonical, err)
	}
	c.nextProgramID++
	entry := programEntry{handle: handle, id: c.nextProgramID}
	c.programs[canonical] = entry
	return entry, nil
}

func (c *MaterialResourceCache) texture(path string, fallback *metadata.Texture) (metadata.TextureHandle, error) {
	t := fallback
	if path != "" {
		t = c.textures.Get(path)
	}
	if !t.Handle.Valid() {
		handle, err := c.backend.CreateTexture(t)
		if err != nil {
			return 0, fmt.Errorf("texture %q: %w", t.Name, err)
		}
		t.Handle = handle
		c.uploaded = append(c.uploaded, t)
	}
	return t.Handle, nil
}

// Len returns the number of cached material states.
func (c *MaterialResourceCache) Len() int {
	return len(c.states)
}

// InvalidateAll drops every cached state, program and texture handle after
// device loss. Everything is rebuilt on demand.
func (c *MaterialResourceCache) InvalidateAll() {
	c.states = make(map[uint64]*metadata.MaterialGpuState)
	c.programs = make(map[string]programEntry)
	for _, t := range c.uploaded {
		t.Handle = 0
	}
	c.uploaded = c.uploaded[:0]
}

// Release destroys uploaded textures during shutdown.
func (c *MaterialResourceCache) Release() {
	for _, t := range c.uploaded {
		if t.Handle.Valid() {
			c.backend.DestroyTexture(t.Handle)
		}
	}
	c.InvalidateAll()
}

// shaderSource maps a bare shader name to its source identity; names that
// already look like paths pass through unchanged.
func shaderSource(shader string) string {
	if shader == "" {
		return "shaders/pbr"
	}
	if strings.ContainsAny(shader, "./\\") {
		return shader
	}
	return "shaders/" + shader
}
