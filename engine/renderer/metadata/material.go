package metadata

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// The name of the default material.
const DefaultMaterialName string = "default"

type ShadingModel uint8

const (
	ShadingModelPbr ShadingModel = iota
	ShadingModelUnlit
	ShadingModelRimGlow
)

type BlendMode uint8

const (
	BlendModeOpaque BlendMode = iota
	BlendModeAlphaBlend
)

// TextureSet holds the texture paths a material references. Paths are asset
// identities; empty means "use the solid-color default".
type TextureSet struct {
	Albedo            string
	Normal            string
	MetallicRoughness string
	Emissive          string
}

// MaterialValue is the resolved, logical value of a material: everything
// that affects shading. Two materials with identical values are the same
// material as far as GPU state is concerned.
type MaterialValue struct {
	Albedo    mgl32.Vec4
	Roughness float32
	Metallic  float32
	Emissive  mgl32.Vec3

	Shading ShadingModel
	Blend   BlendMode

	// Shader source identity, e.g. "pbr" or a custom *.hlsl path.
	Shader string

	Textures TextureSet

	// Arbitrary extra scalar parameters from the material file.
	Scalars map[string]float32
}

// DefaultMaterialValue returns the material used when an entity has none.
func DefaultMaterialValue() MaterialValue {
	return MaterialValue{
		Albedo:    mgl32.Vec4{1, 1, 1, 1},
		Roughness: 0.5,
		Metallic:  0.0,
		Shading:   ShadingModelPbr,
		Blend:     BlendModeOpaque,
		Shader:    "pbr",
	}
}

// ContentHash returns a stable hash of every shading-relevant field. It is
// the key for the material GPU-state cache: bit-identical values collapse to
// one cache entry.
func (m *MaterialValue) ContentHash() uint64 {
	h := fnv.New64a()
	var buf [8]byte

	writeF32 := func(v float32) {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	writeStr := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	writeF32(m.Albedo.X())
	writeF32(m.Albedo.Y())
	writeF32(m.Albedo.Z())
	writeF32(m.Albedo.W())
	writeF32(m.Roughness)
	writeF32(m.Metallic)
	writeF32(m.Emissive.X())
	writeF32(m.Emissive.Y())
	writeF32(m.Emissive.Z())
	h.Write([]byte{byte(m.Shading), byte(m.Blend)})
	writeStr(m.Shader)
	writeStr(m.Textures.Albedo)
	writeStr(m.Textures.Normal)
	writeStr(m.Textures.MetallicRoughness)
	writeStr(m.Textures.Emissive)

	if len(m.Scalars) > 0 {
		keys := make([]string, 0, len(m.Scalars))
		for k := range m.Scalars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeStr(k)
			writeF32(m.Scalars[k])
		}
	}

	return h.Sum64()
}

// MaterialParams is the small per-material constant block uploaded alongside
// the program.
type MaterialParams struct {
	Albedo    [4]float32
	Emissive  [3]float32
	Roughness float32
	Metallic  float32
}

// MaterialGpuState is a cache entry keyed by MaterialValue.ContentHash:
// the selected program variant, blend intent, parameter block and resolved
// texture bindings. Lives for the device lifetime; invalidated wholesale on
// device loss.
type MaterialGpuState struct {
	Hash      uint64
	Program   ProgramHandle
	ProgramID uint32
	Blended   bool
	Params    MaterialParams

	AlbedoMap            TextureHandle
	NormalMap            TextureHandle
	MetallicRoughnessMap TextureHandle
	EmissiveMap          TextureHandle
}
