package assets

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

// MaterialFileExtension is the extension of material description files.
const MaterialFileExtension = ".mat"

// MaterialRegistry loads and caches material values by name. Names map to
// <root>/<name>.mat. Lookups for unknown names return the default material.
type MaterialRegistry struct {
	root string

	mu        sync.RWMutex
	materials map[string]*metadata.MaterialValue
	version   uint64

	diagnostics *core.Diagnostics
}

func NewMaterialRegistry(root string) *MaterialRegistry {
	return &MaterialRegistry{
		root:        root,
		materials:   make(map[string]*metadata.MaterialValue),
		diagnostics: core.NewDiagnostics(),
	}
}

// Get returns the material for name, loading it from disk on first use.
// Missing or unparsable files resolve to the default material and log once
// per name. Returned values are immutable; a reload publishes a new value
// instead of mutating old ones, so callers re-resolve by name to observe it.
func (r *MaterialRegistry) Get(name string) *metadata.MaterialValue {
	if name == "" {
		name = metadata.DefaultMaterialName
	}

	r.mu.RLock()
	m, ok := r.materials[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	loaded, err := ParseMaterialFile(filepath.Join(r.root, name+MaterialFileExtension))
	if err != nil {
		if name != metadata.DefaultMaterialName {
			r.diagnostics.WarnOnce("material-"+name, "Material '%s' not loadable, using default: %s", name, err)
		}
		def := metadata.DefaultMaterialValue()
		loaded = &def
	}

	r.mu.Lock()
	if existing, ok := r.materials[name]; ok {
		r.mu.Unlock()
		return existing
	}
	r.materials[name] = loaded
	r.mu.Unlock()
	return loaded
}

// Reload re-parses the named material, publishes the new value and bumps the
// registry version. Values handed out earlier are never written to; snapshots
// in flight on other goroutines keep reading the old value safely.
func (r *MaterialRegistry) Reload(name string) error {
	loaded, err := ParseMaterialFile(filepath.Join(r.root, name+MaterialFileExtension))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.materials[name] = loaded
	r.version++
	core.LogInfo("Material '%s' reloaded.", name)
	return nil
}

// Version increments on every successful reload. The renderer compares it to
// know when cached GPU material state may be stale.
func (r *MaterialRegistry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Root returns the directory material files are loaded from.
func (r *MaterialRegistry) Root() string {
	return r.root
}

// ParseMaterialFile reads a .mat file. The format is line-oriented:
// "key value..." with '#' starting a comment. Unknown keys are ignored so
// files can carry forward-compatible extras.
func ParseMaterialFile(path string) (*metadata.MaterialValue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open material %s: %w", path, err)
	}
	defer f.Close()

	m := metadata.DefaultMaterialValue()
	explicitShading := false

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		key := strings.ToLower(fields[0])
		args := fields[1:]
		switch key {
		case "shader":
			if len(args) >= 1 {
				m.Shader = args[0]
			}
		case "blend":
			if len(args) >= 1 {
				switch strings.ToLower(args[0]) {
				case "opaque":
					m.Blend = metadata.BlendModeOpaque
				case "alpha", "blend", "transparent":
					m.Blend = metadata.BlendModeAlphaBlend
				}
			}
		case "shading":
			if len(args) >= 1 {
				switch strings.ToLower(args[0]) {
				case "pbr":
					m.Shading = metadata.ShadingModelPbr
					explicitShading = true
				case "unlit":
					m.Shading = metadata.ShadingModelUnlit
					explicitShading = true
				case "rim", "rimglow", "rim_glow":
					m.Shading = metadata.ShadingModelRimGlow
					explicitShading = true
				}
			}
		case "albedo":
			vals := parseFloats(args, 4)
			for i, v := range vals {
				m.Albedo[i] = v
			}
		case "roughness":
			if vals := parseFloats(args, 1); len(vals) == 1 {
				m.Roughness = vals[0]
			}
		case "metallic":
			if vals := parseFloats(args, 1); len(vals) == 1 {
				m.Metallic = vals[0]
			}
		case "emissive":
			vals := parseFloats(args, 3)
			for i, v := range vals {
				m.Emissive[i] = v
			}
		case "tex_albedo":
			if len(args) >= 1 {
				m.Textures.Albedo = args[0]
			}
		case "tex_normal":
			if len(args) >= 1 {
				m.Textures.Normal = args[0]
			}
		case "tex_mr", "tex_metallic_roughness":
			if len(args) >= 1 {
				m.Textures.MetallicRoughness = args[0]
			}
		case "tex_emissive":
			if len(args) >= 1 {
				m.Textures.Emissive = args[0]
			}
		case "scalar":
			if len(args) >= 2 {
				if v, err := strconv.ParseFloat(args[1], 32); err == nil {
					if m.Scalars == nil {
						m.Scalars = make(map[string]float32)
					}
					m.Scalars[args[0]] = float32(v)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read material %s: %w", path, err)
	}

	if !explicitShading {
		m.Shading = deriveShadingFromShaderName(m.Shader)
	}
	return &m, nil
}

// deriveShadingFromShaderName infers the shading model from well-known shader
// names. Names that look like file paths are custom shaders and keep the
// default model.
func deriveShadingFromShaderName(shader string) metadata.ShadingModel {
	if strings.ContainsAny(shader, "./\\") {
		return metadata.ShadingModelPbr
	}
	lower := strings.ToLower(shader)
	switch {
	case strings.Contains(lower, "unlit"):
		return metadata.ShadingModelUnlit
	case strings.Contains(lower, "rim"):
		return metadata.ShadingModelRimGlow
	}
	return metadata.ShadingModelPbr
}

func parseFloats(args []string, max int) []float32 {
	out := make([]float32, 0, max)
	for _, a := range args {
		if len(out) == max {
			break
		}
		v, err := strconv.ParseFloat(a, 32)
		if err != nil {
			break
		}
		out = append(out, float32(v))
	}
	return out
}
