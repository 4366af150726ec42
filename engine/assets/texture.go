package assets

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

// TextureRegistry loads texture pixel data by path and caches it. Failures
// resolve to a solid fallback so a missing texture never fails a frame.
type TextureRegistry struct {
	root string

	mu       sync.RWMutex
	textures map[string]*metadata.Texture

	diagnostics *core.Diagnostics
}

func NewTextureRegistry(root string) *TextureRegistry {
	return &TextureRegistry{
		root:        root,
		textures:    make(map[string]*metadata.Texture),
		diagnostics: core.NewDiagnostics(),
	}
}

// Get returns the texture at path (relative to the registry root), loading
// and decoding it on first use. On failure it returns a 1x1 solid texture and
// warns once per path.
func (r *TextureRegistry) Get(path string) *metadata.Texture {
	r.mu.RLock()
	t, ok := r.textures[path]
	r.mu.RUnlock()
	if ok {
		return t
	}

	loaded, err := LoadTexture(filepath.Join(r.root, path))
	if err != nil {
		r.diagnostics.WarnOnce("texture-"+path, "Texture '%s' not loadable, using fallback: %s", path, err)
		loaded = SolidTexture(path, [4]byte{255, 255, 255, 255})
	}
	loaded.Name = path

	r.mu.Lock()
	if existing, ok := r.textures[path]; ok {
		r.mu.Unlock()
		return existing
	}
	r.textures[path] = loaded
	r.mu.Unlock()
	return loaded
}

// LoadTexture decodes an image file into tightly packed RGBA8 pixels.
func LoadTexture(path string) (*metadata.Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open texture %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode texture %s: %w", path, err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return &metadata.Texture{
		Path:     path,
		Width:    uint32(bounds.Dx()),
		Height:   uint32(bounds.Dy()),
		Channels: 4,
		Pixels:   rgba.Pix,
	}, nil
}

// SolidTexture builds a 1x1 texture of the given color, used as the fallback
// for missing texture slots.
func SolidTexture(name string, color [4]byte) *metadata.Texture {
	return &metadata.Texture{
		Name:     name,
		Width:    1,
		Height:   1,
		Channels: 4,
		Pixels:   color[:],
	}
}
