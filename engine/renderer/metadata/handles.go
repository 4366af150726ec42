package metadata

import (
	"sort"
	"strings"
)

// Opaque handles issued by the renderer backend. Zero is never a valid
// handle.
type (
	BufferHandle  uint64
	TextureHandle uint64
	ProgramHandle uint64
)

func (h BufferHandle) Valid() bool  { return h != 0 }
func (h TextureHandle) Valid() bool { return h != 0 }
func (h ProgramHandle) Valid() bool { return h != 0 }

// ProgramKey identifies a shader program variant: source identity, entry
// point and preprocessor defines. The backend compiles each distinct key at
// most once.
type ProgramKey struct {
	Source  string
	Entry   string
	Defines []string
}

// Canonical returns a stable string form of the key, with defines sorted so
// that define order does not create duplicate variants.
func (k ProgramKey) Canonical() string {
	defines := make([]string, len(k.Defines))
	copy(defines, k.Defines)
	sort.Strings(defines)

	var sb strings.Builder
	sb.WriteString(k.Source)
	sb.WriteByte('|')
	sb.WriteString(k.Entry)
	for _, d := range defines {
		sb.WriteByte('|')
		sb.WriteString(d)
	}
	return sb.String()
}
