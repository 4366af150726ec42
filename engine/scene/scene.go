package scene

import (
	"sync/atomic"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// Entity is one renderable thing in the scene: a mesh, its world transform
// and its material. Material names a registry material and is re-resolved at
// every snapshot so hot reloads take effect; empty means the default
// material.
type Entity struct {
	ID        uint64
	Name      string
	Transform Transform
	Mesh      *metadata.Mesh
	Material  string

	Visible         bool
	CastsShadows    bool
	ReceivesShadows bool

	// LightMask selects which light groups affect this entity.
	LightMask uint32
}

// Scene owns the entities, lights and camera the renderer snapshots each
// frame. It is not safe for concurrent mutation; the frame loop mutates it
// between snapshots.
type Scene struct {
	Camera Camera
	Lights []Light

	entities []*Entity
	nextID   atomic.Uint64
}

func New() *Scene {
	return &Scene{
		Camera: NewCamera(),
	}
}

// AddEntity registers the entity, assigns it an ID and returns it.
func (s *Scene) AddEntity(e *Entity) *Entity {
	e.ID = s.nextID.Add(1)
	s.entities = append(s.entities, e)
	return e
}

// NewEntity creates a visible, shadow-casting entity for the mesh and adds
// it.
func (s *Scene) NewEntity(name string, mesh *metadata.Mesh) *Entity {
	e := &Entity{
		Name:            name,
		Transform:       NewTransform(),
		Mesh:            mesh,
		Visible:         true,
		CastsShadows:    true,
		ReceivesShadows: true,
		LightMask:       0xFFFFFFFF,
	}
	return s.AddEntity(e)
}

// RemoveEntity drops the entity with the given ID, preserving order.
func (s *Scene) RemoveEntity(id uint64) bool {
	for i, e := range s.entities {
		if e.ID == id {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			return true
		}
	}
	return false
}

// Entities returns the live entity slice. Callers must not retain it across
// mutations.
func (s *Scene) Entities() []*Entity {
	return s.entities
}

// AddLight appends a light and returns its index.
func (s *Scene) AddLight(l Light) int {
	s.Lights = append(s.Lights, l)
	return len(s.Lights) - 1
}

// FirstDirectionalLight returns the first enabled directional light, or nil.
func (s *Scene) FirstDirectionalLight() *Light {
	for i := range s.Lights {
		l := &s.Lights[i]
		if l.Enabled && l.Kind == LightDirectional {
			return l
		}
	}
	return nil
}
