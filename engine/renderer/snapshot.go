package renderer

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

// MaterialSource resolves material names to immutable values. Resolution
// happens on the frame thread during capture; the returned values must never
// be mutated afterwards so the prep worker can read them freely.
type MaterialSource interface {
	Get(name string) *metadata.MaterialValue
}

// SnapshotItem is one renderable captured from the scene: resolved world
// matrices, world-space bounds and the mesh/material it draws with. Items
// hold no references back into mutable scene state except the shared mesh and
// material values, which are immutable.
type SnapshotItem struct {
	World  mgl32.Mat4
	Normal mgl32.Mat4

	BoundsCenter mgl32.Vec3
	BoundsRadius float32

	Mesh     *metadata.Mesh
	Material *metadata.MaterialValue

	LightMask uint32
	Flags     uint32
}

// SceneSnapshot is the immutable input to frame preparation: the camera state
// and every visible item, captured at a single point in time so the prep
// worker can run while the scene mutates.
type SceneSnapshot struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4
	CameraPosition mgl32.Vec3

	Items []SnapshotItem
}

// Reset clears the snapshot for reuse without releasing capacity.
func (s *SceneSnapshot) Reset() {
	s.Items = s.Items[:0]
}

// Capture fills the snapshot from the scene, resolving entity material names
// through the source. Entities that are hidden or have no drawable mesh are
// skipped without error. The snapshot's item slice is reused across frames.
// A nil source leaves materials unresolved; the batcher substitutes the
// default material.
func (s *SceneSnapshot) Capture(sc *scene.Scene, materials MaterialSource) {
	s.Reset()

	cam := &sc.Camera
	s.View = cam.View()
	s.Projection = cam.Projection()
	s.ViewProjection = s.Projection.Mul4(s.View)
	s.CameraPosition = cam.Position

	for _, e := range sc.Entities() {
		if !e.Visible || e.Mesh == nil || len(e.Mesh.Vertices) == 0 {
			continue
		}

		world := e.Transform.World()
		center := world.Mul4x1(e.Mesh.BoundsCenter.Vec4(1))

		var material *metadata.MaterialValue
		if materials != nil {
			material = materials.Get(e.Material)
		}

		var flags uint32
		if e.CastsShadows {
			flags |= metadata.InstanceFlagCastsShadows
		}
		if e.ReceivesShadows {
			flags |= metadata.InstanceFlagReceivesShadows
		}

		s.Items = append(s.Items, SnapshotItem{
			World:        world,
			Normal:       e.Transform.NormalMatrix(),
			BoundsCenter: mgl32.Vec3{center.X(), center.Y(), center.Z()},
			BoundsRadius: e.Mesh.BoundsRadius * e.Transform.MaxScale(),
			Mesh:         e.Mesh,
			Material:     material,
			LightMask:    e.LightMask,
			Flags:        flags,
		})
	}
}
