package renderer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

// stubMaterials is a MaterialSource for tests; unknown names resolve to nil.
type stubMaterials map[string]*metadata.MaterialValue

func (s stubMaterials) Get(name string) *metadata.MaterialValue { return s[name] }

func TestCaptureSkipsHiddenAndMeshless(t *testing.T) {
	sc := scene.New()
	cube := scene.GenerateCube("cube", 1)

	visible := sc.NewEntity("visible", cube)
	hidden := sc.NewEntity("hidden", cube)
	hidden.Visible = false
	sc.AddEntity(&scene.Entity{Name: "no-mesh", Visible: true})

	var snap SceneSnapshot
	snap.Capture(sc, nil)

	require.Len(t, snap.Items, 1)
	assert.Equal(t, visible.Mesh, snap.Items[0].Mesh)
}

func TestCaptureResolvesMaterialsByName(t *testing.T) {
	sc := scene.New()
	cube := scene.GenerateCube("cube", 1)

	named := sc.NewEntity("named", cube)
	named.Material = "rock"
	sc.NewEntity("unnamed", cube)

	rock := &metadata.MaterialValue{Roughness: 0.8, Shader: "pbr"}
	var snap SceneSnapshot
	snap.Capture(sc, stubMaterials{"rock": rock})

	require.Len(t, snap.Items, 2)
	assert.Same(t, rock, snap.Items[0].Material)
	assert.Nil(t, snap.Items[1].Material)

	// A later capture re-resolves, so a swapped-in value takes effect.
	fresh := &metadata.MaterialValue{Roughness: 0.1, Shader: "pbr"}
	snap.Capture(sc, stubMaterials{"rock": fresh})
	assert.Same(t, fresh, snap.Items[0].Material)
}

func TestCaptureResolvesFlagsAndBounds(t *testing.T) {
	sc := scene.New()
	cube := scene.GenerateCube("cube", 2)

	e := sc.NewEntity("cube", cube)
	e.Transform.Position = mgl32.Vec3{3, 1, 0}
	e.Transform.Scale = mgl32.Vec3{2, 2, 2}
	e.ReceivesShadows = false

	var snap SceneSnapshot
	snap.Capture(sc, nil)

	require.Len(t, snap.Items, 1)
	item := snap.Items[0]

	assert.Equal(t, metadata.InstanceFlagCastsShadows, item.Flags)
	// Bounds follow the world transform: translated center, scaled radius.
	assert.InDelta(t, 3, float64(item.BoundsCenter.X()), 1e-5)
	assert.InDelta(t, 1, float64(item.BoundsCenter.Y()), 1e-5)
	assert.InDelta(t, float64(cube.BoundsRadius*2), float64(item.BoundsRadius), 1e-5)
}

func TestCaptureMatchesCamera(t *testing.T) {
	sc := scene.New()
	sc.Camera.Position = mgl32.Vec3{1, 2, 3}

	var snap SceneSnapshot
	snap.Capture(sc, nil)

	assert.Equal(t, sc.Camera.Position, snap.CameraPosition)
	assert.Equal(t, sc.Camera.View(), snap.View)
	assert.Equal(t, sc.Camera.Projection().Mul4(sc.Camera.View()), snap.ViewProjection)
}

func TestCaptureReusesItemStorage(t *testing.T) {
	sc := scene.New()
	cube := scene.GenerateCube("cube", 1)
	for i := 0; i < 3; i++ {
		sc.NewEntity("cube", cube)
	}

	var snap SceneSnapshot
	snap.Capture(sc, nil)
	require.Len(t, snap.Items, 3)

	sc2 := scene.New()
	sc2.NewEntity("cube", cube)
	snap.Capture(sc2, nil)
	assert.Len(t, snap.Items, 1)
}
