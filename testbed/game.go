package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/crown3d/crown/engine"
	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	engine   *engine.Engine
	spinners []*scene.Entity
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				StartPosX:   100,
				StartPosY:   100,
				StartWidth:  1280,
				StartHeight: 720,
				Name:        "Crown Testbed",
				LogLevel:    core.DebugLevel,
				AssetRoot:   "assets",
			},
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("TestGame Initialize fn....")

	state := g.State.(*gameState)
	state.engine = e

	sc := scene.New()
	sc.Camera.Position = mgl32.Vec3{0, 6, -14}
	sc.Camera.Target = mgl32.Vec3{0, 1, 0}
	sc.AddLight(scene.DefaultSun())

	ground := sc.NewEntity("ground", scene.GeneratePlane("ground_plane", 40))
	ground.CastsShadows = false
	ground.Material = "ground"

	cube := scene.GenerateCube("unit_cube", 2)
	for i := 0; i < 3; i++ {
		ent := sc.NewEntity("cube", cube)
		ent.Material = "cube"
		ent.Transform.Position = mgl32.Vec3{float32(i-1) * 5, 1, 0}
		ent.Transform.Scale = mgl32.Vec3{1, 1, 1}.Mul(1 - 0.25*float32(i))
		state.spinners = append(state.spinners, ent)
	}

	small := sc.NewEntity("pedestal", scene.GenerateCube("small_cube", 1))
	small.Transform.Position = mgl32.Vec3{0, 0.5, 5}

	g.Scene = sc
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)

	rotation := mgl32.QuatRotate(float32(0.5*deltaTime), mgl32.Vec3{0, 1, 0})
	for _, ent := range state.spinners {
		ent.Transform.Rotation = rotation.Mul(ent.Transform.Rotation)
	}
	return nil
}

func (g *TestGame) OnResize(width, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	return nil
}
