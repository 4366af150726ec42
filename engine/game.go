package engine

import (
	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/scene"
)

// ApplicationConfig is the static startup configuration a game hands to the
// engine.
type ApplicationConfig struct {
	StartPosX   uint32
	StartPosY   uint32
	StartWidth  uint32
	StartHeight uint32
	Name        string
	LogLevel    core.LogLevel

	// Directory the material and texture registries load from.
	AssetRoot string
}

// Game is the application the engine runs: its config, its scene and the
// callbacks the engine invokes around the frame loop.
type Game struct {
	ApplicationConfig *ApplicationConfig
	Scene             *scene.Scene
	State             interface{}

	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
