package engine

import (
	"fmt"

	"github.com/crown3d/crown/engine/assets"
	"github.com/crown3d/crown/engine/config"
	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/platform"
	"github.com/crown3d/crown/engine/renderer"
	"github.com/crown3d/crown/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    bool
	isSuspended  bool

	bus      *core.EventBus
	platform *platform.Platform
	backend  renderer.Backend
	system   *renderer.RenderSystem

	materials       *assets.MaterialRegistry
	textures        *assets.TextureRegistry
	materialWatcher *assets.MaterialWatcher

	width   uint32
	height  uint32
	clock   *core.Clock
	metrics *core.Metrics

	lastTime  float64
	statsTime float64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("game instance and application config are required")
	}
	bus := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		bus:          bus,
		platform:     platform.New(bus),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		isRunning:    true,
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
	}, nil
}

// Bus returns the engine event bus for game-side registrations.
func (e *Engine) Bus() *core.EventBus {
	return e.bus
}

// Materials returns the material registry games resolve named materials
// from.
func (e *Engine) Materials() *assets.MaterialRegistry {
	return e.materials
}

// RenderSystem exposes the renderer to game code, mostly for diagnostics.
func (e *Engine) RenderSystem() *renderer.RenderSystem {
	return e.system
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	cfg := e.gameInstance.ApplicationConfig
	core.SetLogLevel(cfg.LogLevel)

	e.bus.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.bus.Register(core.EventCodeKeyPressed, e, e.onKey)
	e.bus.Register(core.EventCodeResized, e, e.onResized)
	e.bus.Register(core.EventCodeDeviceLost, e, e.onDeviceLost)

	if err := e.platform.Startup(cfg.Name, cfg.StartPosX, cfg.StartPosY, cfg.StartWidth, cfg.StartHeight); err != nil {
		return err
	}

	assetRoot := cfg.AssetRoot
	if assetRoot == "" {
		assetRoot = "assets"
	}
	e.materials = assets.NewMaterialRegistry(assetRoot)
	e.textures = assets.NewTextureRegistry(assetRoot)

	watcher, err := assets.WatchMaterials(e.materials)
	if err != nil {
		core.LogWarn("Material hot reload unavailable: %s", err)
	} else {
		e.materialWatcher = watcher
	}

	settings, threads := config.Load()

	e.backend = vulkan.New(e.platform)
	if err := e.backend.Initialize(cfg.Name, e.width, e.height); err != nil {
		return err
	}

	e.system = renderer.NewRenderSystem(e.backend, settings, threads, e.materials, e.textures)

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.gameInstance.Scene == nil {
		return fmt.Errorf("game initialization did not create a scene")
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.ElapsedSeconds()

	for e.isRunning {
		if !e.platform.PumpMessages() {
			e.isRunning = false
		}

		if e.isSuspended {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.ElapsedSeconds()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning = false
				break
			}
		}

		if err := e.system.DrawFrame(e.gameInstance.Scene, delta); err != nil {
			core.LogError("Frame failed, shutting down: %s", err)
			e.isRunning = false
			break
		}

		e.metrics.Update(delta)
		e.statsTime += delta
		if e.statsTime >= 1 {
			e.statsTime -= 1
			fps, ms := e.metrics.Frame()
			core.LogDebug("Frame stats: %.0f fps, %.2f ms avg.", fps, ms)
		}
	}

	return nil
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown

	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError("Game shutdown failed: %s", err)
		}
	}

	if e.materialWatcher != nil {
		if err := e.materialWatcher.Close(); err != nil {
			core.LogWarn("Material watcher close failed: %s", err)
		}
	}
	if e.system != nil {
		e.system.Shutdown()
	}
	if e.backend != nil {
		e.backend.Shutdown()
	}
	e.platform.Shutdown()
	return nil
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	if code == core.EventCodeApplicationQuit {
		core.LogInfo("Application quit requested, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	// Escape quits; everything else is the game's business.
	const keyEscape = 256
	if data.U32[0] == keyEscape {
		e.bus.Fire(core.EventCodeApplicationQuit, e, core.EventContext{})
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	width, height := data.U32[0], data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d.", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}

	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("Game resize handler failed: %s", err)
		}
	}
	if e.gameInstance.Scene != nil && height > 0 {
		e.gameInstance.Scene.Camera.Aspect = float32(width) / float32(height)
	}
	e.system.Resized(width, height)
	return false
}

func (e *Engine) onDeviceLost(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	e.system.OnDeviceLost()
	return true
}
