package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/crown3d/crown/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the application window and translates OS events onto the
// engine event bus.
type Platform struct {
	Window *glfw.Window
	bus    *core.EventBus
}

func New(bus *core.EventBus) *Platform {
	return &Platform{bus: bus}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("Failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("Failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogError("GetInstanceProcAddress is nil.")
		return fmt.Errorf("vulkan loader not available")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("Failed to initialize vk: %s", err)
		return err
	}
	return nil
}

func (p *Platform) Shutdown() {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
}

// PumpMessages processes pending OS events. Returns false once the window
// wants to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// CreateSurface makes the window's Vulkan surface.
func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surface, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, err
	}
	return vk.SurfaceFromPointer(surface), nil
}

// FramebufferSize returns the current framebuffer size in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// RequiredExtensions returns the instance extensions the window system needs.
func (p *Platform) RequiredExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if p.bus == nil {
		return
	}
	code := core.EventCodeKeyPressed
	if action == glfw.Release {
		code = core.EventCodeKeyReleased
	}
	p.bus.Fire(code, p, core.EventContext{U32: [4]uint32{uint32(key)}})
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	if p.bus == nil {
		return
	}
	p.bus.Fire(core.EventCodeResized, p, core.EventContext{U32: [4]uint32{uint32(width), uint32(height)}})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	if p.bus == nil {
		return
	}
	p.bus.Fire(core.EventCodeApplicationQuit, p, core.EventContext{})
}
