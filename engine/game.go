package engine

import (
	"context"

	"github.com/spaghettifunk/cauldron/engine/renderer"
)

// Frame is handed to the game's render hook. The back buffer is already in RenderTarget and
// must be left there; the engine closes and submits List.
type Frame struct {
	Number     uint64
	DeltaTime  float64
	List       *renderer.CommandList
	BackBuffer renderer.RasterTarget
	Width      uint32
	Height     uint32
}

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Initialize runs once the device and swapchain exist. ctx is not the render thread, so blocking
// uploads are allowed.
type Initialize func(ctx context.Context, e *Engine) error
type Update func(deltaTime float64) error
type Render func(frame *Frame) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
