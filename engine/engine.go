package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/assets"
	"github.com/spaghettifunk/cauldron/engine/assets/loaders"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/platform"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
	"github.com/spaghettifunk/cauldron/engine/systems"
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

const headlessBackend = "headless"

// Sleep between polls while the window is minimized.
const suspendedPollInterval = 10 * time.Millisecond

// Engine is the single process-wide context: it owns the configuration, the renderer device and
// swapchain, the subsystems and the frame loop.
type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *core.Config
	events        *core.EventSystem
	platform      *platform.Platform
	device        *renderer.Device
	swapChain     *renderer.SwapChain
	systemManager *systems.SystemManager
	assetManager  *assets.AssetManager
	watcher       *core.ConfigWatcher
	clock         *core.Clock
	metrics       *core.FrameMetrics

	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32
	frameNumber uint64
	lastTime    time.Duration

	mutex         sync.Mutex
	pendingResize bool
	pendingWidth  uint32
	pendingHeight uint32
	removedErr    error
}

func New(g *Game) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = &ApplicationConfig{}
	}
	cfg, err := g.ApplicationConfig.load()
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(core.ParseLogLevel(cfg.LogLevel))

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		events:       core.NewEventSystem(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        cfg.Width,
		height:       cfg.Height,
	}, nil
}

func (e *Engine) Config() *core.Config                    { return e.config }
func (e *Engine) Events() *core.EventSystem               { return e.events }
func (e *Engine) Device() *renderer.Device                { return e.device }
func (e *Engine) SwapChain() *renderer.SwapChain          { return e.swapChain }
func (e *Engine) Systems() *systems.SystemManager         { return e.systemManager }
func (e *Engine) Assets() *assets.AssetManager            { return e.assetManager }
func (e *Engine) FrameMetrics() *core.FrameMetrics        { return e.metrics }
func (e *Engine) Stage() Stage                            { return e.currentStage }
func (e *Engine) FramebufferSize() (width, height uint32) { return e.width, e.height }

// Initialize opens the configured backend, creates the device, swapchain and subsystems, then
// runs the game's initialize hook.
func (e *Engine) Initialize(ctx context.Context) error {
	core.Assert(e.currentStage == EngineStageUninitialized, "engine initialized twice")
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_DEVICE_REMOVED, e, e.onEvent)

	var surface renderer.SurfaceProvider
	if e.config.Backend != headlessBackend {
		e.platform = platform.New(e.events)
		if err := e.platform.Startup(e.config.AppName, e.gameInstance.ApplicationConfig.StartPosX,
			e.gameInstance.ApplicationConfig.StartPosY, e.config.Width, e.config.Height); err != nil {
			return err
		}
		surface = e.platform
		e.width, e.height = e.platform.FramebufferSize()
	}

	gpu, err := renderer.OpenBackend(e.config.Backend, e.config, surface)
	if err != nil {
		return err
	}
	e.device, err = renderer.NewDevice(e.config, gpu)
	if err != nil {
		return err
	}
	e.device.SetDeviceRemovedCallback(e.onDeviceRemoved)

	format, err := metadata.ParseResourceFormat(e.config.SwapChainFormat)
	if err != nil {
		return err
	}
	displayMode := metadata.DisplayModeLDR
	if e.config.HDR {
		displayMode = metadata.DisplayModeHDR10_2084
	}
	e.swapChain, err = e.device.CreateSwapChain(&metadata.SwapChainCreationParams{
		Width:           e.width,
		Height:          e.height,
		BackBufferCount: uint32(e.config.BackBufferCount),
		Format:          format,
		VSync:           e.config.VSync,
		DisplayMode:     displayMode,
	})
	if err != nil {
		return err
	}

	e.systemManager, err = systems.NewSystemManager(ctx, e.device, e.config.JobWorkers)
	if err != nil {
		return err
	}
	if err := e.systemManager.Initialize(ctx); err != nil {
		return err
	}

	if e.config.AssetsDir != "" {
		e.assetManager, err = assets.NewAssetManager()
		if err != nil {
			return err
		}
		if err := e.assetManager.Initialize(e.config.AssetsDir); err != nil {
			return err
		}
	}

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		e.watcher, err = core.NewConfigWatcher(path)
		if err != nil {
			core.LogWarn("config hot reload disabled: %v", err)
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(ctx, e); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// UploadTextureAsync registers a texture and streams block to it on the copy queue. The texture
// is returned immediately; the default texture should be bound until it is ready.
func (e *Engine) UploadTextureAsync(desc *metadata.TextureDesc, block *metadata.TextureDataBlock) (*renderer.Texture, error) {
	return e.systemManager.TextureSystem.Acquire(desc, block, true)
}

// LoadTextureAsset decodes an image from the asset directory and streams it like
// UploadTextureAsync. Decoding happens on the calling goroutine.
func (e *Engine) LoadTextureAsset(name string, params *loaders.ImageParams) (*renderer.Texture, error) {
	if e.assetManager == nil {
		return nil, errors.Newf("cannot load %s: no asset directory configured", name)
	}
	img, err := e.assetManager.LoadTexture(name, params)
	if err != nil {
		return nil, err
	}
	return e.UploadTextureAsync(&img.Desc, img.Block)
}

// Stop ends the frame loop after the current frame.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Run drives the frame loop until ctx is done, the window closes, the frame limit is reached or
// the device is removed. The device-removed error is returned in the last case.
func (e *Engine) Run(ctx context.Context) error {
	core.Assert(e.currentStage == EngineStageInitialized, "Run before Initialize")
	e.currentStage = EngineStageRunning
	renderCtx := renderer.WithRenderThread(ctx)

	e.device.SetFrameLoopRunning(true)
	defer e.device.SetFrameLoopRunning(false)

	e.isRunning.Store(true)
	e.clock.Start()
	e.lastTime = 0

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if e.platform != nil && !e.platform.PumpMessages() {
			break
		}
		e.applyConfigChanges()
		e.dispatchAssetChanges()
		if err := e.applyPendingResize(); err != nil {
			return err
		}
		if e.isSuspended {
			time.Sleep(suspendedPollInterval)
			continue
		}

		frameStart := time.Now()
		e.clock.Update()
		current := e.clock.Elapsed()
		delta := (current - e.lastTime).Seconds()
		e.lastTime = current

		if err := e.frame(renderCtx, delta); err != nil {
			if removed := e.removedError(); removed != nil {
				return removed
			}
			return err
		}
		e.metrics.Update(time.Since(frameStart))
		e.frameNumber++

		if e.config.FrameLimit > 0 && e.frameNumber >= e.config.FrameLimit {
			core.LogInfo("frame limit %d reached", e.config.FrameLimit)
			break
		}
	}
	e.clock.Stop()
	core.LogInfo("frame loop stopped after %d frames (%.1f fps, %.2f ms avg)", e.metrics.TotalFrames(), e.metrics.FPS(), e.metrics.FrameTime())
	return e.removedError()
}

// frame renders one frame: acquire, update, record, submit as the only submission of the frame,
// present and end-of-frame reclamation.
func (e *Engine) frame(ctx context.Context, delta float64) error {
	if err := e.swapChain.WaitForSwapChain(ctx); err != nil {
		return err
	}
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return errors.Wrap(err, "game update failed")
		}
	}

	cl, err := e.device.CreateCommandList("frame", metadata.QueueGraphics)
	if err != nil {
		return err
	}
	rt := e.swapChain.BackBufferRT().Resource()
	cl.ResourceBarrier(renderer.TransitionBarrier(rt, metadata.ResourceStatePresent, metadata.ResourceStateRenderTarget, metadata.AllSubresources))

	desc := e.swapChain.BackBufferRT().Desc()
	frame := &Frame{
		Number:    e.frameNumber,
		DeltaTime: delta,
		List:      cl,
		BackBuffer: renderer.RasterTarget{
			View:  e.swapChain.RenderTargetViews(),
			Index: e.swapChain.CurrentBackBufferIndex(),
		},
		Width:  desc.Width,
		Height: desc.Height,
	}
	var renderErr error
	if e.gameInstance.FnRender != nil {
		renderErr = e.gameInstance.FnRender(frame)
	}
	cl.ResourceBarrier(renderer.TransitionBarrier(rt, metadata.ResourceStateRenderTarget, metadata.ResourceStatePresent, metadata.AllSubresources))
	if err := cl.Close(); err != nil {
		return err
	}
	if _, err := e.device.ExecuteCommandLists([]*renderer.CommandList{cl}, metadata.QueueGraphics, true, true); err != nil {
		return err
	}
	if renderErr != nil {
		return errors.Wrap(renderErr, "game render failed")
	}
	if err := e.swapChain.Present(); err != nil {
		return err
	}
	e.device.EndFrame()
	return nil
}

func (e *Engine) applyConfigChanges() {
	if e.watcher == nil {
		return
	}
	select {
	case cfg := <-e.watcher.Changes():
		core.SetLogLevel(core.ParseLogLevel(cfg.LogLevel))
		if cfg.VSync != e.swapChain.IsVSyncEnabled() {
			e.swapChain.SetVSync(cfg.VSync)
		}
		e.config.VSync = cfg.VSync
		e.config.LogLevel = cfg.LogLevel
		e.config.FrameLimit = cfg.FrameLimit
		ctx := core.EventContext{}
		ctx.Data.Any = cfg
		e.events.Fire(core.EVENT_CODE_CONFIG_CHANGED, e, ctx)
	default:
	}
}

func (e *Engine) dispatchAssetChanges() {
	if e.assetManager == nil {
		return
	}
	for {
		select {
		case info, ok := <-e.assetManager.Changes():
			if !ok {
				return
			}
			core.LogDebug("asset %s changed (removed %t)", info.Name, info.Removed)
			ctx := core.EventContext{}
			ctx.Data.Any = info
			e.events.Fire(core.EVENT_CODE_ASSET_CHANGED, e.assetManager, ctx)
		default:
			return
		}
	}
}

func (e *Engine) applyPendingResize() error {
	e.mutex.Lock()
	pending, width, height := e.pendingResize, e.pendingWidth, e.pendingHeight
	e.pendingResize = false
	e.mutex.Unlock()
	if !pending {
		return nil
	}

	if width == 0 || height == 0 {
		core.LogInfo("window minimized, suspending the frame loop")
		e.isSuspended = true
		return nil
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming the frame loop")
		e.isSuspended = false
	}
	if width == e.width && height == e.height {
		return nil
	}
	e.width, e.height = width, height
	if err := e.swapChain.OnResize(width, height); err != nil {
		return err
	}
	if err := e.device.OnRenderingResolutionResize(width, height, width, height); err != nil {
		return err
	}
	if e.gameInstance.FnOnResize != nil {
		return e.gameInstance.FnOnResize(width, height)
	}
	return nil
}

func (e *Engine) onDeviceRemoved(err error) {
	e.mutex.Lock()
	e.removedErr = err
	e.mutex.Unlock()
	ctx := core.EventContext{}
	ctx.Data.Any = err
	e.events.Fire(core.EVENT_CODE_DEVICE_REMOVED, e.device, ctx)
}

func (e *Engine) removedError() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.removedErr
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, context core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	case core.EVENT_CODE_DEVICE_REMOVED:
		core.LogError("device removed: %v", context.Data.Any)
		e.Stop()
		// Other listeners still get to see the removal.
		return false
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, context core.EventContext) bool {
	e.mutex.Lock()
	e.pendingResize = true
	e.pendingWidth = context.Data.U32[0]
	e.pendingHeight = context.Data.U32[1]
	e.mutex.Unlock()
	// Other listeners may want to know about this.
	return false
}

// Shutdown releases everything Initialize created. Call it from the goroutine that ran Run.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.Stop()

	var result error
	if e.gameInstance.FnShutdown != nil {
		result = e.gameInstance.FnShutdown()
	}
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			result = errors.CombineErrors(result, err)
		}
	}
	if e.assetManager != nil {
		if err := e.assetManager.Close(); err != nil {
			result = errors.CombineErrors(result, err)
		}
	}
	if e.device != nil {
		if err := e.device.FlushAllQueues(); err != nil {
			core.LogWarn("flush on shutdown: %v", err)
		}
	}
	if e.systemManager != nil {
		e.systemManager.Shutdown()
	}
	if e.swapChain != nil {
		e.swapChain.Destroy()
	}
	if e.device != nil {
		e.device.Destroy()
	}
	if e.platform != nil {
		e.platform.Shutdown()
	}
	e.events.Shutdown()
	e.currentStage = EngineStageUninitialized
	return result
}
