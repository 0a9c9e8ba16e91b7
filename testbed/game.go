package testbed

import (
	"context"
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/cauldron/engine"
	"github.com/spaghettifunk/cauldron/engine/assets"
	"github.com/spaghettifunk/cauldron/engine/assets/loaders"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
	"github.com/spaghettifunk/cauldron/engine/systems"
)

const (
	gradientTextureName = "testbed_gradient"
	gradientSize        = 512
	// Used instead of the generated gradient when the asset directory has it.
	splashAsset = "textures/splash.png"
	// seconds for a full trip around the hue wheel
	hueCycle = 8.0
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	engine *engine.Engine

	elapsed  float64
	width    uint32
	height   uint32
	gradient *renderer.Texture
	texName  string
	ready    bool

	constants []byte
}

// NewTestGame builds the sample. configPath may be empty; backend and frames override the
// loaded configuration when set.
func NewTestGame(configPath, backend string, frames uint64) (*TestGame, error) {
	appConfig := &engine.ApplicationConfig{
		StartPosX:  100,
		StartPosY:  100,
		ConfigPath: configPath,
	}
	if backend != "" || frames != 0 {
		cfg := core.DefaultConfig()
		if configPath != "" {
			loaded, err := core.LoadConfig(configPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		if backend != "" {
			cfg.Backend = backend
		}
		if frames != 0 {
			cfg.FrameLimit = frames
		}
		// Overrides win, so the file is not reloaded from disk.
		appConfig.ConfigPath = ""
		appConfig.Config = cfg
	}

	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: appConfig,
			State: &gameState{
				constants: make([]byte, 16),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(ctx context.Context, e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	st := g.state()
	st.engine = e

	e.Events().Register(core.EVENT_CODE_CONFIG_CHANGED, g, func(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
		cfg := data.Data.Any.(*core.Config)
		core.LogInfo("config reloaded, vsync %t", cfg.VSync)
		return false
	})

	e.Events().Register(core.EVENT_CODE_ASSET_CHANGED, g, func(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
		info := data.Data.Any.(assets.AssetInfo)
		core.LogInfo("asset %s (%s) changed on disk", info.Name, info.Type)
		return false
	})

	if am := e.Assets(); am != nil {
		if _, ok := am.Lookup(splashAsset); ok {
			tex, err := e.LoadTextureAsset(splashAsset, &loaders.ImageParams{GenerateMips: true, SRGB: true})
			if err != nil {
				return err
			}
			st.gradient, st.texName = tex, splashAsset
			return nil
		}
	}

	desc := metadata.Tex2DDesc(gradientTextureName, metadata.FormatRGBA8Unorm, gradientSize, gradientSize, 1, 1, metadata.ResourceFlagsNone)
	tex, err := e.UploadTextureAsync(&desc, &metadata.TextureDataBlock{Data: [][]byte{gradient(gradientSize)}})
	if err != nil {
		return err
	}
	st.gradient, st.texName = tex, gradientTextureName
	return nil
}

// gradient is an RGBA8 image fading red along x and green along y.
func gradient(size uint32) []byte {
	pixels := make([]byte, size*size*4)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			i := (y*size + x) * 4
			pixels[i] = byte(x * 255 / (size - 1))
			pixels[i+1] = byte(y * 255 / (size - 1))
			pixels[i+3] = 255
		}
	}
	return pixels
}

func (g *TestGame) Update(deltaTime float64) error {
	st := g.state()
	st.elapsed += deltaTime

	if !st.ready {
		state, err := st.engine.Systems().TextureSystem.State(st.texName)
		switch {
		case err != nil:
			return err
		case state == systems.TextureStateReady:
			core.LogInfo("texture %s streamed in after %.2fs", st.texName, st.elapsed)
			st.ready = true
		}
	}
	return nil
}

func (g *TestGame) Render(frame *engine.Frame) error {
	st := g.state()

	// Per-frame constants: elapsed time, delta and the target size.
	binary.LittleEndian.PutUint32(st.constants[0:], gomath.Float32bits(float32(st.elapsed)))
	binary.LittleEndian.PutUint32(st.constants[4:], gomath.Float32bits(float32(frame.DeltaTime)))
	binary.LittleEndian.PutUint32(st.constants[8:], frame.Width)
	binary.LittleEndian.PutUint32(st.constants[12:], frame.Height)
	if _, err := st.engine.Device().DynamicBufferPool().AllocConstantBuffer(st.constants); err != nil {
		return err
	}

	target := frame.BackBuffer
	target.Clear = true
	target.ClearColor = hueColor(st.elapsed / hueCycle)
	if !st.ready {
		// Grey until the streamed texture is usable.
		target.ClearColor = math.Color{X: 0.2, Y: 0.2, Z: 0.2, W: 1}
	}

	frame.List.BeginRaster([]renderer.RasterTarget{target}, nil)
	frame.List.SetViewport(math.FullViewport(frame.Width, frame.Height))
	frame.List.SetScissor(math.Rect{Width: frame.Width, Height: frame.Height})
	frame.List.EndRaster()
	return nil
}

// hueColor maps t in turns to a fully saturated color.
func hueColor(t float64) math.Color {
	h := (t - gomath.Floor(t)) * 6
	x := float32(1 - gomath.Abs(gomath.Mod(h, 2)-1))
	var r, g, b float32
	switch int(h) {
	case 0:
		r, g = 1, x
	case 1:
		r, g = x, 1
	case 2:
		g, b = 1, x
	case 3:
		g, b = x, 1
	case 4:
		r, b = x, 1
	default:
		r, b = 1, x
	}
	return math.Color{X: r, Y: g, Z: b, W: 1}
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	st := g.state()
	st.width, st.height = width, height
	core.LogDebug("testbed resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	st := g.state()
	if st.engine != nil && st.gradient != nil {
		st.engine.Systems().TextureSystem.Release(st.texName)
		st.gradient = nil
	}
	return nil
}
