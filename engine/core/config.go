package core

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type ValidationConfig struct {
	Enabled     bool `toml:"enabled"`
	GPUAssisted bool `toml:"gpu_assisted"`
}

type ViewHeapConfig struct {
	CPUResourceViews uint32 `toml:"cpu_resource_views"`
	GPUResourceViews uint32 `toml:"gpu_resource_views"`
	GPUSamplerViews  uint32 `toml:"gpu_sampler_views"`
	CPURenderViews   uint32 `toml:"cpu_render_views"`
	CPUDepthViews    uint32 `toml:"cpu_depth_views"`
}

// Config is the externally provided configuration consumed by the renderer. The renderer never
// writes it back.
type Config struct {
	Backend         string `toml:"backend"`
	AppName         string `toml:"app_name"`
	Width           uint32 `toml:"width"`
	Height          uint32 `toml:"height"`
	BackBufferCount uint8  `toml:"back_buffer_count"`
	VSync           bool   `toml:"vsync"`
	HDR             bool   `toml:"hdr"`
	SwapChainFormat string `toml:"swapchain_format"`

	UploadHeapSize         uint64 `toml:"upload_heap_size"`
	DynamicBufferPoolSize  uint64 `toml:"dynamic_buffer_pool_size"`
	DynamicBufferAlignment uint64 `toml:"dynamic_buffer_alignment"`
	ParameterSetBuffering  uint8  `toml:"parameter_set_buffering"`

	ViewHeaps  ViewHeapConfig   `toml:"view_heaps"`
	Validation ValidationConfig `toml:"validation"`

	FrameLimit uint64 `toml:"frame_limit"`
	LogLevel   string `toml:"log_level"`
	JobWorkers int    `toml:"job_workers"`
	// AssetsDir is indexed and watched when set.
	AssetsDir string `toml:"assets_dir"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend:                "headless",
		AppName:                "Cauldron",
		Width:                  1280,
		Height:                 720,
		BackBufferCount:        3,
		VSync:                  true,
		SwapChainFormat:        "RGBA8_UNORM",
		UploadHeapSize:         64 << 20,
		DynamicBufferPoolSize:  8 << 20,
		DynamicBufferAlignment: 256,
		ParameterSetBuffering:  3,
		ViewHeaps: ViewHeapConfig{
			CPUResourceViews: 4096,
			GPUResourceViews: 4096,
			GPUSamplerViews:  128,
			CPURenderViews:   256,
			CPUDepthViews:    64,
		},
		LogLevel:   "info",
		JobWorkers: 2,
	}
}

// ParseConfig decodes TOML over the defaults, so a partial file only overrides what it names.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return ParseConfig(data)
}

func (c *Config) Validate() error {
	if c.BackBufferCount < 2 {
		return errors.Newf("back_buffer_count must be at least 2, got %d", c.BackBufferCount)
	}
	if c.ParameterSetBuffering < 2 {
		return errors.Newf("parameter_set_buffering must be at least 2, got %d", c.ParameterSetBuffering)
	}
	if c.DynamicBufferAlignment == 0 || c.DynamicBufferAlignment&(c.DynamicBufferAlignment-1) != 0 {
		return errors.Newf("dynamic_buffer_alignment must be a power of two, got %d", c.DynamicBufferAlignment)
	}
	if c.DynamicBufferPoolSize < c.DynamicBufferAlignment {
		return errors.Newf("dynamic_buffer_pool_size %d smaller than alignment %d", c.DynamicBufferPoolSize, c.DynamicBufferAlignment)
	}
	if c.Width == 0 || c.Height == 0 {
		return errors.Newf("invalid resolution %dx%d", c.Width, c.Height)
	}
	return nil
}

func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
