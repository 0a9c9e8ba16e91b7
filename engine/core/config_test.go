package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfigOverridesDefaults(t *testing.T) {
	data := []byte(`
backend = "vulkan"
vsync = false
back_buffer_count = 2

[view_heaps]
gpu_sampler_views = 16
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Backend != "vulkan" {
		t.Errorf("Backend\nhave %q\nwant %q", cfg.Backend, "vulkan")
	}
	if cfg.VSync {
		t.Error("VSync\nhave true\nwant false")
	}
	if cfg.BackBufferCount != 2 {
		t.Errorf("BackBufferCount\nhave %d\nwant 2", cfg.BackBufferCount)
	}
	if cfg.ViewHeaps.GPUSamplerViews != 16 {
		t.Errorf("GPUSamplerViews\nhave %d\nwant 16", cfg.ViewHeaps.GPUSamplerViews)
	}
	def := DefaultConfig()
	if cfg.DynamicBufferPoolSize != def.DynamicBufferPoolSize {
		t.Errorf("DynamicBufferPoolSize\nhave %d\nwant default %d", cfg.DynamicBufferPoolSize, def.DynamicBufferPoolSize)
	}
	if cfg.ViewHeaps.CPUResourceViews != def.ViewHeaps.CPUResourceViews {
		t.Errorf("CPUResourceViews\nhave %d\nwant default %d", cfg.ViewHeaps.CPUResourceViews, def.ViewHeaps.CPUResourceViews)
	}
}

func TestParseConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"single back buffer", "back_buffer_count = 1"},
		{"unbuffered parameter sets", "parameter_set_buffering = 1"},
		{"alignment not pow2", "dynamic_buffer_alignment = 300"},
		{"pool smaller than alignment", "dynamic_buffer_pool_size = 16"},
		{"zero width", "width = 0"},
		{"bad toml", "backend = "},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(c.data)); err == nil {
				t.Errorf("ParseConfig(%q)\nhave nil error\nwant error", c.data)
			}
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VSync = false
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if back.VSync || back.BackBufferCount != cfg.BackBufferCount {
		t.Errorf("round trip\nhave %+v\nwant %+v", back, cfg)
	}
}

func TestConfigWatcherPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cauldron.toml")
	if err := os.WriteFile(path, []byte("vsync = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	defer cw.Close()

	if err := os.WriteFile(path, []byte("vsync = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Truncation may publish an intermediate empty file first.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-cw.Changes():
			if !cfg.VSync {
				return
			}
		case <-timeout:
			t.Fatal("no config change with vsync = false published")
		}
	}
}
