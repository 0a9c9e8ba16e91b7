/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/cauldron/engine"
	"github.com/spaghettifunk/cauldron/engine/core"
	_ "github.com/spaghettifunk/cauldron/engine/renderer/headless"
	_ "github.com/spaghettifunk/cauldron/engine/renderer/vulkan"
	"github.com/spaghettifunk/cauldron/testbed"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration, empty for defaults")
	backend := flag.String("backend", "", "override the configured backend (vulkan, headless)")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until the window closes")
	flag.Parse()

	if *configPath != "" {
		if _, err := os.Stat(*configPath); err != nil {
			core.LogWarn("config %s not found, using defaults", *configPath)
			*configPath = ""
		}
	}

	tb, err := testbed.NewTestGame(*configPath, *backend, *frames)
	if err != nil {
		core.LogFatal("failed to create the testbed: %v", err)
	}

	engine, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("failed to create the engine: %v", err)
	}

	// capture sigterm and other system calls; the frame loop stops at the next frame
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := engine.Initialize(ctx); err != nil {
		_ = engine.Shutdown()
		core.LogFatal("failed to initialize the engine: %+v", err)
	}

	runErr := engine.Run(ctx)
	if err := engine.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped: %+v", runErr)
	}
}
