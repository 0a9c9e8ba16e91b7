package systems

import (
	"context"

	"github.com/spaghettifunk/cauldron/engine/renderer"
)

const jobQueueSize = 64

// SystemManager owns the engine subsystems built on top of the renderer device.
type SystemManager struct {
	JobSystem     *JobSystem
	TextureSystem *TextureSystem
}

func NewSystemManager(ctx context.Context, device *renderer.Device, workers int) (*SystemManager, error) {
	js, err := NewJobSystem(ctx, workers, jobQueueSize)
	if err != nil {
		return nil, err
	}
	ts, err := NewTextureSystem(&TextureSystemConfig{
		MaxTextureCount: 1024,
	}, js, device)
	if err != nil {
		js.Shutdown()
		return nil, err
	}
	return &SystemManager{
		JobSystem:     js,
		TextureSystem: ts,
	}, nil
}

// Initialize runs the blocking setup of every subsystem. ctx must not be the render thread.
func (sm *SystemManager) Initialize(ctx context.Context) error {
	return sm.TextureSystem.Initialize(ctx)
}

// Shutdown drains outstanding jobs before releasing the resources they may still be uploading.
func (sm *SystemManager) Shutdown() {
	sm.JobSystem.Shutdown()
	sm.TextureSystem.Shutdown()
}
