package renderer

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
)

// Backend opens GPUs of one graphics API. Backends register themselves from init.
type Backend interface {
	Name() string
	Open(cfg *core.Config, surface SurfaceProvider) (GPU, error)
}

var (
	backendsMutex sync.RWMutex
	backends      = make(map[string]Backend)
)

func RegisterBackend(b Backend) {
	backendsMutex.Lock()
	defer backendsMutex.Unlock()

	if _, exists := backends[b.Name()]; exists {
		core.LogWarn("renderer backend %s registered twice, keeping the first", b.Name())
		return
	}
	backends[b.Name()] = b
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	backendsMutex.RLock()
	defer backendsMutex.RUnlock()

	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenBackend selects a backend once at startup and opens its GPU.
func OpenBackend(name string, cfg *core.Config, surface SurfaceProvider) (GPU, error) {
	backendsMutex.RLock()
	b, ok := backends[name]
	backendsMutex.RUnlock()
	if !ok {
		return nil, errors.Wrapf(core.ErrBackendNotFound, "%q (registered: %v)", name, Backends())
	}

	gpu, err := b.Open(cfg, surface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s backend", name)
	}
	core.LogInfo("renderer backend %s opened on %s", name, gpu.Caps().DeviceName)
	return gpu, nil
}
