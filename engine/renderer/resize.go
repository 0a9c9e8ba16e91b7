package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
)

// ResourceResizedListener is told when resizable resources were recreated. It re-queries the
// resources it depends on by itself.
type ResourceResizedListener interface {
	OnResourceResized()
}

// resizable is a resource whose description follows the rendering resolution.
type resizable interface {
	Name() string
	onRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight uint32) error
}

type resizeNotifier struct {
	mutex      sync.Mutex
	listeners  []ResourceResizedListener
	resizables []resizable
}

func (n *resizeNotifier) addListener(l ResourceResizedListener) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for _, existing := range n.listeners {
		if existing == l {
			return
		}
	}
	n.listeners = append(n.listeners, l)
}

func (n *resizeNotifier) removeListener(l ResourceResizedListener) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for i, existing := range n.listeners {
		if existing == l {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *resizeNotifier) addResizable(r resizable) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.resizables = append(n.resizables, r)
}

func (n *resizeNotifier) removeResizable(r resizable) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for i, existing := range n.resizables {
		if existing == r {
			n.resizables = append(n.resizables[:i], n.resizables[i+1:]...)
			return
		}
	}
}

func (n *resizeNotifier) snapshot() ([]ResourceResizedListener, []resizable) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]ResourceResizedListener(nil), n.listeners...), append([]resizable(nil), n.resizables...)
}

func (n *resizeNotifier) notify() {
	listeners, _ := n.snapshot()
	for _, l := range listeners {
		l.OnResourceResized()
	}
}

// RegisterResizeListener subscribes l to resource recreation. Registering twice is a no-op.
func (d *Device) RegisterResizeListener(l ResourceResizedListener) {
	d.resize.addListener(l)
}

func (d *Device) UnregisterResizeListener(l ResourceResizedListener) {
	d.resize.removeListener(l)
}

// OnRenderingResolutionResize recreates every resizable texture and buffer for the new
// resolution, then notifies listeners once.
func (d *Device) OnRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight uint32) error {
	if err := d.FlushAllQueues(); err != nil {
		return err
	}
	_, resizables := d.resize.snapshot()
	for _, r := range resizables {
		if err := r.onRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight); err != nil {
			return errors.Wrapf(err, "failed to resize %s", r.Name())
		}
	}
	core.LogInfo("resized %d resources to render %dx%d display %dx%d", len(resizables), renderWidth, renderHeight, displayWidth, displayHeight)
	d.resize.notify()
	return nil
}
