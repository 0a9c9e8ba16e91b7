package headless

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Presentation is one recorded Present call.
type Presentation struct {
	Queue metadata.QueueType
	Image uint32
	Wait  renderer.Semaphore
}

// SwapChain hands out its images round robin. Failures can be injected to drive the
// out of date paths of the frontend.
type SwapChain struct {
	object
	params metadata.SwapChainCreationParams
	images []renderer.Image

	mutex        sync.Mutex
	next         uint32
	failAcquires int
	failPresent  error
	presents     []Presentation
	colorSpace   metadata.ColorSpace
	hdr          *metadata.HDRMetadata
	retired      bool
}

func (g *GPU) CreateSwapChain(params *metadata.SwapChainCreationParams, old renderer.SwapChainImpl) (renderer.SwapChainImpl, error) {
	if params.Width == 0 || params.Height == 0 {
		return nil, errors.Newf("swapchain extent %dx%d", params.Width, params.Height)
	}
	g.mutex.Lock()
	err := g.failSwapChain
	g.failSwapChain = nil
	g.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	if old != nil {
		prev, ok := old.(*SwapChain)
		if !ok {
			return nil, errors.Newf("swapchain %T does not belong to the headless backend", old)
		}
		prev.mutex.Lock()
		prev.retired = true
		prev.mutex.Unlock()
	}

	count := params.BackBufferCount
	if count == 0 {
		count = 2
	}
	sc := &SwapChain{object: newObject(g), params: *params}
	for i := uint32(0); i < count; i++ {
		desc := metadata.Tex2DDesc(fmt.Sprintf("back buffer %d", i), params.Format, params.Width, params.Height, 1, 1, metadata.ResourceFlagsAllowRenderTarget)
		// Owned by the swapchain, so not counted as live objects.
		sc.images = append(sc.images, newImage(nil, &desc))
	}

	g.mutex.Lock()
	g.swapchains = append(g.swapchains, sc)
	g.mutex.Unlock()
	return sc, nil
}

// FailNextSwapChain makes the next CreateSwapChain return err.
func (g *GPU) FailNextSwapChain(err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.failSwapChain = err
}

// SwapChains lists every swapchain created, oldest first.
func (g *GPU) SwapChains() []*SwapChain {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]*SwapChain(nil), g.swapchains...)
}

func (s *SwapChain) Images() []renderer.Image                 { return s.images }
func (s *SwapChain) Format() metadata.ResourceFormat          { return s.params.Format }
func (s *SwapChain) Extent() (uint32, uint32)                 { return s.params.Width, s.params.Height }
func (s *SwapChain) Params() metadata.SwapChainCreationParams { return s.params }
func (s *SwapChain) Native() interface{}                      { return s }

// FailAcquires makes the next n acquires report an out of date surface.
func (s *SwapChain) FailAcquires(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failAcquires = n
}

// FailNextPresent makes the next Present return err.
func (s *SwapChain) FailNextPresent(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failPresent = err
}

func (s *SwapChain) AcquireNextImage(signal renderer.Semaphore) (uint32, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	core.Assert(!s.IsDestroyed(), "acquire on a destroyed swapchain")
	if s.retired {
		return 0, errors.Wrap(core.ErrSwapchainOutOfDate, "swapchain retired")
	}
	if s.failAcquires > 0 {
		s.failAcquires--
		return 0, errors.Wrap(core.ErrSwapchainOutOfDate, "injected acquire failure")
	}
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return index, nil
}

func (s *SwapChain) Present(queue metadata.QueueType, imageIndex uint32, wait renderer.Semaphore) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.failPresent; err != nil {
		s.failPresent = nil
		return err
	}
	if imageIndex >= uint32(len(s.images)) {
		return errors.Newf("present of image %d of %d", imageIndex, len(s.images))
	}
	s.presents = append(s.presents, Presentation{Queue: queue, Image: imageIndex, Wait: wait})
	return nil
}

func (s *SwapChain) Presents() []Presentation {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Presentation(nil), s.presents...)
}

func (s *SwapChain) SetHDRMetadata(colorSpace metadata.ColorSpace, meta *metadata.HDRMetadata) error {
	if s.gpu == nil || !s.gpu.opts.HDRSupported {
		return core.ErrNotSupported
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	m := *meta
	s.colorSpace = colorSpace
	s.hdr = &m
	return nil
}

// HDRMetadata returns the last metadata sent to the display, nil if none.
func (s *SwapChain) HDRMetadata() (metadata.ColorSpace, *metadata.HDRMetadata) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.colorSpace, s.hdr
}

func (s *SwapChain) IsRetired() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.retired
}

func (s *SwapChain) Destroy() {
	for _, img := range s.images {
		img.Destroy()
	}
	s.release()
}
