package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// queueLockPool hands out one mutex per queue family. vkQueueSubmit and vkQueuePresentKHR
// require external synchronization of the VkQueue, and queue types that share a family share
// the queue.
type queueLockPool struct {
	mu    sync.Mutex
	locks map[uint32]*sync.Mutex
}

func newQueueLockPool() *queueLockPool {
	return &queueLockPool{locks: make(map[uint32]*sync.Mutex)}
}

func (p *queueLockPool) lock(family uint32) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[family]
	if !ok {
		l = &sync.Mutex{}
		p.locks[family] = l
	}
	return l
}

// SafeQueueCall runs fn while holding the lock of the queue family.
func (p *queueLockPool) SafeQueueCall(family uint32, fn func() error) error {
	l := p.lock(family)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// CommandPool wraps a VkCommandPool with exactly one primary command buffer. Framebuffers made
// while recording live until the pool is reset.
type CommandPool struct {
	gpu    *GPU
	queue  metadata.QueueType
	handle vk.CommandPool
	cmd    *CommandBuffer

	framebuffers []vk.Framebuffer
}

func (g *GPU) CreateCommandPool(queue metadata.QueueType) (renderer.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: g.queues[queue].family,
	}
	var handle vk.CommandPool
	if res := vk.CreateCommandPool(g.device, &info, g.allocator, &handle); res != vk.Success {
		return nil, resultError(res, "failed to create %s command pool", queue)
	}
	return &CommandPool{gpu: g, queue: queue, handle: handle}, nil
}

func (p *CommandPool) CommandBuffer() (renderer.CommandBuffer, error) {
	if p.cmd != nil {
		return p.cmd, nil
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(p.gpu.device, &info, handles); res != vk.Success {
		return nil, resultError(res, "failed to allocate command buffer")
	}
	p.cmd = &CommandBuffer{pool: p, handle: handles[0]}
	return p.cmd, nil
}

func (p *CommandPool) Reset() error {
	p.releaseFramebuffers()
	if res := vk.ResetCommandPool(p.gpu.device, p.handle, 0); res != vk.Success {
		return resultError(res, "failed to reset command pool")
	}
	if p.cmd != nil {
		p.cmd.state = commandBufferReady
	}
	return nil
}

func (p *CommandPool) Destroy() {
	if p.handle == vk.NullCommandPool {
		return
	}
	p.releaseFramebuffers()
	if p.cmd != nil {
		vk.FreeCommandBuffers(p.gpu.device, p.handle, 1, []vk.CommandBuffer{p.cmd.handle})
		p.cmd = nil
	}
	vk.DestroyCommandPool(p.gpu.device, p.handle, p.gpu.allocator)
	p.handle = vk.NullCommandPool
}

func (p *CommandPool) trackFramebuffer(fb vk.Framebuffer) {
	p.framebuffers = append(p.framebuffers, fb)
}

func (p *CommandPool) releaseFramebuffers() {
	for _, fb := range p.framebuffers {
		vk.DestroyFramebuffer(p.gpu.device, fb, p.gpu.allocator)
	}
	p.framebuffers = p.framebuffers[:0]
}

var errNotVulkan = errors.New("object was not created by the vulkan backend")
