package renderer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// DeviceRemovedCallback is invoked once when a submit or present reports device loss. The
// embedding application decides how to recover.
type DeviceRemovedCallback func(err error)

// deferredRelease runs once every queue reached its ticket. Zero tickets are always complete.
type deferredRelease struct {
	tickets [metadata.QueueTypeCount]uint64
	release func()
}

// pendingInit is a fresh resource whose backend contents are still undefined. state is the
// state it was created in, which later barriers start from.
type pendingInit struct {
	resource   *GPUResource
	generation uint64
	state      metadata.ResourceState
}

// Device is the explicit handle every renderer object is created from. It owns the GPU and
// everything shared between frames: queues, command pools, view heaps and the per-frame pools.
type Device struct {
	cfg  *core.Config
	gpu  GPU
	caps DeviceCaps

	queues [metadata.QueueTypeCount]*QueueSyncPrimitive
	pools  [metadata.QueueTypeCount]commandPoolList

	viewAllocator *ResourceViewAllocator
	dynamicPool   *DynamicBufferPool
	uploadHeap    *UploadHeap
	resize        resizeNotifier
	swapChain     *SwapChain

	deferredMutex sync.Mutex
	deferred      []deferredRelease

	pendingMutex sync.Mutex
	pendingInits []pendingInit

	samplerMutex sync.Mutex
	samplers     map[metadata.SamplerDesc]Sampler

	loopRunning atomic.Bool

	removedMutex sync.Mutex
	onRemoved    DeviceRemovedCallback
	removed      bool
}

// NewDevice takes ownership of gpu. Destroy releases it.
func NewDevice(cfg *core.Config, gpu GPU) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:      cfg,
		gpu:      gpu,
		caps:     gpu.Caps(),
		samplers: make(map[metadata.SamplerDesc]Sampler),
	}

	for q := metadata.QueueType(0); q < metadata.QueueTypeCount; q++ {
		qsp, err := newQueueSyncPrimitive(d, q)
		if err != nil {
			d.Destroy()
			return nil, err
		}
		d.queues[q] = qsp
		core.LogInfo("%s queue on family %d", q, qsp.family)
	}

	d.viewAllocator = newResourceViewAllocator(gpu, &cfg.ViewHeaps)
	d.viewAllocator.samplers = d.sampler

	heap, err := newUploadHeap(d, cfg.UploadHeapSize)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.uploadHeap = heap

	alignment := cfg.DynamicBufferAlignment
	if d.caps.MinConstantBufferAlignment > alignment {
		alignment = d.caps.MinConstantBufferAlignment
	}
	pool, err := newDynamicBufferPool(d, cfg.DynamicBufferPoolSize, alignment)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.dynamicPool = pool
	return d, nil
}

func (d *Device) Config() *core.Config { return d.cfg }
func (d *Device) Caps() DeviceCaps     { return d.caps }
func (d *Device) GPU() GPU             { return d.gpu }

func (d *Device) Queue(q metadata.QueueType) *QueueSyncPrimitive {
	return d.queues[q]
}

// QueueFamily returns the hardware family backing a queue type. Distinct queue types may share
// a family.
func (d *Device) QueueFamily(q metadata.QueueType) uint32 {
	return d.caps.QueueFamilies[q]
}

// FrameInterpolationQueue maps a frame interpolation queue onto the main queue it aliases.
func (d *Device) FrameInterpolationQueue(q metadata.FrameInterpolationQueue) metadata.QueueType {
	switch q {
	case metadata.FrameInterpolationAsyncCompute:
		if d.QueueFamily(metadata.QueueCompute) != d.QueueFamily(metadata.QueueGraphics) {
			return metadata.QueueCompute
		}
		return metadata.QueueGraphics
	default:
		return metadata.QueueGraphics
	}
}

func (d *Device) ViewAllocator() *ResourceViewAllocator { return d.viewAllocator }
func (d *Device) DynamicBufferPool() *DynamicBufferPool { return d.dynamicPool }
func (d *Device) UploadHeap() *UploadHeap               { return d.uploadHeap }
func (d *Device) SwapChain() *SwapChain                 { return d.swapChain }

// SetFrameLoopRunning tells the device whether the frame loop started. While it runs, blocking
// operations reject render-thread contexts.
func (d *Device) SetFrameLoopRunning(running bool) {
	d.loopRunning.Store(running)
}

func (d *Device) assertNotRenderThread(ctx context.Context, op string) {
	core.Assert(!(d.loopRunning.Load() && IsRenderThread(ctx)), "%s blocks and cannot run on the render thread while the frame loop runs", op)
}

func (d *Device) SetDeviceRemovedCallback(fn DeviceRemovedCallback) {
	d.removedMutex.Lock()
	defer d.removedMutex.Unlock()
	d.onRemoved = fn
}

// IsDeviceRemoved reports whether a device loss was observed.
func (d *Device) IsDeviceRemoved() bool {
	d.removedMutex.Lock()
	defer d.removedMutex.Unlock()
	return d.removed
}

func (d *Device) notifyDeviceRemoved(err error) {
	d.removedMutex.Lock()
	if d.removed {
		d.removedMutex.Unlock()
		return
	}
	d.removed = true
	fn := d.onRemoved
	d.removedMutex.Unlock()

	core.LogError("device removed: %s", err)
	if fn != nil {
		fn(err)
	}
}

// ExecuteCommandLists submits closed command lists and returns the queue ticket signaled on
// completion. The first submission of a frame waits for the acquired back buffer; the last one
// signals the frame semaphore Present waits on.
func (d *Device) ExecuteCommandLists(lists []*CommandList, queue metadata.QueueType, isFirstSubmissionOfFrame, isLastSubmissionOfFrame bool) (uint64, error) {
	opts := SubmitOptions{}
	if isFirstSubmissionOfFrame || isLastSubmissionOfFrame {
		core.Assert(d.swapChain != nil, "frame submissions need a swapchain")
	}
	if isFirstSubmissionOfFrame {
		opts.ImageAcquired = d.swapChain.ImageAcquiredSemaphore()
	}
	if isLastSubmissionOfFrame {
		opts.EndOfFrame = true
		opts.BackBufferIndex = d.swapChain.CurrentBackBufferIndex()
	}
	return d.submit(lists, queue, opts)
}

// ExecuteCommandListsImmediate submits and waits for completion. It must not be called from the
// render thread once the frame loop runs.
func (d *Device) ExecuteCommandListsImmediate(ctx context.Context, lists []*CommandList, queue metadata.QueueType) error {
	d.assertNotRenderThread(ctx, "ExecuteCommandListsImmediate")
	ticket, err := d.submit(lists, queue, SubmitOptions{})
	if err != nil {
		return err
	}
	return d.queues[queue].Wait(ctx, ticket)
}

// DependentSubmission is a pair of submissions linked by a pooled semaphore. Release returns the
// semaphore once the second submission completed.
type DependentSubmission struct {
	device       *Device
	FirstQueue   metadata.QueueType
	SecondQueue  metadata.QueueType
	FirstTicket  uint64
	SecondTicket uint64
	semaphore    Semaphore
	released     bool
}

func (s *DependentSubmission) Semaphore() Semaphore { return s.semaphore }

// Release hands the semaphore back to the pool of the first queue as soon as the second queue
// passed its ticket. It is safe to call before that happens.
func (s *DependentSubmission) Release() {
	core.Assert(!s.released, "dependent submission released twice")
	s.released = true
	sem, pool := s.semaphore, s.device.queues[s.FirstQueue]
	s.device.deferRelease(s.SecondQueue, s.SecondTicket, func() { pool.ReleaseOwnershipSemaphore(sem) })
	s.device.ProcessDeferredReleases()
}

// ExecuteCommandListsDependent submits first on firstQueue signaling a pooled semaphore, then
// second on secondQueue waiting on it.
func (d *Device) ExecuteCommandListsDependent(first []*CommandList, firstQueue metadata.QueueType, second []*CommandList, secondQueue metadata.QueueType) (*DependentSubmission, error) {
	core.Assert(firstQueue != secondQueue, "dependent submission on a single %s queue", firstQueue)
	pool := d.queues[firstQueue]
	sem, err := pool.AcquireOwnershipSemaphore()
	if err != nil {
		return nil, err
	}

	t1, err := d.submit(first, firstQueue, SubmitOptions{Signal: sem})
	if err != nil {
		pool.ReleaseOwnershipSemaphore(sem)
		for _, cl := range second {
			d.retireCommandList(cl, 0)
		}
		return nil, err
	}
	t2, err := d.submit(second, secondQueue, SubmitOptions{Wait: sem})
	if err != nil {
		// The signal is pending with no waiter, so the semaphore cannot be reused.
		d.deferRelease(firstQueue, t1, sem.Destroy)
		return nil, err
	}
	return &DependentSubmission{
		device:       d,
		FirstQueue:   firstQueue,
		SecondQueue:  secondQueue,
		FirstTicket:  t1,
		SecondTicket: t2,
		semaphore:    sem,
	}, nil
}

// ExecuteResourceTransitionImmediate records barriers on a graphics list and waits for them.
func (d *Device) ExecuteResourceTransitionImmediate(ctx context.Context, barriers ...Barrier) error {
	cl, err := d.CreateCommandList("immediate transition", metadata.QueueGraphics)
	if err != nil {
		return err
	}
	cl.ResourceBarrier(barriers...)
	if err := cl.Close(); err != nil {
		return err
	}
	return d.ExecuteCommandListsImmediate(ctx, []*CommandList{cl}, metadata.QueueGraphics)
}

func (d *Device) submit(lists []*CommandList, queue metadata.QueueType, opts SubmitOptions) (uint64, error) {
	for _, cl := range lists {
		core.Assert(cl.queue == queue, "command list %s belongs to the %s queue, submitted to %s", cl.name, cl.queue, queue)
		core.Assert(cl.state == CommandListClosed, "command list %s submitted while %s", cl.name, cl.state)
	}
	retire := func(ticket uint64) {
		for _, cl := range lists {
			d.retireCommandList(cl, ticket)
		}
	}

	// Initial transitions run on graphics. Flushing them under the graphics lock keeps them
	// ahead of every later graphics submission.
	graphics := d.queues[metadata.QueueGraphics]
	graphics.mutex.Lock()
	init, err := d.flushPendingInits()
	if err != nil {
		graphics.mutex.Unlock()
		retire(0)
		return 0, err
	}
	if queue == metadata.QueueGraphics {
		if init != nil {
			lists = append([]*CommandList{init}, lists...)
		}
		ticket, err := graphics.submitLocked(commandBuffers(lists), opts)
		graphics.mutex.Unlock()
		retire(ticket)
		if err != nil {
			return 0, err
		}
		return ticket, nil
	}
	if init != nil {
		t, err := graphics.submitLocked([]CommandBuffer{init.cmd}, SubmitOptions{})
		d.retireCommandList(init, t)
		if err != nil {
			graphics.mutex.Unlock()
			retire(0)
			return 0, err
		}
		// The other queue starts once the images left their undefined layout.
		opts.WaitTimeline, opts.WaitValue = graphics.timeline, t
	}
	graphics.mutex.Unlock()

	ticket, err := d.queues[queue].Submit(commandBuffers(lists), opts)
	retire(ticket)
	if err != nil {
		return 0, err
	}
	return ticket, nil
}

func commandBuffers(lists []*CommandList) []CommandBuffer {
	cmds := make([]CommandBuffer, len(lists))
	for i, cl := range lists {
		cmds[i] = cl.cmd
	}
	return cmds
}

// queueInitialTransition schedules the transition of a fresh image from undefined contents into
// state, the state it was created in. It runs on the graphics queue ahead of the next
// submission to any queue.
func (d *Device) queueInitialTransition(res *GPUResource, state metadata.ResourceState) {
	if state == metadata.ResourceStateUndefined {
		return
	}
	d.pendingMutex.Lock()
	defer d.pendingMutex.Unlock()
	d.pendingInits = append(d.pendingInits, pendingInit{resource: res, generation: res.generation, state: state})
}

// takePendingInit removes res from the pending list. ok reports whether it was there, meaning
// its contents are still undefined; state is the state it was created in.
func (d *Device) takePendingInit(res *GPUResource) (state metadata.ResourceState, ok bool) {
	d.pendingMutex.Lock()
	defer d.pendingMutex.Unlock()
	for i, p := range d.pendingInits {
		if p.resource == res && p.generation == res.generation {
			d.pendingInits = append(d.pendingInits[:i], d.pendingInits[i+1:]...)
			return p.state, true
		}
	}
	return metadata.ResourceStateUndefined, false
}

// PendingInitialTransitions is the number of resources waiting for their first transition.
func (d *Device) PendingInitialTransitions() int {
	d.pendingMutex.Lock()
	defer d.pendingMutex.Unlock()
	return len(d.pendingInits)
}

func (d *Device) flushPendingInits() (*CommandList, error) {
	d.pendingMutex.Lock()
	pending := d.pendingInits
	d.pendingInits = nil
	d.pendingMutex.Unlock()

	var records []BarrierRecord
	for _, p := range pending {
		res := p.resource
		if res.generation != p.generation || (res.image == nil && res.buffer == nil) {
			continue
		}
		records = append(records, d.record(res, metadata.AllSubresources, metadata.ResourceStateUndefined,
			p.state, QueueFamilyIgnored, QueueFamilyIgnored, OwnershipNone, false))
	}
	if len(records) == 0 {
		return nil, nil
	}

	cl, err := d.CreateCommandList("initial transitions", metadata.QueueGraphics)
	if err != nil {
		return nil, err
	}
	cl.cmd.Barriers(records)
	if err := cl.Close(); err != nil {
		return nil, err
	}
	return cl, nil
}

// deferRelease runs release once queue has completed ticket.
func (d *Device) deferRelease(queue metadata.QueueType, ticket uint64, release func()) {
	r := deferredRelease{release: release}
	r.tickets[queue] = ticket
	d.deferredMutex.Lock()
	defer d.deferredMutex.Unlock()
	d.deferred = append(d.deferred, r)
}

// deferDestroy runs release once all work submitted so far on every queue completed.
func (d *Device) deferDestroy(release func()) {
	r := deferredRelease{release: release}
	for q, qsp := range d.queues {
		r.tickets[q] = qsp.LatestSignaledValue()
	}
	d.deferredMutex.Lock()
	defer d.deferredMutex.Unlock()
	d.deferred = append(d.deferred, r)
}

// ProcessDeferredReleases runs every release whose ticket completed.
func (d *Device) ProcessDeferredReleases() {
	var completed [metadata.QueueTypeCount]uint64
	for q, qsp := range d.queues {
		if qsp != nil {
			completed[q] = qsp.QueryLastCompletedValue()
		}
	}

	d.deferredMutex.Lock()
	var ready []func()
	kept := d.deferred[:0]
	for _, r := range d.deferred {
		if r.ready(&completed) {
			ready = append(ready, r.release)
		} else {
			kept = append(kept, r)
		}
	}
	d.deferred = kept
	d.deferredMutex.Unlock()

	for _, fn := range ready {
		fn()
	}
}

func (r *deferredRelease) ready(completed *[metadata.QueueTypeCount]uint64) bool {
	for q, t := range r.tickets {
		if t > completed[q] {
			return false
		}
	}
	return true
}

// DeferredReleaseCount is the number of releases still waiting on the GPU.
func (d *Device) DeferredReleaseCount() int {
	d.deferredMutex.Lock()
	defer d.deferredMutex.Unlock()
	return len(d.deferred)
}

// EndFrame reclaims per-frame memory and runs deferred releases. Call it after Present.
func (d *Device) EndFrame() {
	d.dynamicPool.EndFrame()
	d.ProcessDeferredReleases()
}

func (d *Device) FlushQueue(q metadata.QueueType) error {
	return d.queues[q].Flush()
}

// FlushAllQueues blocks until every queue is idle.
func (d *Device) FlushAllQueues() error {
	for _, q := range d.queues {
		if q == nil {
			continue
		}
		if err := q.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// sampler returns a cached backend sampler for desc. Cached samplers live as long as the device.
func (d *Device) sampler(desc *metadata.SamplerDesc) (Sampler, error) {
	d.samplerMutex.Lock()
	defer d.samplerMutex.Unlock()
	if s, ok := d.samplers[*desc]; ok {
		return s, nil
	}
	s, err := d.gpu.CreateSampler(desc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sampler")
	}
	d.samplers[*desc] = s
	return s, nil
}

// Destroy waits for the GPU, releases everything the device owns and closes the GPU.
func (d *Device) Destroy() {
	if d.gpu == nil {
		return
	}
	if err := d.gpu.WaitIdle(); err != nil {
		core.LogWarn("wait idle on shutdown: %s", err)
	}
	for _, q := range d.queues {
		if q != nil {
			q.observeCompleted(q.LatestSignaledValue())
		}
	}
	d.ProcessDeferredReleases()

	if d.dynamicPool != nil {
		d.dynamicPool.destroy()
	}
	if d.uploadHeap != nil {
		d.uploadHeap.destroy()
	}
	for _, s := range d.samplers {
		s.Destroy()
	}
	d.samplers = nil
	for q := range d.pools {
		d.pools[q].destroy()
	}
	for _, q := range d.queues {
		if q != nil {
			q.destroy()
		}
	}
	d.gpu.Destroy()
	d.gpu = nil
}
