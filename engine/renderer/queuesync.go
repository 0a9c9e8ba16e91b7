package renderer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// SubmitOptions carries the optional semaphores of one submission.
type SubmitOptions struct {
	// ImageAcquired is the swapchain semaphore of the back buffer being rendered.
	ImageAcquired Semaphore
	// Wait is an external semaphore, e.g. an ownership transfer from another queue.
	Wait Semaphore
	// WaitTimeline, when set, holds the submission until it reaches WaitValue.
	WaitTimeline TimelineSemaphore
	WaitValue    uint64
	// Signal is an extra binary semaphore signaled with the timeline.
	Signal Semaphore
	// EndOfFrame signals the frame semaphore of BackBufferIndex, waited on by Present.
	EndOfFrame      bool
	BackBufferIndex uint32
}

// QueueSyncPrimitive serializes access to one queue and tracks its timeline. Tickets returned
// by Submit strictly increase; Wait(ticket) returns once the GPU reached it.
type QueueSyncPrimitive struct {
	device *Device
	queue  metadata.QueueType
	family uint32

	// Guards submission and present. Submissions to different queues run in parallel.
	mutex     sync.Mutex
	timeline  TimelineSemaphore
	latest    atomic.Uint64
	completed atomic.Uint64

	frameSemaphores []Semaphore

	ownershipMutex   sync.Mutex
	ownershipFree    []Semaphore
	ownershipCreated int
}

func newQueueSyncPrimitive(d *Device, queue metadata.QueueType) (*QueueSyncPrimitive, error) {
	timeline, err := d.gpu.CreateTimelineSemaphore(0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s timeline semaphore", queue)
	}
	return &QueueSyncPrimitive{
		device:   d,
		queue:    queue,
		family:   d.caps.QueueFamilies[queue],
		timeline: timeline,
	}, nil
}

func (q *QueueSyncPrimitive) Queue() metadata.QueueType { return q.queue }
func (q *QueueSyncPrimitive) Family() uint32            { return q.family }
func (q *QueueSyncPrimitive) Timeline() TimelineSemaphore {
	return q.timeline
}

// Submit sends command buffers to the queue and returns the timeline value that signals their
// completion.
func (q *QueueSyncPrimitive) Submit(cmds []CommandBuffer, opts SubmitOptions) (uint64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.submitLocked(cmds, opts)
}

func (q *QueueSyncPrimitive) submitLocked(cmds []CommandBuffer, opts SubmitOptions) (uint64, error) {
	batch := &SubmitBatch{CommandBuffers: cmds}
	if opts.ImageAcquired != nil {
		batch.Waits = append(batch.Waits, SemaphoreOp{Semaphore: opts.ImageAcquired})
	}
	if opts.Wait != nil {
		batch.Waits = append(batch.Waits, SemaphoreOp{Semaphore: opts.Wait})
	}
	if opts.WaitTimeline != nil {
		batch.Waits = append(batch.Waits, SemaphoreOp{Semaphore: opts.WaitTimeline, Value: opts.WaitValue})
	}

	// The counter only moves once the submission is accepted, so a failed submit never leaves
	// a value nobody will signal.
	value := q.latest.Load() + 1
	batch.Signals = append(batch.Signals, SemaphoreOp{Semaphore: q.timeline, Value: value})
	if opts.Signal != nil {
		batch.Signals = append(batch.Signals, SemaphoreOp{Semaphore: opts.Signal})
	}
	if opts.EndOfFrame {
		core.Assert(int(opts.BackBufferIndex) < len(q.frameSemaphores), "%s queue: no frame semaphore for back buffer %d", q.queue, opts.BackBufferIndex)
		batch.Signals = append(batch.Signals, SemaphoreOp{Semaphore: q.frameSemaphores[opts.BackBufferIndex]})
	}

	if err := q.device.gpu.Submit(q.queue, batch); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			q.device.notifyDeviceRemoved(err)
		}
		return 0, errors.Wrapf(err, "%s queue submit failed", q.queue)
	}
	q.latest.Store(value)
	return value, nil
}

// Wait blocks until the queue timeline reaches value.
func (q *QueueSyncPrimitive) Wait(ctx context.Context, value uint64) error {
	if value <= q.completed.Load() {
		return nil
	}
	core.Assert(value <= q.latest.Load(), "%s queue: waiting for %d which was never submitted (latest %d)", q.queue, value, q.latest.Load())
	if err := q.timeline.Wait(ctx, value); err != nil {
		return errors.Wrapf(err, "%s queue: wait for %d failed", q.queue, value)
	}
	q.observeCompleted(value)
	return nil
}

// QueryLastCompletedValue returns the highest timeline value known to have completed. It never
// exceeds LatestSignaledValue.
func (q *QueueSyncPrimitive) QueryLastCompletedValue() uint64 {
	v, err := q.timeline.Value()
	if err != nil {
		core.LogWarn("%s queue: failed to read timeline: %s", q.queue, err)
	} else {
		q.observeCompleted(v)
	}
	return q.completed.Load()
}

// LatestSignaledValue is the ticket of the most recent submission.
func (q *QueueSyncPrimitive) LatestSignaledValue() uint64 {
	return q.latest.Load()
}

func (q *QueueSyncPrimitive) observeCompleted(v uint64) {
	for {
		cur := q.completed.Load()
		if v <= cur || q.completed.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Flush blocks until the queue is idle, presents included.
func (q *QueueSyncPrimitive) Flush() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if err := q.device.gpu.WaitQueueIdle(q.queue); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			q.device.notifyDeviceRemoved(err)
		}
		return errors.Wrapf(err, "%s queue flush failed", q.queue)
	}
	q.observeCompleted(q.latest.Load())
	return nil
}

// Present waits for the frame semaphore of backBufferIndex then presents the image. Out of date
// surfaces are returned to the caller, any other failure is reported to the device-removed
// callback.
func (q *QueueSyncPrimitive) Present(sc SwapChainImpl, imageIndex, backBufferIndex uint32) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	core.Assert(int(backBufferIndex) < len(q.frameSemaphores), "%s queue: no frame semaphore for back buffer %d", q.queue, backBufferIndex)
	err := sc.Present(q.queue, imageIndex, q.frameSemaphores[backBufferIndex])
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrSwapchainOutOfDate) {
		core.LogWarn("present: swapchain out of date")
		return err
	}
	q.device.notifyDeviceRemoved(err)
	return errors.Wrap(err, "present failed")
}

// resetFrameSemaphores creates one binary semaphore per back buffer. The queue must be idle.
func (q *QueueSyncPrimitive) resetFrameSemaphores(count int) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, s := range q.frameSemaphores {
		s.Destroy()
	}
	q.frameSemaphores = q.frameSemaphores[:0]
	for i := 0; i < count; i++ {
		s, err := q.device.gpu.CreateSemaphore()
		if err != nil {
			return errors.Wrapf(err, "failed to create frame semaphore %d", i)
		}
		q.frameSemaphores = append(q.frameSemaphores, s)
	}
	return nil
}

// FrameSemaphore returns the semaphore signaled by the last submission of a frame rendering to
// backBufferIndex.
func (q *QueueSyncPrimitive) FrameSemaphore(backBufferIndex uint32) Semaphore {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if int(backBufferIndex) >= len(q.frameSemaphores) {
		return nil
	}
	return q.frameSemaphores[backBufferIndex]
}

// AcquireOwnershipSemaphore takes a binary semaphore from the pool, creating one if it is empty.
func (q *QueueSyncPrimitive) AcquireOwnershipSemaphore() (Semaphore, error) {
	q.ownershipMutex.Lock()
	defer q.ownershipMutex.Unlock()

	if n := len(q.ownershipFree); n > 0 {
		s := q.ownershipFree[n-1]
		q.ownershipFree = q.ownershipFree[:n-1]
		return s, nil
	}
	s, err := q.device.gpu.CreateSemaphore()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ownership semaphore")
	}
	q.ownershipCreated++
	core.LogDebug("%s queue: ownership semaphore pool grew to %d", q.queue, q.ownershipCreated)
	return s, nil
}

// ReleaseOwnershipSemaphore returns a semaphore to the pool. The caller guarantees its wait
// has executed.
func (q *QueueSyncPrimitive) ReleaseOwnershipSemaphore(s Semaphore) {
	q.ownershipMutex.Lock()
	defer q.ownershipMutex.Unlock()
	q.ownershipFree = append(q.ownershipFree, s)
}

// OwnershipSemaphoresCreated is the number of semaphores the pool ever allocated.
func (q *QueueSyncPrimitive) OwnershipSemaphoresCreated() int {
	q.ownershipMutex.Lock()
	defer q.ownershipMutex.Unlock()
	return q.ownershipCreated
}

func (q *QueueSyncPrimitive) destroy() {
	q.ownershipMutex.Lock()
	for _, s := range q.ownershipFree {
		s.Destroy()
	}
	q.ownershipFree = nil
	q.ownershipMutex.Unlock()

	q.mutex.Lock()
	for _, s := range q.frameSemaphores {
		s.Destroy()
	}
	q.frameSemaphores = nil
	q.timeline.Destroy()
	q.mutex.Unlock()
}
