// Package headless is a renderer backend without a GPU. Work completes when it is submitted,
// or when the test drives completion by hand, and every submission is recorded so the
// synchronization the frontend emits can be inspected.
package headless

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

const BackendName = "headless"

// Options shape the simulated device.
type Options struct {
	// DistinctCopyFamily puts the copy queue in its own family, forcing ownership transfers.
	DistinctCopyFamily    bool
	DistinctComputeFamily bool
	// ManualCompletion keeps submitted work pending until CompleteQueue or CompleteUpTo.
	ManualCompletion     bool
	HDRSupported         bool
	MaxPushConstantsSize uint32
}

type Backend struct {
	Options Options
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) Open(cfg *core.Config, surface renderer.SurfaceProvider) (renderer.GPU, error) {
	return New(b.Options), nil
}

func init() {
	renderer.RegisterBackend(&Backend{})
}

// Submission is one recorded queue submission. Commands are snapshots taken at submit time.
type Submission struct {
	Queue    metadata.QueueType
	Family   uint32
	Commands [][]Command
	Waits    []renderer.SemaphoreOp
	Signals  []renderer.SemaphoreOp
}

// Barriers flattens the barriers of every command buffer of the submission.
func (s *Submission) Barriers() []renderer.BarrierRecord {
	var out []renderer.BarrierRecord
	for _, cmds := range s.Commands {
		for _, c := range cmds {
			if c.Op == OpBarriers {
				out = append(out, c.Barriers...)
			}
		}
	}
	return out
}

// Waits reports whether the submission waits on sem.
func (s *Submission) WaitsOn(sem renderer.Semaphore) bool {
	for _, w := range s.Waits {
		if w.Semaphore == sem {
			return true
		}
	}
	return false
}

func (s *Submission) SignalsSemaphore(sem renderer.Semaphore) bool {
	for _, w := range s.Signals {
		if w.Semaphore == sem {
			return true
		}
	}
	return false
}

type pendingSignal struct {
	timeline *Timeline
	value    uint64
}

// GPU implements renderer.GPU in memory.
type GPU struct {
	opts Options
	caps renderer.DeviceCaps

	mutex         sync.Mutex
	submissions   []Submission
	pending       [metadata.QueueTypeCount][]pendingSignal
	failSubmit    error
	failSwapChain error
	swapchains    []*SwapChain

	live atomic.Int64
}

func New(opts Options) *GPU {
	caps := renderer.DeviceCaps{
		DeviceName:                 "Headless Device",
		MinConstantBufferAlignment: 256,
		MaxPushConstantsSize:       opts.MaxPushConstantsSize,
		HDRSupported:               opts.HDRSupported,
	}
	if caps.MaxPushConstantsSize == 0 {
		caps.MaxPushConstantsSize = 128
	}
	if opts.DistinctComputeFamily {
		caps.QueueFamilies[metadata.QueueCompute] = 1
	}
	if opts.DistinctCopyFamily {
		caps.QueueFamilies[metadata.QueueCopy] = 2
	}
	return &GPU{opts: opts, caps: caps}
}

func (g *GPU) Caps() renderer.DeviceCaps { return g.caps }

// LiveObjects counts created objects not yet destroyed.
func (g *GPU) LiveObjects() int64 { return g.live.Load() }

func (g *GPU) created()   { g.live.Add(1) }
func (g *GPU) destroyed() { g.live.Add(-1) }

// Submissions returns a copy of the submission log.
func (g *GPU) Submissions() []Submission {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]Submission(nil), g.submissions...)
}

// SubmissionsTo filters the log by queue.
func (g *GPU) SubmissionsTo(queue metadata.QueueType) []Submission {
	var out []Submission
	for _, s := range g.Submissions() {
		if s.Queue == queue {
			out = append(out, s)
		}
	}
	return out
}

func (g *GPU) ResetSubmissions() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.submissions = nil
}

// FailNextSubmit makes the next Submit return err without executing.
func (g *GPU) FailNextSubmit(err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.failSubmit = err
}

func (g *GPU) Submit(queue metadata.QueueType, batch *renderer.SubmitBatch) error {
	g.mutex.Lock()
	if err := g.failSubmit; err != nil {
		g.failSubmit = nil
		g.mutex.Unlock()
		return err
	}

	sub := Submission{
		Queue:   queue,
		Family:  g.caps.QueueFamilies[queue],
		Waits:   append([]renderer.SemaphoreOp(nil), batch.Waits...),
		Signals: append([]renderer.SemaphoreOp(nil), batch.Signals...),
	}
	for _, cb := range batch.CommandBuffers {
		hcb, ok := cb.(*CommandBuffer)
		if !ok {
			g.mutex.Unlock()
			return errors.Newf("command buffer %T does not belong to the headless backend", cb)
		}
		if hcb.recording {
			g.mutex.Unlock()
			return errors.New("submitting a command buffer that is still recording")
		}
		sub.Commands = append(sub.Commands, append([]Command(nil), hcb.commands...))
	}
	g.submissions = append(g.submissions, sub)

	var signals []pendingSignal
	for _, op := range batch.Signals {
		if t, ok := op.Semaphore.(*Timeline); ok {
			signals = append(signals, pendingSignal{timeline: t, value: op.Value})
		}
	}
	if g.opts.ManualCompletion {
		g.pending[queue] = append(g.pending[queue], signals...)
		signals = nil
	}
	g.mutex.Unlock()

	// Work runs at submission; its effects are visible before the timeline moves.
	for _, cmds := range sub.Commands {
		execute(cmds)
	}
	for _, s := range signals {
		s.timeline.signal(s.value)
	}
	return nil
}

// CompleteQueue finishes all pending work of a queue.
func (g *GPU) CompleteQueue(queue metadata.QueueType) {
	g.completeWhere(queue, func(pendingSignal) bool { return true })
}

// CompleteUpTo finishes pending work of a queue whose timeline value is at most value.
func (g *GPU) CompleteUpTo(queue metadata.QueueType, value uint64) {
	g.completeWhere(queue, func(s pendingSignal) bool { return s.value <= value })
}

func (g *GPU) CompleteAll() {
	for q := metadata.QueueType(0); q < metadata.QueueTypeCount; q++ {
		g.CompleteQueue(q)
	}
}

// PendingCount is the number of timeline signals still held back on a queue.
func (g *GPU) PendingCount(queue metadata.QueueType) int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.pending[queue])
}

func (g *GPU) completeWhere(queue metadata.QueueType, match func(pendingSignal) bool) {
	g.mutex.Lock()
	var done []pendingSignal
	kept := g.pending[queue][:0]
	for _, s := range g.pending[queue] {
		// Queues complete in order: stop at the first one that does not match.
		if len(kept) == 0 && match(s) {
			done = append(done, s)
		} else {
			kept = append(kept, s)
		}
	}
	g.pending[queue] = kept
	g.mutex.Unlock()

	for _, s := range done {
		s.timeline.signal(s.value)
	}
}

func (g *GPU) WaitQueueIdle(queue metadata.QueueType) error {
	g.CompleteQueue(queue)
	return nil
}

func (g *GPU) WaitIdle() error {
	g.CompleteAll()
	return nil
}

func (g *GPU) Destroy() {
	g.CompleteAll()
}
