package systems

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
)

// JobTask is one unit of background work. OnComplete and OnFailure run on the worker goroutine.
type JobTask struct {
	Name       string
	Run        func(ctx context.Context) error
	OnComplete func()
	OnFailure  func(err error)
}

// JobSystem is a fixed pool of workers draining a job queue. Workers carry the pool's context,
// which Shutdown cancels after the queue is drained.
type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	mutex  sync.RWMutex
	closed bool
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

func NewJobSystem(ctx context.Context, numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.ctx, js.cancel = context.WithCancel(ctx)
	js.start()
	core.LogDebug("job system started with %d workers", numWorkers)
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	err := job.Run(js.ctx)
	if err != nil {
		core.LogError("job %s failed: %v", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

// Submit queues the job, blocking while the queue is full.
func (js *JobSystem) Submit(jt JobTask) error {
	core.Assert(jt.Run != nil, "job %s has no Run function", jt.Name)
	js.mutex.RLock()
	defer js.mutex.RUnlock()
	if js.closed {
		return errors.Wrapf(ErrJobSystemClosed, "submitting job %s", jt.Name)
	}
	js.jobQueue <- jt
	return nil
}

// Shutdown stops accepting jobs, waits for the queued ones and cancels the worker context.
func (js *JobSystem) Shutdown() {
	js.mutex.Lock()
	if js.closed {
		js.mutex.Unlock()
		return
	}
	js.closed = true
	close(js.jobQueue)
	js.mutex.Unlock()

	js.wg.Wait()
	js.cancel()
}
