package systems

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(context.Background(), 0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("zero workers\nhave %v\nwant %v", err, ErrNoWorkers)
	}
	if _, err := NewJobSystem(context.Background(), 1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("negative channel\nhave %v\nwant %v", err, ErrNegativeChannelSize)
	}
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(context.Background(), 4, 8)
	if err != nil {
		t.Fatal(err)
	}

	var (
		completed atomic.Int32
		failed    atomic.Int32
		wg        sync.WaitGroup
	)
	boom := errors.New("boom")
	for i := 0; i < 20; i++ {
		wg.Add(1)
		fail := i%4 == 0
		err := js.Submit(JobTask{
			Name: "job",
			Run: func(ctx context.Context) error {
				if fail {
					return boom
				}
				return nil
			},
			OnComplete: func() { completed.Add(1); wg.Done() },
			OnFailure: func(err error) {
				if errors.Is(err, boom) {
					failed.Add(1)
				}
				wg.Done()
			},
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	js.Shutdown()

	if have := completed.Load(); have != 15 {
		t.Errorf("completed\nhave %d\nwant 15", have)
	}
	if have := failed.Load(); have != 5 {
		t.Errorf("failed\nhave %d\nwant 5", have)
	}
}

func TestJobSystemShutdownDrainsQueue(t *testing.T) {
	js, err := NewJobSystem(context.Background(), 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if err := js.Submit(JobTask{Name: "count", Run: func(context.Context) error { ran.Add(1); return nil }}); err != nil {
			t.Fatal(err)
		}
	}
	js.Shutdown()
	if have := ran.Load(); have != 10 {
		t.Errorf("jobs run before shutdown returned\nhave %d\nwant 10", have)
	}

	if err := js.Submit(JobTask{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrJobSystemClosed) {
		t.Errorf("Submit after Shutdown\nhave %v\nwant %v", err, ErrJobSystemClosed)
	}
	// A second shutdown is a no-op.
	js.Shutdown()
}

func TestJobSystemCancelsContextOnShutdown(t *testing.T) {
	js, err := NewJobSystem(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	var jobCtx context.Context
	done := make(chan struct{})
	if err := js.Submit(JobTask{Name: "ctx", Run: func(ctx context.Context) error {
		jobCtx = ctx
		close(done)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	<-done
	js.Shutdown()
	if jobCtx.Err() == nil {
		t.Error("worker context still live after Shutdown")
	}
}
