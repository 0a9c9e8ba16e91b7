package renderer_test

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/headless"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func smallPool(cfg *core.Config) {
	cfg.DynamicBufferPoolSize = 1024
	cfg.DynamicBufferAlignment = 256
}

// endFrame stands in for a frame: one graphics submission, then EndFrame.
func endFrame(t *testing.T, d *renderer.Device) uint64 {
	t.Helper()
	ticket := submit(t, d, newCommandList(t, d, metadata.QueueGraphics))
	d.EndFrame()
	return ticket
}

func TestDynamicBufferPoolReclaimsCompletedFrames(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{ManualCompletion: true}, smallPool)
	pool := d.DynamicBufferPool()
	if pool.Capacity() != 1024 || pool.Alignment() != 256 {
		t.Fatalf("pool\nhave %d bytes aligned %d\nwant 1024 aligned 256", pool.Capacity(), pool.Alignment())
	}

	for want := uint64(0); want < 768; want += 256 {
		info, err := pool.AllocConstantBuffer(make([]byte, 100))
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		if info.Offset != want || info.Size != 100 {
			t.Fatalf("allocation\nhave offset %d size %d\nwant offset %d size 100", info.Offset, info.Size, want)
		}
	}
	endFrame(t, d)

	info, err := pool.AllocConstantBuffer(make([]byte, 256))
	if err != nil || info.Offset != 768 {
		t.Fatalf("fourth allocation\nhave %d, %v\nwant 768, nil", info.Offset, err)
	}
	if pool.Used() != 1024 {
		t.Errorf("Used\nhave %d\nwant 1024", pool.Used())
	}
	if _, err := pool.AllocConstantBuffer(make([]byte, 1)); !errors.Is(err, core.ErrDynamicBufferPoolExhausted) {
		t.Fatalf("alloc on a full ring\nhave %v\nwant %v", err, core.ErrDynamicBufferPoolExhausted)
	}

	gpu.CompleteQueue(metadata.QueueGraphics)
	endFrame(t, d)
	if pool.Used() != 256 || pool.Tail() != 768 {
		t.Errorf("after reclaiming frame 1\nhave used %d tail %d\nwant used 256 tail 768", pool.Used(), pool.Tail())
	}

	info, err = pool.AllocConstantBuffer(make([]byte, 512))
	if err != nil || info.Offset != 0 {
		t.Fatalf("allocation after reclaim\nhave %d, %v\nwant 0, nil", info.Offset, err)
	}
	if _, err := pool.AllocConstantBuffer(make([]byte, 512)); !errors.Is(err, core.ErrDynamicBufferPoolExhausted) {
		t.Errorf("allocation over the tail\nhave %v\nwant %v", err, core.ErrDynamicBufferPoolExhausted)
	}
}

// Three 300 byte allocations in a 1024 byte ring aligned to 256: the third only fits at offset
// 0 once the frame holding the first has completed and moved the tail past it.
func TestDynamicBufferPoolWrapsOnlyPastTail(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{ManualCompletion: true}, smallPool)
	pool := d.DynamicBufferPool()

	first, err := pool.AllocConstantBuffer(make([]byte, 300))
	if err != nil || first.Offset != 0 {
		t.Fatalf("first allocation\nhave %d, %v\nwant 0, nil", first.Offset, err)
	}
	endFrame(t, d)

	second, err := pool.AllocConstantBuffer(make([]byte, 300))
	if err != nil || second.Offset != 512 {
		t.Fatalf("second allocation\nhave %d, %v\nwant 512, nil", second.Offset, err)
	}
	if _, err := pool.AllocConstantBuffer(make([]byte, 300)); !errors.Is(err, core.ErrDynamicBufferPoolExhausted) {
		t.Fatalf("third allocation with the first frame in flight\nhave %v\nwant %v", err, core.ErrDynamicBufferPoolExhausted)
	}
	if pool.Tail() != 0 {
		t.Errorf("Tail before completion\nhave %d\nwant 0", pool.Tail())
	}

	gpu.CompleteQueue(metadata.QueueGraphics)
	endFrame(t, d)
	if pool.Tail() != 512 || pool.Used() != 512 {
		t.Fatalf("after the first frame completed\nhave tail %d used %d\nwant tail 512 used 512", pool.Tail(), pool.Used())
	}

	third, err := pool.AllocConstantBuffer(make([]byte, 300))
	if err != nil || third.Offset != 0 {
		t.Fatalf("third allocation after the tail advanced\nhave %d, %v\nwant 0, nil", third.Offset, err)
	}
	if third.Offset+third.Size > pool.Tail() {
		t.Errorf("wrapped allocation [%d, %d) overlaps the frame in flight at %d", third.Offset, third.Offset+third.Size, pool.Tail())
	}
}

func TestDynamicBufferPoolCopiesConstants(t *testing.T) {
	d, _ := newDevice(t, headless.Options{}, smallPool)
	pool := d.DynamicBufferPool()
	data := []byte{1, 2, 3, 4, 5}
	info, err := pool.AllocConstantBuffer(data)
	if err != nil {
		t.Fatal(err)
	}
	if info.Resource != pool.Resource() {
		t.Error("allocation does not address the pool buffer")
	}
	mapped := pool.Resource().Buffer().Mapped()[info.Offset : info.Offset+info.Size]
	for i := range data {
		if mapped[i] != data[i] {
			t.Fatalf("mapped bytes\nhave %v\nwant %v", mapped, data)
		}
	}

	vb, mem, err := pool.AllocVertexBuffer(3, 12)
	if err != nil {
		t.Fatal(err)
	}
	if vb.Stride != 12 || len(mem) != 36 || vb.Offset%256 != 0 {
		t.Errorf("vertex allocation\nhave stride %d len %d offset %d\nwant stride 12 len 36 aligned offset", vb.Stride, len(mem), vb.Offset)
	}
	ib, mem, err := pool.AllocIndexBuffer(6, metadata.FormatR16Uint)
	if err != nil {
		t.Fatal(err)
	}
	if ib.Format != metadata.FormatR16Uint || len(mem) != 12 {
		t.Errorf("index allocation\nhave %s len %d\nwant R16 len 12", ib.Format, len(mem))
	}
	expectAssert(t, "32-bit float indices", func() {
		_, _, _ = pool.AllocIndexBuffer(6, metadata.FormatR32Float)
	})
}

type liveAllocation struct {
	frame  int
	offset uint64
	size   uint64
}

// The ring never hands out memory a frame in flight may still read, and reclaims in order.
func TestDynamicBufferPoolNeverOverlapsFramesInFlight(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{ManualCompletion: true}, func(cfg *core.Config) {
		cfg.DynamicBufferPoolSize = 4096
		cfg.DynamicBufferAlignment = 256
	})
	pool := d.DynamicBufferPool()
	rng := rand.New(rand.NewSource(7))

	var live []liveAllocation
	var tickets []uint64
	for frame := 0; frame < 200; frame++ {
		for n := rng.Intn(4); n > 0; n-- {
			size := uint64(1 + rng.Intn(700))
			info, err := pool.AllocConstantBuffer(make([]byte, size))
			if errors.Is(err, core.ErrDynamicBufferPoolExhausted) {
				continue
			}
			if err != nil {
				t.Fatalf("frame %d: %v", frame, err)
			}
			span := math.AlignUp(size, 256)
			if info.Offset+span > pool.Capacity() {
				t.Fatalf("frame %d: allocation [%d, %d) leaves the ring", frame, info.Offset, info.Offset+span)
			}
			for _, a := range live {
				if info.Offset < a.offset+a.size && a.offset < info.Offset+span {
					t.Fatalf("frame %d: [%d, %d) overlaps [%d, %d) of frame %d", frame, info.Offset, info.Offset+span, a.offset, a.offset+a.size, a.frame)
				}
			}
			live = append(live, liveAllocation{frame: frame, offset: info.Offset, size: span})
		}
		tickets = append(tickets, endFrame(t, d))
		if pool.Used() > pool.Capacity() {
			t.Fatalf("frame %d: used %d beyond capacity %d", frame, pool.Used(), pool.Capacity())
		}

		// EndFrame reclaimed exactly the frames completed before it ran.
		completed := d.Queue(metadata.QueueGraphics).QueryLastCompletedValue()
		kept := live[:0]
		for _, a := range live {
			if tickets[a.frame] > completed {
				kept = append(kept, a)
			}
		}
		live = kept

		// Let the GPU lag zero to three frames behind.
		if lag := rng.Intn(4); lag < len(tickets) {
			gpu.CompleteUpTo(metadata.QueueGraphics, tickets[len(tickets)-1-lag])
		}
	}

	gpu.CompleteAll()
	d.EndFrame()
	if pool.Used() != 0 {
		t.Errorf("Used after the GPU drained\nhave %d\nwant 0", pool.Used())
	}
}
