package containers

import "testing"

func TestRingQueueOrder(t *testing.T) {
	rq := NewRingQueue[int](2)
	if _, err := rq.Dequeue(); err != ErrQueueEmpty {
		t.Fatalf("Dequeue on empty\nhave %v\nwant %v", err, ErrQueueEmpty)
	}
	rq.Enqueue(1)
	rq.Enqueue(2)
	if v, _ := rq.Dequeue(); v != 1 {
		t.Fatalf("Dequeue\nhave %d\nwant 1", v)
	}
	// Wrap the write index before growing.
	rq.Enqueue(3)
	rq.Enqueue(4)
	rq.Enqueue(5)
	if rq.Cap() != 4 {
		t.Errorf("Cap\nhave %d\nwant 4", rq.Cap())
	}
	if v, _ := rq.Peek(); v != 2 {
		t.Errorf("Peek\nhave %d\nwant 2", v)
	}
	for want := 2; want <= 5; want++ {
		v, err := rq.Dequeue()
		if err != nil || v != want {
			t.Fatalf("Dequeue\nhave %d, %v\nwant %d, nil", v, err, want)
		}
	}
	if !rq.IsEmpty() || rq.Len() != 0 {
		t.Errorf("queue not empty after draining: len %d", rq.Len())
	}
}
