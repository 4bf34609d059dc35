package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := New[int](10, 100)

	for i := 0; i < 5; i++ {
		if ok, _ := q.Push(i); !ok {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if v != i {
			t.Errorf("popped %d, want %d", v, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowAt70Percent(t *testing.T) {
	q := New[int](10, 100)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	for i := 0; i < 7; i++ {
		if v, _ := q.TryPop(); v != i {
			t.Errorf("popped %d, want %d", v, i)
		}
	}
}

func TestQueue_GrowPreservesWrappedOrder(t *testing.T) {
	q := New[int](4, 64)

	// Advance head so the ring wraps before growth.
	q.Push(0)
	q.Push(1)
	q.TryPop()
	q.TryPop()

	for i := 0; i < 10; i++ {
		q.Push(i)
	}
	got := q.Drain(0)
	for i, v := range got {
		if v != i {
			t.Fatalf("Drain()[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestQueue_DropsOldestAtLimit(t *testing.T) {
	q := New[int](2, 4)

	var drops int
	for i := 0; i < 7; i++ {
		if _, dropped := q.Push(i); dropped {
			drops++
		}
	}

	if drops != 3 {
		t.Errorf("drops = %d, want 3", drops)
	}
	if got := q.Stats().Dropped; got != 3 {
		t.Errorf("Stats().Dropped = %d, want 3", got)
	}
	got := q.Drain(0)
	want := []int{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain() = %v, want %v", got, want)
			break
		}
	}
}

func TestQueue_DrainLimit(t *testing.T) {
	q := New[int](16, 16)
	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	first := q.Drain(4)
	if len(first) != 4 || first[0] != 0 || first[3] != 3 {
		t.Errorf("Drain(4) = %v", first)
	}
	if q.Len() != 6 {
		t.Errorf("Len() = %d, want 6", q.Len())
	}
	if q.Drain(-1); q.Len() != 0 {
		t.Errorf("Len() after full drain = %d, want 0", q.Len())
	}
	if got := q.Drain(1); got != nil {
		t.Errorf("Drain on empty = %v, want nil", got)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string](4, 4)

	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Pop() = %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after Push")
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New[int](4, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop() on empty queue with expired ctx returned true")
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int](4, 4)
	q.Push(1)
	q.Close()

	if ok, _ := q.Push(2); ok {
		t.Error("Push after Close returned true")
	}
	if v, ok := q.Pop(context.Background()); !ok || v != 1 {
		t.Errorf("Pop() = %d, %v; want 1, true", v, ok)
	}
	if _, ok := q.Pop(context.Background()); ok {
		t.Error("Pop() on closed empty queue returned true")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int](8, 100000)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				q.Push(i)
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, ok := q.Pop(context.Background()); !ok {
				return
			}
			received++
		}
	}()

	wg.Wait()
	q.Close()
	<-done

	if received != 4000 {
		t.Errorf("received = %d, want 4000", received)
	}
}
