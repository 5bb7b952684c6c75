package debounce

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerRunsLastCallOnce(t *testing.T) {
	d := New(30 * time.Millisecond)
	var mu sync.Mutex
	var calls []int
	for i := 1; i <= 3; i++ {
		i := i
		d.Call(func() {
			mu.Lock()
			calls = append(calls, i)
			mu.Unlock()
		})
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != 3 {
		t.Fatalf("expected single call with last value, got %v", calls)
	}
}

func TestDebouncerFlushAndCancel(t *testing.T) {
	d := New(time.Hour)
	ran := 0
	d.Call(func() { ran++ })
	if !d.Pending() {
		t.Fatalf("expected pending call")
	}
	d.Flush()
	if ran != 1 {
		t.Fatalf("expected flush to run pending call, got %d", ran)
	}
	d.Flush()
	if ran != 1 {
		t.Fatalf("expected second flush to be a no-op, got %d", ran)
	}
	d.Call(func() { ran++ })
	d.Cancel()
	d.Flush()
	if ran != 1 {
		t.Fatalf("expected cancelled call to be dropped, got %d", ran)
	}
}
