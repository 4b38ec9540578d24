package silence

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	cycles []uint64
}

func (r *recorder) fire(cycle uint64) {
	r.mu.Lock()
	r.cycles = append(r.cycles, cycle)
	r.mu.Unlock()
}

func (r *recorder) fired() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.cycles...)
}

func TestDetectorFiresOnceAfterTimeout(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	rec := &recorder{}
	d := New(2*time.Second, sched, rec.fire)

	cycle := d.Reset()
	sched.Advance(1999 * time.Millisecond)
	if len(rec.fired()) != 0 {
		t.Fatal("fired before timeout")
	}
	sched.Advance(time.Millisecond)
	got := rec.fired()
	if len(got) != 1 || got[0] != cycle {
		t.Fatalf("expected single fire for cycle %d, got %v", cycle, got)
	}
	sched.Advance(10 * time.Second)
	if len(rec.fired()) != 1 {
		t.Fatal("fired more than once for one arm cycle")
	}
	if d.Armed() {
		t.Fatal("detector should be disarmed after firing")
	}
}

func TestDetectorResetSupersedesPriorCountdown(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	rec := &recorder{}
	d := New(2*time.Second, sched, rec.fire)

	first := d.Reset()
	sched.Advance(1500 * time.Millisecond)
	second := d.Reset()
	if second == first {
		t.Fatal("reset must start a new cycle")
	}
	sched.Advance(1500 * time.Millisecond)
	if len(rec.fired()) != 0 {
		t.Fatal("superseded countdown fired")
	}
	sched.Advance(500 * time.Millisecond)
	got := rec.fired()
	if len(got) != 1 || got[0] != second {
		t.Fatalf("expected fire for cycle %d, got %v", second, got)
	}
}

func TestDetectorCancelPreventsFire(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	rec := &recorder{}
	d := New(time.Second, sched, rec.fire)

	d.Reset()
	d.Cancel()
	d.Cancel()
	sched.Advance(5 * time.Second)
	if len(rec.fired()) != 0 {
		t.Fatal("cancelled countdown fired")
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", sched.Pending())
	}
}

func TestDetectorRapidResetsWithSystemScheduler(t *testing.T) {
	var fires atomic.Int32
	done := make(chan struct{}, 4)
	d := New(30*time.Millisecond, nil, func(uint64) {
		fires.Add(1)
		done <- struct{}{}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Reset()
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detector never fired")
	}
	time.Sleep(100 * time.Millisecond)
	if n := fires.Load(); n != 1 {
		t.Fatalf("expected exactly one fire, got %d", n)
	}
}
