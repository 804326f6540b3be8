package frame

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSlotEmptyUntilPublished(t *testing.T) {
	var s Slot
	if f := s.Load(); f != nil {
		t.Fatalf("Load on empty slot = %+v, want nil", f)
	}

	s.Publish(nil)
	if s.Published() != 0 {
		t.Errorf("Publish(nil) counted: %d", s.Published())
	}

	f := &Frame{Seq: 1}
	s.Publish(f)
	if got := s.Load(); got != f {
		t.Errorf("Load = %p, want %p", got, f)
	}

	s.Clear()
	if s.Load() != nil {
		t.Error("Clear should empty the slot")
	}
	if s.Published() != 1 {
		t.Errorf("Published = %d, want 1", s.Published())
	}
}

// Readers must never see a frame older than the last publish that completed
// before their read started.
func TestSlotReadsNeverGoBackwards(t *testing.T) {
	const (
		publishes = 20000
		readers   = 8
	)

	var (
		s         Slot
		completed atomic.Uint64
		wg        sync.WaitGroup
		stop      atomic.Bool
		failures  atomic.Int64
	)

	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for !stop.Load() {
				floor := completed.Load()
				f := s.Load()
				if f == nil {
					if floor != 0 {
						failures.Add(1)
					}
					continue
				}
				if f.Seq < floor || f.Seq < last {
					failures.Add(1)
				}
				last = f.Seq
			}
		}()
	}

	for i := uint64(1); i <= publishes; i++ {
		s.Publish(&Frame{Seq: i})
		completed.Store(i)
	}
	stop.Store(true)
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("%d reads observed a stale frame", n)
	}
	if s.Published() != publishes {
		t.Errorf("Published = %d, want %d", s.Published(), publishes)
	}
	if got := s.Load().Seq; got != publishes {
		t.Errorf("final frame seq = %d, want %d", got, publishes)
	}
}
