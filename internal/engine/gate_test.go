package engine

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_SerializesCalls(t *testing.T) {
	g := NewGate(0)

	type window struct{ enter, exit time.Time }

	var (
		mu      sync.Mutex
		windows []window
		active  atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)

	const n = 8
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Do(func() error {
				enter := time.Now()
				cur := active.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				exit := time.Now()

				mu.Lock()
				windows = append(windows, window{enter, exit})
				mu.Unlock()

				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrent holders = %d; want 1", got)
	}
	if len(windows) != n {
		t.Fatalf("ran %d calls; want %d", len(windows), n)
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].enter.Before(windows[j].enter) })
	for i := 1; i < len(windows); i++ {
		if windows[i].enter.Before(windows[i-1].exit) {
			t.Fatalf("call %d entered at %v before call %d exited at %v",
				i, windows[i].enter, i-1, windows[i-1].exit)
		}
	}
}

func TestGate_ReleasesOnError(t *testing.T) {
	g := NewGate(50 * time.Millisecond)
	boom := errors.New("boom")

	if _, err := g.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want fn error, got %v", err)
	}

	if _, err := g.Do(func() error { return nil }); err != nil {
		t.Fatalf("gate not released after failing call: %v", err)
	}
}

func TestGate_ReleasesOnPanic(t *testing.T) {
	g := NewGate(50 * time.Millisecond)

	func() {
		defer func() { _ = recover() }()
		_, _ = g.Do(func() error { panic("engine crashed") })
	}()

	if _, err := g.Do(func() error { return nil }); err != nil {
		t.Fatalf("gate not released after panic: %v", err)
	}
}

func TestGate_BoundedWaitReturnsBusy(t *testing.T) {
	g := NewGate(20 * time.Millisecond)

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = g.Do(func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	called := false
	wait, err := g.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	if called {
		t.Error("fn ran without holding the gate")
	}
	if wait < 20*time.Millisecond {
		t.Errorf("wait = %v; want at least the timeout", wait)
	}

	close(release)
	<-done
}

func TestGate_UnboundedWaitReportsWaitTime(t *testing.T) {
	g := NewGate(0)

	holding := make(chan struct{})
	go func() {
		_, _ = g.Do(func() error {
			close(holding)
			time.Sleep(15 * time.Millisecond)
			return nil
		})
	}()
	<-holding

	wait, err := g.Do(func() error { return nil })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if wait <= 0 {
		t.Errorf("wait = %v; want > 0", wait)
	}
}
