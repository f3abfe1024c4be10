package membership

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeEvictor struct {
	mu     sync.Mutex
	evicts []string
}

func (f *fakeEvictor) Evict(hostName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicts = append(f.evicts, hostName)
	return 1, nil
}

func (f *fakeEvictor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.evicts))
	copy(out, f.evicts)
	return out
}

func TestTouchKeepsHostLive(t *testing.T) {
	ev := &fakeEvictor{}
	m := New(ev, nil)
	m.Touch("H1")

	live := m.Live()
	if len(live) != 1 || live[0] != "H1" {
		t.Fatalf("Live() = %v, want [H1]", live)
	}
}

func TestSweepEvictsStaleHost(t *testing.T) {
	ev := &fakeEvictor{}
	m := New(ev, nil)

	m.mu.Lock()
	m.lastSeen["H1"] = time.Now().Add(-2 * ExpireAfter)
	m.mu.Unlock()

	m.sweepOnce()

	if calls := ev.calls(); len(calls) != 1 || calls[0] != "H1" {
		t.Fatalf("evicted hosts = %v, want [H1]", calls)
	}
	if live := m.Live(); len(live) != 0 {
		t.Fatalf("Live() after sweep = %v, want empty", live)
	}
}

func TestSweepKeepsFreshHost(t *testing.T) {
	ev := &fakeEvictor{}
	m := New(ev, nil)
	m.Touch("H1")

	m.sweepOnce()

	if calls := ev.calls(); len(calls) != 0 {
		t.Fatalf("evicted hosts = %v, want none", calls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ev := &fakeEvictor{}
	m := New(ev, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
