package midas

import (
	"errors"
	"testing"
	"time"

	"github.com/pohaoc/midas/ctrlplane"
)

func newTestPool(t *testing.T, opts PoolOptions) *CachePool {
	t.Helper()
	coord := ctrlplane.NewLoopback(1<<30, 1<<30)
	client := ctrlplane.NewClient(coord, 1)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if opts.EvacuatorPeriod == 0 {
		opts.EvacuatorPeriod = time.Hour // keep the sweeper quiet unless a test wants it
	}
	p := newCachePool("test", client, opts)
	t.Cleanup(p.shutdown)
	return p
}

func TestCachePoolAllocFreeRoundTrip(t *testing.T) {
	p := newTestPool(t, PoolOptions{})

	ptr, ok := p.Alloc(5)
	if !ok {
		t.Fatal("Alloc should succeed")
	}
	if !ptr.WriteAll([]byte("hello")) {
		t.Fatal("WriteAll should succeed")
	}

	dst := make([]byte, 5)
	n, ok := ptr.Resolve(dst)
	if !ok || string(dst[:n]) != "hello" {
		t.Fatalf("Resolve() = %q, %v", dst[:n], ok)
	}

	p.Free(ptr, false)
	if _, ok := ptr.Resolve(dst); ok {
		t.Error("a freed pointer should fault")
	}
}

func TestCachePoolAllocTo(t *testing.T) {
	p := newTestPool(t, PoolOptions{})

	ptr, ok := p.AllocTo([]byte("payload"))
	if !ok {
		t.Fatal("AllocTo should succeed")
	}

	dst := make([]byte, 7)
	n, ok := ptr.Resolve(dst)
	if !ok || string(dst[:n]) != "payload" {
		t.Fatalf("Resolve() after AllocTo = %q, %v", dst[:n], ok)
	}
}

func TestCachePoolUpdateLimit(t *testing.T) {
	p := newTestPool(t, PoolOptions{Limit: 1024})

	if err := p.UpdateLimit(2048); err != nil {
		t.Fatalf("UpdateLimit: %v", err)
	}
	if got := p.limit.Load(); got != 2048 {
		t.Errorf("limit after UpdateLimit = %d, want 2048", got)
	}
}

func TestCachePoolUnderPressure(t *testing.T) {
	p := newTestPool(t, PoolOptions{Limit: 1000})
	if p.underPressure() {
		t.Fatal("a fresh pool should not be under pressure")
	}

	p.used.Store(950)
	if !p.underPressure() {
		t.Error("95% of the limit should be reported as under pressure")
	}
}

func TestCachePoolUnderPressureWithZeroLimitNeverTriggers(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	p.used.Store(1 << 40)
	if p.underPressure() {
		t.Error("a pool with no configured limit should never report pressure")
	}
}

func TestCachePoolConstructCollapsesConcurrentMisses(t *testing.T) {
	p := newTestPool(t, PoolOptions{})

	var calls int
	p.SetConstructFunc(func(key string) ([]byte, error) {
		calls++
		time.Sleep(10 * time.Millisecond)
		return []byte("v:" + key), nil
	})

	done := make(chan []byte, 8)
	for i := 0; i < 8; i++ {
		go func() {
			v, err := p.Construct("same-key")
			if err != nil {
				t.Error(err)
			}
			done <- v
		}()
	}

	for i := 0; i < 8; i++ {
		v := <-done
		if string(v) != "v:same-key" {
			t.Errorf("Construct result = %q, want %q", v, "v:same-key")
		}
	}

	if calls != 1 {
		t.Errorf("ConstructFunc called %d times, want exactly 1 for concurrent misses on the same key", calls)
	}
}

func TestCachePoolConstructWithoutFuncFails(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	if _, err := p.Construct("k"); !errors.Is(err, ErrNoConstructFunc) {
		t.Errorf("Construct without a func = %v, want ErrNoConstructFunc", err)
	}
}

func TestCachePoolStatsReflectsHitsAndMisses(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	p.IncCacheHit()
	p.IncCacheHit()
	p.IncCacheMiss()

	s := p.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want hits=2 misses=1", s)
	}
}
