package midas

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pohaoc/midas/ctrlplane"
	"golang.org/x/sync/singleflight"
)

// ConstructFunc recomputes a value on a cache miss, per spec §4.F. It
// returns the bytes to install; an error aborts the miss without
// installing anything.
type ConstructFunc func(key string) ([]byte, error)

// pressureThreshold is the fraction of a pool's region budget above which
// the evacuator treats it as "under pressure" and starts compacting
// survivors instead of only aging them (spec §4.E).
const pressureThreshold = 0.9

// CachePool is one named cache from spec §4.F: its own region table, log
// allocator, optional victim cache, and a dedicated evacuator goroutine.
type CachePool struct {
	name string

	client  *ctrlplane.Client
	regions *regionTable
	alloc   *logAllocator
	victims *victimCache
	evac    *evacuator

	handles sync.Pool // of *AllocHandle

	constructMu sync.RWMutex
	construct   ConstructFunc
	group       singleflight.Group

	limit atomic.Uint64
	used  atomic.Uint64

	hits        atomic.Uint64
	misses      atomic.Uint64
	victimHits  atomic.Uint64
	missPenalty atomic.Int64  // accumulated nanoseconds
	missBytes   atomic.Uint64 // accumulated bytes reconstructed on a miss
}

// PoolOptions configures a CachePool at creation time; zero values take
// the defaults from spec §3.
type PoolOptions struct {
	RegionSize      int
	ChunkSize       int
	Limit           uint64
	VictimCountCap  int
	VictimSizeCap   int64
	EvacuatorPeriod time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.RegionSize <= 0 {
		o.RegionSize = defaultRegionSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.VictimCountCap <= 0 {
		o.VictimCountCap = 1024
	}
	return o
}

func newCachePool(name string, client *ctrlplane.Client, opts PoolOptions) *CachePool {
	opts = opts.withDefaults()

	rt := newRegionTable(client, opts.RegionSize, opts.ChunkSize)
	vc := newVictimCache(opts.VictimCountCap, opts.VictimSizeCap)
	alloc := newLogAllocator(rt, opts.ChunkSize, vc)

	p := &CachePool{
		name:    name,
		client:  client,
		regions: rt,
		alloc:   alloc,
		victims: vc,
	}
	p.limit.Store(opts.Limit)
	p.handles.New = func() any { return alloc.NewHandle() }
	p.evac = newEvacuator(p, opts.EvacuatorPeriod)
	p.evac.start()
	return p
}

func (p *CachePool) underPressure() bool {
	limit := p.limit.Load()
	if limit == 0 {
		return false
	}
	return float64(p.used.Load()) > pressureThreshold*float64(limit)
}

// Alloc carves out size bytes for a new entry, requesting an overcommit
// region from the coordinator once the pool's used bytes exceed
// pressureThreshold of its limit.
func (p *CachePool) Alloc(size int) (*SoftPtr, bool) {
	h := p.handles.Get().(*AllocHandle)
	defer p.handles.Put(h)

	overcommit := p.underPressure()
	ptr, ok := p.alloc.Alloc(h, size, overcommit)
	if ok {
		p.used.Add(uint64(roundUp(size)))
	}
	return ptr, ok
}

// AllocTo carves out len(src) bytes, copies src into them, and returns the
// bound pointer in one step (spec §4.F's alloc_to).
func (p *CachePool) AllocTo(src []byte) (*SoftPtr, bool) {
	ptr, ok := p.Alloc(len(src))
	if !ok {
		return nil, false
	}
	if !ptr.WriteAll(src) {
		p.Free(ptr, false)
		return nil, false
	}
	return ptr, true
}

// UpdateLimit changes the pool's soft byte budget and forwards the new
// ceiling to the coordinator, which tracks it per spec §4.A's region
// accounting (spec §4.F's update_limit).
func (p *CachePool) UpdateLimit(bytes uint64) error {
	if err := p.regions.updateLimit(bytes); err != nil {
		return err
	}
	p.limit.Store(bytes)
	return nil
}

// SetWeight forwards a scheduling weight hint for this pool to the
// coordinator (SPEC_FULL.md §9's per-pool weight/latency-critical hints).
func (p *CachePool) SetWeight(w float32) error {
	return p.client.SetWeight(w)
}

// SetLatencyCritical marks or unmarks this pool as latency-critical with the
// coordinator, influencing how aggressively it is throttled under pressure.
func (p *CachePool) SetLatencyCritical(v bool) error {
	return p.client.SetLatencyCritical(v)
}

// Free releases ptr. toVictim controls whether the identity survives in
// the victim cache for hit/miss accounting after eviction.
func (p *CachePool) Free(ptr *SoftPtr, toVictim bool) {
	size := uint64(ptr.Size())
	p.alloc.Free(ptr, toVictim)
	if size > 0 {
		p.used.Add(^uint64(size - 1)) // atomic subtract
	}
}

// SetConstructFunc installs the callback used to recompute a value on a
// miss (spec §4.F's construct-callback protocol).
func (p *CachePool) SetConstructFunc(fn ConstructFunc) {
	p.constructMu.Lock()
	p.construct = fn
	p.constructMu.Unlock()
}

// Construct recomputes key's value via the installed ConstructFunc,
// collapsing concurrent misses on the same key into a single call
// (spec §4.F: "concurrent misses on the same key should not duplicate the
// recomputation").
func (p *CachePool) Construct(key string) ([]byte, error) {
	p.constructMu.RLock()
	fn := p.construct
	p.constructMu.RUnlock()
	if fn == nil {
		return nil, ErrNoConstructFunc
	}

	start := time.Now()
	v, err, _ := p.group.Do(key, func() (any, error) {
		return fn(key)
	})
	if err != nil {
		p.RecordMissPenalty(time.Since(start), 0)
		return nil, err
	}
	value := v.([]byte)
	p.RecordMissPenalty(time.Since(start), len(value))
	return value, nil
}

func (p *CachePool) IncCacheHit()  { p.hits.Add(1) }
func (p *CachePool) IncVictimHit() { p.victimHits.Add(1) }

// RecordMissPenalty accounts for one construct callback invocation: cycles
// is the wall time it took, bytes is the size of the value it produced
// (spec §4.F's record_miss_penalty(cycles, bytes)).
func (p *CachePool) RecordMissPenalty(cycles time.Duration, bytes int) {
	p.missPenalty.Add(int64(cycles))
	p.missBytes.Add(uint64(bytes))
}

// IncCacheMiss increments the miss counter and, every 10,000 misses, logs a
// stats line, per spec §4.F / §8.
func (p *CachePool) IncCacheMiss() {
	n := p.misses.Add(1)
	if n%10000 == 0 {
		h, m, vh := p.hits.Load(), n, p.victimHits.Load()
		log.Printf("midas: pool %q stats hits=%d misses=%d victim_hits=%d used=%d", p.name, h, m, vh, p.used.Load())
	}
}

// Stats returns a wire-ready snapshot for reporting to the coordinator.
func (p *CachePool) Stats() ctrlplane.StatsMsg {
	hits := p.hits.Load()
	misses := p.misses.Load()
	var penalty float64
	if misses > 0 {
		penalty = float64(p.missPenalty.Load()) / float64(misses)
	}
	return ctrlplane.StatsMsg{
		Hits:        hits,
		Misses:      misses,
		MissPenalty: penalty,
		VictimHits:  uint32(p.victimHits.Load()),
		Headroom:    uint32(p.regions.regionCount()),
	}
}

func (p *CachePool) shutdown() {
	p.evac.shutdown()
}
