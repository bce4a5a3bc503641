package midas

import (
	"sync"
	"time"
)

// evacuator is the background sweeper from spec §4.E. Each pool owns
// exactly one; it round-robins the pool's chunks, ages or evicts their
// objects, compacts survivors out of chunks under reclaim pressure, and
// releases regions once every chunk in them is garbage.
type evacuator struct {
	pool *CachePool

	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	period time.Duration

	compactHandle *AllocHandle // the evacuator's own allocation buffer, used only to relocate survivors during compaction
}

// compactionLiveRatio is the live-bytes/chunk-size threshold below which a
// sealed chunk is considered sparse enough to compact under pressure
// (spec §4.E).
const compactionLiveRatio = 0.5

func newEvacuator(p *CachePool, period time.Duration) *evacuator {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return &evacuator{
		pool:          p,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		period:        period,
		compactHandle: p.alloc.NewHandle(),
	}
}

func (e *evacuator) start() {
	go e.run()
}

func (e *evacuator) shutdown() {
	e.once.Do(func() { close(e.stop) })
	<-e.done
}

func (e *evacuator) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep performs one round-robin pass, per spec §4.E / §5: the evacuator
// observes the shutdown flag only at iteration boundaries, never mid-chunk.
func (e *evacuator) sweep() {
	regions := e.pool.regions.snapshot()
	pressure := e.pool.underPressure()

	for _, r := range regions {
		select {
		case <-e.stop:
			return
		default:
		}

		if e.maybeReleaseRegion(r) {
			continue
		}

		for _, c := range r.chunks {
			e.sweepChunk(c, pressure)
		}
	}

	e.drainForceReclaim()
}

// sweepChunk classifies every object in c per the table in spec §4.E:
//
//	invalid header           -> skip
//	present, accessed        -> clear accessed ("age" it one generation)
//	present, unaccessed      -> evict: clear present, record a victim, zero rref
//	large-object fragment    -> follow the head fragment's decision
//
// Under reclaim pressure it additionally compacts survivors so the chunk
// can be sealed and recycled sooner.
func (e *evacuator) sweepChunk(c *chunk, pressure bool) {
	c.mu.Lock()
	objs := append([]*object(nil), c.objects...)
	c.mu.Unlock()

	for _, o := range objs {
		if !o.isLarge() || o == o.fragments()[0] {
			e.classify(o)
		}
	}

	if pressure && c.sealed() && !c.allDead() {
		if live := c.liveBytes(); live > 0 && float64(live) < compactionLiveRatio*float64(c.size()) {
			e.compactChunk(c)
		}
	}

	if c.allDead() && c.sealed() {
		e.pool.alloc.reclaim(c)
	}
}

// compactChunk relocates every live small object out of a sparse, sealed
// chunk into fresh space so the chunk can be fully reclaimed. Large-object
// fragments are left alone: they are reclaimed fragment-by-fragment as
// their owning soft pointer is freed, not individually relocatable.
func (e *evacuator) compactChunk(c *chunk) {
	c.mu.Lock()
	objs := append([]*object(nil), c.objects...)
	c.mu.Unlock()

	for _, o := range objs {
		if o.isLarge() {
			continue
		}
		e.compactOne(o)
	}
}

// compactOne relocates a single live object, following the ordering
// contract from spec §4.E: copy the payload to its new home, CAS-swing the
// soft pointer's rref at the new object, then invalidate the source
// header. A reader racing this sequence either sees the old, still-valid
// header and payload, or the swung pointer and the new payload; the
// double-check protocol in softptr.go catches the narrow window in
// between as an ordinary fault.
func (e *evacuator) compactOne(o *object) {
	before := o.hdr.load()
	if before == hdrInvalid || before&flagPresent == 0 {
		return
	}

	owner := o.rref.Load()
	if owner == nil {
		return
	}

	dst, ok := e.pool.alloc.allocRawSmall(e.compactHandle, len(o.payload))
	if !ok {
		// No room to compact right now; a later sweep retries once more
		// free chunks exist.
		return
	}

	copy(dst.payload, o.payload)
	owner.swing(dst)
	o.hdr.invalidate()
	o.rref.Store(nil)
}

// classify applies the decision table to the head fragment o and then
// propagates the same decision down the fragment chain, per the "apply the
// head's decision by following next" rule.
func (e *evacuator) classify(o *object) {
	w := o.hdr.load()
	if w == hdrInvalid {
		return
	}
	if w&flagPresent == 0 {
		return
	}

	if w&flagAccessed != 0 {
		for cur := o; cur != nil; cur = cur.next.Load() {
			cur.hdr.clearAccessed()
		}
		return
	}

	e.evict(o)
}

// evict removes every fragment of o from service and, if the pool is
// configured with a victim cache, records the head's identity there.
func (e *evacuator) evict(o *object) {
	if !o.hdr.clearPresentIfUnaccessed() {
		return
	}
	for cur := o.next.Load(); cur != nil; cur = cur.next.Load() {
		cur.hdr.clearPresent()
	}

	owner := o.rref.Load()
	if owner == nil {
		return
	}

	if e.pool.victims != nil {
		idx := e.pool.victims.add(o)
		owner.markVictim(idx)
	} else {
		owner.invalidate()
	}
	o.rref.Store(nil)
}

// forceEvict is evict's unconditional sibling: FORCE_RECLAIM must surrender
// bytes regardless of recent access, unlike the ordinary aging sweep.
func (e *evacuator) forceEvict(o *object) {
	o.hdr.clearPresent()
	for cur := o.next.Load(); cur != nil; cur = cur.next.Load() {
		cur.hdr.clearPresent()
	}

	owner := o.rref.Load()
	if owner == nil {
		return
	}
	if e.pool.victims != nil {
		idx := e.pool.victims.add(o)
		owner.markVictim(idx)
	} else {
		owner.invalidate()
	}
	o.rref.Store(nil)
}

// maybeReleaseRegion frees a region back to the coordinator once every
// chunk inside it is both sealed and dead, completing the region-lifecycle
// loop from spec §4.A/§4.E, and reports whether it did. Release timing is
// not deterministic: it happens on whichever sweep first observes the
// region fully garbage.
//
// A chunk must be sealed, not merely allDead(), before it counts: a freshly
// allocated chunk starts out with zero tracked objects, so allDead()
// vacuously reports true for it the instant allocRegion hands it to a
// caller, before that caller has bump-allocated anything into it. Without
// the sealed() check, a region could be released — and its chunks
// unmapped — while a goroutine still holds an AllocHandle pointing into an
// open chunk inside it, violating the single-sync-point-is-sealing
// invariant (spec §4.C, chunk.go's doc comment).
func (e *evacuator) maybeReleaseRegion(r *region) bool {
	for _, c := range r.chunks {
		if !c.sealed() || !c.allDead() {
			return false
		}
	}
	e.pool.regions.freeRegion(r.id)
	return true
}

// drainForceReclaim services any pending FORCE_RECLAIM notifications from
// the coordinator (spec §5): it seals and evicts whole chunks until enough
// bytes have been surrendered, or there is nothing left to give up.
func (e *evacuator) drainForceReclaim() {
	reqs := e.pool.client.DrainForceReclaim()
	for _, req := range reqs {
		e.forceReclaim(req.Bytes)
	}
}

func (e *evacuator) forceReclaim(bytes uint64) {
	var freed uint64
	for _, r := range e.pool.regions.snapshot() {
		if freed >= bytes {
			return
		}
		for _, c := range r.chunks {
			c.seal()
			c.mu.Lock()
			objs := append([]*object(nil), c.objects...)
			c.mu.Unlock()
			for _, o := range objs {
				if !o.isLarge() || o == o.fragments()[0] {
					e.forceEvict(o)
				}
			}
			freed += uint64(c.size())
		}
		e.maybeReleaseRegion(r)
	}
}
