package midas

import "sync"

const (
	// defaultRegionSize and defaultChunkSize are the construction defaults
	// from spec §3; every pool can override them.
	defaultRegionSize = 16 << 20
	defaultChunkSize  = 4 << 20

	// smallObjectCeiling bounds what alloc() will carve out of a single
	// chunk. Anything at or above it, after rounding, is routed to
	// allocLarge instead (spec §4.C).
	smallObjectCeiling = 8 << 10

	// headerOverheadBytes is subtracted from the ceiling so a maximally
	// sized small object still leaves room for its header bookkeeping.
	headerOverheadBytes = 32
)

// AllocHandle stands in for the "thread-local active chunk" spec §4.C
// describes. Go has no addressable thread-local storage, so each logical
// worker (goroutine, worker-pool slot) carries its own handle and reuses it
// across calls instead of the runtime pinning one implicitly.
type AllocHandle struct {
	chunk *chunk
}

// logAllocator is the log-structured allocator from spec §4.C: a region
// table plus a pool of chunks not currently claimed as anyone's active
// chunk.
type logAllocator struct {
	mu         sync.Mutex
	regions    *regionTable
	chunkSize  int
	freeChunks *list
	victims    *victimCache
}

func newLogAllocator(rt *regionTable, chunkSize int, vc *victimCache) *logAllocator {
	return &logAllocator{
		regions:    rt,
		chunkSize:  chunkSize,
		freeChunks: &list{},
		victims:    vc,
	}
}

// NewHandle allocates a fresh, empty AllocHandle for a new worker.
func (a *logAllocator) NewHandle() *AllocHandle { return &AllocHandle{} }

func (a *logAllocator) smallThreshold() int {
	ceiling := smallObjectCeiling
	if a.chunkSize < ceiling {
		ceiling = a.chunkSize
	}
	return ceiling - headerOverheadBytes
}

// Alloc carves out size bytes and returns a bound SoftPtr. overcommit is
// forwarded to the coordinator only if a new region must be requested to
// satisfy this call.
func (a *logAllocator) Alloc(h *AllocHandle, size int, overcommit bool) (*SoftPtr, bool) {
	size = roundUp(size)
	if size <= 0 {
		size = allocUnit
	}
	if size >= a.smallThreshold() {
		return a.allocLarge(h, size, overcommit)
	}
	return a.allocSmall(h, size, overcommit)
}

func (a *logAllocator) allocSmall(h *AllocHandle, size int, overcommit bool) (*SoftPtr, bool) {
	if h.chunk != nil {
		if b, ok := h.chunk.bumpAlloc(size); ok {
			return a.bindNew(h.chunk, b), true
		}
		h.chunk.seal()
	}

	c, ok := a.nextChunk(overcommit)
	if !ok {
		return nil, false
	}
	h.chunk = c

	b, ok := c.bumpAlloc(size)
	if !ok {
		// A freshly opened chunk smaller than the requested size only
		// happens if chunkSize itself is misconfigured below the small
		// object ceiling; treat it as allocation failure rather than
		// panicking.
		return nil, false
	}
	return a.bindNew(c, b), true
}

func (a *logAllocator) bindNew(c *chunk, payload []byte) *SoftPtr {
	obj := a.newTrackedObject(c, payload)
	ptr := newSoftPtr()
	ptr.bind(obj)
	return ptr
}

// allocRawSmall carves size bytes of small-object space and returns the raw
// object, unbound to any SoftPtr. It exists for the evacuator's compaction
// path (spec §4.E), which repoints an existing soft pointer's owner at the
// returned object itself rather than creating a new one.
func (a *logAllocator) allocRawSmall(h *AllocHandle, size int) (*object, bool) {
	size = roundUp(size)
	if h.chunk != nil {
		if b, ok := h.chunk.bumpAlloc(size); ok {
			return a.newTrackedObject(h.chunk, b), true
		}
		h.chunk.seal()
	}

	c, ok := a.nextChunk(false)
	if !ok {
		return nil, false
	}
	h.chunk = c

	b, ok := c.bumpAlloc(size)
	if !ok {
		return nil, false
	}
	return a.newTrackedObject(c, b), true
}

func (a *logAllocator) newTrackedObject(c *chunk, payload []byte) *object {
	obj := newObject(newHeader(true), payload, c)
	c.trackObject(obj)
	return obj
}

// allocLarge chains fragments across as many chunks as needed, per spec
// §4.C: a head segment carved from the caller's current chunk if room
// remains, then successive tail fragments from freshly obtained chunks. A
// partial failure unwinds every fragment already carved before reporting
// failure.
func (a *logAllocator) allocLarge(h *AllocHandle, size int, overcommit bool) (*SoftPtr, bool) {
	remaining := size
	var head, tail *object

	fragment := func(c *chunk) bool {
		avail := c.free()
		if avail <= 0 {
			return false
		}
		want := remaining
		if want > avail {
			want = avail
		}
		b, ok := c.bumpAlloc(want)
		if !ok {
			return false
		}
		hdr := newHeader(false)
		obj := newObject(hdr, b, c)
		c.trackObject(obj)
		if head == nil {
			head = obj
		} else {
			tail.next.Store(obj)
		}
		tail = obj
		remaining -= want
		return true
	}

	if h.chunk != nil {
		fragment(h.chunk)
	}

	for remaining > 0 {
		c, ok := a.nextChunk(overcommit)
		if !ok {
			a.rollback(head)
			return nil, false
		}
		h.chunk = c
		if !fragment(c) {
			a.rollback(head)
			return nil, false
		}
	}

	ptr := newSoftPtr()
	ptr.bind(head)
	return ptr, true
}

// rollback clears present on every fragment of a large object whose
// allocation could not complete, per spec §4.C.
func (a *logAllocator) rollback(head *object) {
	for cur := head; cur != nil; cur = cur.next.Load() {
		cur.hdr.clearPresent()
	}
}

// nextChunk hands out a chunk from the free pool, allocating a new region
// (and seeding the pool with its remaining chunks) when the pool is empty.
func (a *logAllocator) nextChunk(overcommit bool) (*chunk, bool) {
	a.mu.Lock()
	if !a.freeChunks.empty() {
		n := a.freeChunks.first
		a.freeChunks.remove(n)
		a.mu.Unlock()
		return n.(*chunk), true
	}
	a.mu.Unlock()

	r, ok := a.regions.allocRegion(overcommit)
	if !ok {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range r.chunks[1:] {
		a.freeChunks.append(c)
	}
	return r.chunks[0], true
}

// reclaim returns a chunk the evacuator has confirmed is fully dead back to
// the free pool so it can be handed out again.
func (a *logAllocator) reclaim(c *chunk) {
	c.reset()
	a.mu.Lock()
	a.freeChunks.append(c)
	a.mu.Unlock()
}

// Free drops ptr's object. If toVictim is set and a victim cache is
// configured, the identity moves into the victim cache instead of being
// discarded outright (spec §4.D).
func (a *logAllocator) Free(ptr *SoftPtr, toVictim bool) {
	o := ptr.obj.Load()
	if o == nil {
		return
	}
	for cur := o; cur != nil; cur = cur.next.Load() {
		cur.hdr.clearPresent()
	}
	if toVictim && a.victims != nil {
		idx := a.victims.add(o)
		ptr.markVictim(idx)
		return
	}
	ptr.invalidate()
}
