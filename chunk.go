package midas

import "sync"

// chunkState mirrors spec §3: open chunks accept bump allocations, sealed
// chunks are immutable with respect to allocation (their objects can still
// be freed or have flags toggled by the evacuator).
type chunkState int32

const (
	chunkOpen chunkState = iota
	chunkSealed
)

// chunk is a fixed-size bump-allocation slab inside a region. Sealing a
// chunk is the single synchronization point between the thread that owns
// it as its per-core buffer and the evacuator (spec §5).
type chunk struct {
	mu       sync.Mutex
	region   *region
	data     []byte
	pos      int
	state    chunkState
	objects  []*object // every allocation carved from this chunk, in order
	prevNode node
	nextNode node
}

func newChunk(r *region, data []byte) *chunk {
	return &chunk{region: r, data: data}
}

func (c *chunk) prev() node     { return c.prevNode }
func (c *chunk) next() node     { return c.nextNode }
func (c *chunk) setPrev(n node) { c.prevNode = n }
func (c *chunk) setNext(n node) { c.nextNode = n }

func (c *chunk) size() int { return len(c.data) }

func (c *chunk) free() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data) - c.pos
}

func (c *chunk) sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == chunkSealed
}

// seal stops further bump allocation. A sealed chunk stays sealed until the
// evacuator finds every object in it dead and reset() recycles it as an
// empty, open chunk.
func (c *chunk) seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = chunkSealed
}

// bumpAlloc carves size bytes off the open end of the chunk and returns the
// backing slice for the new object, plus whether there was enough room. It
// does not round size; callers round to allocUnit first.
func (c *chunk) bumpAlloc(size int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == chunkSealed || c.pos+size > len(c.data) {
		return nil, false
	}

	b := c.data[c.pos : c.pos+size : c.pos+size]
	c.pos += size
	return b, true
}

// allDead reports whether every object carved from this chunk is dead
// (header invalidated or present=0), which is the evacuator's signal that
// the chunk itself has become garbage and can be recycled within its
// region (spec §4.E).
func (c *chunk) allDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, o := range c.objects {
		w := o.hdr.load()
		if w != hdrInvalid && w&flagPresent != 0 {
			return false
		}
	}
	return true
}

// liveBytes sums the payload size of every fragment whose header is still
// present, used by the evacuator to decide whether a sealed chunk is
// sparse enough to compact (spec §4.E).
func (c *chunk) liveBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for _, o := range c.objects {
		w := o.hdr.load()
		if w != hdrInvalid && w&flagPresent != 0 {
			n += len(o.payload)
		}
	}
	return n
}

func (c *chunk) trackObject(o *object) {
	c.mu.Lock()
	c.objects = append(c.objects, o)
	c.mu.Unlock()
}

// reset returns the chunk to a fresh, open, empty state for reuse once the
// evacuator has confirmed every object carved from it is dead.
func (c *chunk) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = 0
	c.state = chunkOpen
	c.objects = c.objects[:0]
}
