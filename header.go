package midas

import "sync/atomic"

// headerWord packs the object header flags described in spec §3: present,
// accessed, evacuate, small. A single atomic word lets the evacuator toggle
// bits with a compare-and-swap instead of taking a per-object lock, per the
// concurrency model in spec §5.
type headerWord uint32

const (
	flagPresent  headerWord = 1 << 0
	flagAccessed headerWord = 1 << 1
	flagEvacuate headerWord = 1 << 2
	flagSmall    headerWord = 1 << 3

	// hdrInvalid is the sentinel value that marks a tombstoned slot. It is
	// chosen so that no combination of the flag bits above can collide
	// with it.
	hdrInvalid headerWord = ^headerWord(0)
)

// header is the atomic control word for one object. It never takes a lock;
// every mutation is a CAS loop, matching the "atomic bit operations, no
// per-object lock" requirement of spec §4.B.
type header struct {
	word atomic.Uint32
}

func newHeader(small bool) *header {
	h := &header{}
	w := flagPresent
	if small {
		w |= flagSmall
	}
	h.word.Store(uint32(w))
	return h
}

func (h *header) load() headerWord {
	return headerWord(h.word.Load())
}

func (h *header) isInvalid() bool {
	return h.load() == hdrInvalid
}

func (h *header) isPresent() bool {
	w := h.load()
	return w != hdrInvalid && w&flagPresent != 0
}

func (h *header) isSmall() bool {
	return h.load()&flagSmall != 0
}

// setAccessed is the best-effort store from spec §4.B step 2: every
// successful read sets it, a plain store is sufficient.
func (h *header) setAccessed() {
	for {
		old := h.load()
		if old == hdrInvalid || old&flagAccessed != 0 {
			return
		}
		if h.word.CompareAndSwap(uint32(old), uint32(old|flagAccessed)) {
			return
		}
	}
}

// clearAccessed is used by the evacuator's aging sweep. It reports whether
// the bit was set before clearing; the evacuator reads the accessed bit from
// the header word itself and ignores this result.
func (h *header) clearAccessed() (wasAccessed bool) {
	for {
		old := h.load()
		if old == hdrInvalid {
			return false
		}
		if old&flagAccessed == 0 {
			return false
		}
		if h.word.CompareAndSwap(uint32(old), uint32(old&^flagAccessed)) {
			return true
		}
	}
}

// clearPresentIfUnaccessed is the evacuator's eviction step: present=1,
// accessed=0 -> mark evacuate, clear present. It fails (returns false) if a
// concurrent accessor raced in and set accessed, or if the header was
// already invalidated, in which case the evacuator moves on.
func (h *header) clearPresentIfUnaccessed() bool {
	for {
		old := h.load()
		if old == hdrInvalid || old&flagPresent == 0 || old&flagAccessed != 0 {
			return false
		}
		newWord := (old &^ flagPresent) | flagEvacuate
		if h.word.CompareAndSwap(uint32(old), uint32(newWord)) {
			return true
		}
	}
}

// clearPresent unconditionally drops the present bit, used by free() and by
// the allocator's large-object rollback path.
func (h *header) clearPresent() {
	for {
		old := h.load()
		if old == hdrInvalid || old&flagPresent == 0 {
			return
		}
		if h.word.CompareAndSwap(uint32(old), uint32(old&^flagPresent)) {
			return
		}
	}
}

// invalidate tombstones the header. The evacuator always calls this before
// the underlying bytes are reused, which is the safety invariant the
// double-check read/write protocol relies on.
func (h *header) invalidate() {
	h.word.Store(uint32(hdrInvalid))
}

// casValue performs a raw compare-and-swap on the header word. Nothing in
// the package calls it: the compaction path (evacuator.compactOne)
// tombstones the source header with an unconditional invalidate().
func (h *header) casValue(old, new headerWord) bool {
	return h.word.CompareAndSwap(uint32(old), uint32(new))
}
