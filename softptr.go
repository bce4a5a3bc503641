package midas

import "sync/atomic"

// victimIndexNone marks a soft pointer that is not (or no longer) parked in
// a victim cache entry.
const victimIndexNone = -1

// SoftPtr is the application-visible handle described in spec §3: it
// resolves either to a payload or to a fault, and it never dangles. It
// holds either a live object, a victim-cache index, or neither (null).
type SoftPtr struct {
	obj       atomic.Pointer[object]
	victimIdx atomic.Int64
	null      atomic.Bool
}

func newSoftPtr() *SoftPtr {
	p := &SoftPtr{}
	p.victimIdx.Store(victimIndexNone)
	return p
}

// bind points the soft pointer at a freshly allocated object and wires the
// back-reference, establishing the bidirectional link spec §3 requires.
func (p *SoftPtr) bind(o *object) {
	p.null.Store(false)
	p.victimIdx.Store(victimIndexNone)
	p.obj.Store(o)
	o.setOwner(p)
}

// isVictim reports whether the pointer currently refers to a victim-cache
// entry rather than a live object.
func (p *SoftPtr) isVictim() bool {
	return p.victimIdx.Load() != victimIndexNone
}

// markVictim demotes the pointer: the object is gone, but its identity
// lives on in the victim cache at index idx for hit/miss accounting.
func (p *SoftPtr) markVictim(idx int) {
	p.obj.Store(nil)
	p.victimIdx.Store(int64(idx))
}

// invalidate fully detaches the pointer: no object, no victim slot. Used by
// Free and when the victim cache drops the slot the pointer was parked in.
func (p *SoftPtr) invalidate() {
	p.obj.Store(nil)
	p.victimIdx.Store(victimIndexNone)
	p.null.Store(true)
}

// swing atomically repoints the soft pointer at a new object, used by the
// evacuator's compaction path once the payload has been copied to its new
// location. The caller must invalidate the old object's header only after
// this call returns, which is the copy-then-swing-then-invalidate ordering
// contract from spec §4.E.
func (p *SoftPtr) swing(to *object) {
	p.obj.Store(to)
	to.setOwner(p)
}

// Resolve implements the double-check read protocol from spec §4.B. It
// copies up to len(dst) bytes of the payload into dst and returns the
// number of bytes copied. A fault is reported as (0, false); it is never
// an error the caller must propagate, only a cache miss.
func (p *SoftPtr) Resolve(dst []byte) (int, bool) {
	if p.null.Load() {
		return 0, false
	}

	o := p.obj.Load()
	if o == nil {
		// A victim (metadata survives, payload does not) or a detached
		// pointer. A large object keeps its head fragment here; Resolve
		// copies only that fragment, ResolveAll walks the whole chain.
		return 0, false
	}

	return resolveObject(o, dst)
}

// resolveObject runs the header-read / access-mark / copy / header-recheck
// sequence for a single fragment.
func resolveObject(o *object, dst []byte) (int, bool) {
	before := o.hdr.load()
	if before == hdrInvalid || before&flagPresent == 0 {
		return 0, false
	}

	o.hdr.setAccessed()

	n := copy(dst, o.payload)

	after := o.hdr.load()
	if after == hdrInvalid || after&flagPresent == 0 {
		// The evacuator invalidated the header mid-copy (or just
		// before); discard whatever we copied and report a fault.
		return 0, false
	}

	return n, true
}

// ResolveAll walks a possibly-fragmented large object and copies its full
// payload into dst, which must be at least as large as the logical size.
// It faults as soon as any fragment faults, discarding the partial copy,
// matching the single-generation guarantee: no caller may observe bytes
// assembled from two different generations of the same soft pointer.
func (p *SoftPtr) ResolveAll(dst []byte) (int, bool) {
	if p.null.Load() {
		return 0, false
	}

	o := p.obj.Load()
	if o == nil {
		return 0, false
	}

	var total int
	for cur := o; cur != nil; cur = cur.next.Load() {
		end := total + cur.size
		if end > len(dst) {
			end = len(dst)
		}
		n, ok := resolveObject(cur, dst[total:end])
		if !ok {
			return 0, false
		}
		total += n
		if total >= len(dst) {
			break
		}
	}

	return total, true
}

// Write implements the in-place write side of the §4.B protocol: it
// requires size_new <= size_stored, copying src into the payload and
// re-checking the header the same way Resolve does.
func (p *SoftPtr) Write(src []byte) bool {
	o := p.obj.Load()
	if o == nil || len(src) > len(o.payload) {
		return false
	}

	before := o.hdr.load()
	if before == hdrInvalid || before&flagPresent == 0 {
		return false
	}

	copy(o.payload, src)

	after := o.hdr.load()
	return after != hdrInvalid && after&flagPresent != 0
}

// WriteAll is Write's fragment-aware counterpart: it distributes src across
// every fragment of a (possibly large) object, re-checking each fragment's
// header the same way Write does. It requires len(src) to fit within the
// object's total allocated size.
func (p *SoftPtr) WriteAll(src []byte) bool {
	o := p.obj.Load()
	if o == nil {
		return false
	}

	var total int
	for cur := o; cur != nil; cur = cur.next.Load() {
		if total >= len(src) {
			break
		}
		end := total + len(cur.payload)
		if end > len(src) {
			end = len(src)
		}

		before := cur.hdr.load()
		if before == hdrInvalid || before&flagPresent == 0 {
			return false
		}

		copy(cur.payload, src[total:end])

		after := cur.hdr.load()
		if after == hdrInvalid || after&flagPresent == 0 {
			return false
		}

		total += end - total
	}

	return total >= len(src)
}

// Size returns the logical size of the object the pointer refers to, or 0
// for a null/victim/faulted pointer.
func (p *SoftPtr) Size() int {
	o := p.obj.Load()
	if o == nil {
		return 0
	}
	var total int
	for cur := o; cur != nil; cur = cur.next.Load() {
		total += cur.size
	}
	return total
}
