package midas

import "sync/atomic"

// allocUnit is the rounding granularity for every allocation (spec §4.C:
// "round size up to a 16-byte unit").
const allocUnit = 16

func roundUp(size int) int {
	if size <= 0 {
		return allocUnit
	}
	return ((size + allocUnit - 1) / allocUnit) * allocUnit
}

// object is one allocated value. Its payload is a sub-slice of its owning
// chunk's backing buffer: allocation is a bump of chunk.pos, never a
// per-object heap allocation of the bytes themselves. A large value is a
// linked list of fragments; only the head fragment carries a meaningful
// rref, the flags on every fragment are kept in sync by the evacuator
// (spec §4.E: "large-object fragment, any flag: apply the head's decision
// by following next").
type object struct {
	hdr     *header
	size    int // logical byte size of this fragment's payload
	payload []byte
	chunk   *chunk
	next    atomic.Pointer[object] // large-object fragment chain, head->tail
	rref    atomic.Pointer[SoftPtr]
}

func newObject(hdr *header, payload []byte, c *chunk) *object {
	return &object{hdr: hdr, size: len(payload), payload: payload, chunk: c}
}

// setOwner wires the bidirectional link between an object and the soft
// pointer that owns the right to dereference it (spec §9: ownership is
// one-directional, rref is a raw back-reference, not an owning handle).
func (o *object) setOwner(p *SoftPtr) {
	o.rref.Store(p)
}

// ownerPointsBack reports whether this object's owner soft pointer still
// resolves back to this exact object, which is the invariant checked by
// TestSoftPtrSwingPreservesOwnerBackref.
func (o *object) ownerPointsBack() bool {
	owner := o.rref.Load()
	if owner == nil {
		return true
	}
	return owner.obj.Load() == o
}

// fragments walks the large-object chain starting at the head, the caller's
// object.
func (o *object) fragments() []*object {
	frags := make([]*object, 0, 1)
	for cur := o; cur != nil; cur = cur.next.Load() {
		frags = append(frags, cur)
	}
	return frags
}

func (o *object) isLarge() bool {
	return !o.hdr.isSmall()
}
