package midas

import (
	"sync"
	"sync/atomic"
)

// victimRecord is one entry in the victim cache: the metadata surviving an
// evicted object, enough to answer "was this recently here" without
// keeping its payload alive (spec §4.D).
type victimRecord struct {
	valid    bool
	ptr      *SoftPtr
	size     int
	prevNode node
	nextNode node
}

func (v *victimRecord) prev() node     { return v.prevNode }
func (v *victimRecord) next() node     { return v.nextNode }
func (v *victimRecord) setPrev(n node) { v.prevNode = n }
func (v *victimRecord) setNext(n node) { v.nextNode = n }

// victimCache is a bounded FIFO of recently evicted object identities. It
// exists purely for accurate hit/miss/victim-hit accounting (spec §4.D);
// it never extends an object's lifetime.
type victimCache struct {
	mu         sync.Mutex
	countLimit int
	sizeLimit  int64
	sizeUsed   int64
	ring       []victimRecord
	order      *list // FIFO order over &ring[i], oldest at front
	nextSlot   int
	hits       atomic.Uint64
}

func newVictimCache(countLimit int, sizeLimit int64) *victimCache {
	if countLimit <= 0 {
		countLimit = 1
	}
	return &victimCache{
		countLimit: countLimit,
		sizeLimit:  sizeLimit,
		ring:       make([]victimRecord, countLimit),
		order:      &list{},
	}
}

// add records ptr's identity in the cache, evicting the oldest entry if the
// cache is at its count or size limit, and returns the slot index to stash
// on the soft pointer via markVictim.
func (vc *victimCache) add(o *object) int {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	for vc.sizeLimit > 0 && vc.sizeUsed+int64(o.size) > vc.sizeLimit && !vc.order.empty() {
		vc.evictOldestLocked()
	}

	idx := vc.nextSlot
	vc.nextSlot = (vc.nextSlot + 1) % len(vc.ring)

	slot := &vc.ring[idx]
	if slot.valid {
		vc.order.remove(slot)
		vc.sizeUsed -= int64(slot.size)
		if slot.ptr != nil {
			slot.ptr.invalidate()
		}
	}

	owner := o.rref.Load()
	slot.valid = true
	slot.ptr = owner
	slot.size = o.size
	vc.sizeUsed += int64(o.size)
	vc.order.append(slot)

	return idx
}

// evictOldestLocked drops the FIFO head, detaching whatever soft pointer
// still references it so a later Resolve reports a clean fault instead of
// a stale victim hit.
func (vc *victimCache) evictOldestLocked() {
	if vc.order.empty() {
		return
	}
	oldest := vc.order.first.(*victimRecord)
	vc.order.remove(oldest)
	vc.sizeUsed -= int64(oldest.size)
	if oldest.ptr != nil {
		oldest.ptr.invalidate()
	}
	oldest.valid = false
	oldest.ptr = nil
}

// lookup reports whether idx still names a live victim-cache slot, counting
// a hit when it does. SyncKV.Get does not call it: it counts victim hits
// from the soft pointer's own victim index.
func (vc *victimCache) lookup(idx int) bool {
	if idx < 0 || idx >= len(vc.ring) {
		return false
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.ring[idx].valid {
		vc.hits.Add(1)
		return true
	}
	return false
}

func (vc *victimCache) hitCount() uint64 { return vc.hits.Load() }
