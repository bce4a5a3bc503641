package midas

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultBucketCount = 256

// kvEntry is one chain link in a bucket. Its value, including an ordered
// set's encoded blob, lives behind ptr.
type kvEntry struct {
	key  string
	ptr  *SoftPtr
	next *kvEntry
}

type bucket struct {
	mu    sync.RWMutex
	head  *kvEntry
	count int
}

// SyncKV is the sharded, lock-striped map from spec §4.G: each bucket
// carries its own RWMutex, so unrelated keys never contend. Keys are
// hashed with xxhash for uniform bucket spread (matching the hashing
// approach used for fixed-size binary keys elsewhere in this corpus).
type SyncKV struct {
	pool    *CachePool
	buckets []bucket
}

// NewSyncKV builds a hash map that allocates its values through pool.
func NewSyncKV(pool *CachePool, bucketCount int) *SyncKV {
	if bucketCount <= 0 {
		bucketCount = defaultBucketCount
	}
	return &SyncKV{pool: pool, buckets: make([]bucket, bucketCount)}
}

func (m *SyncKV) bucketFor(key string) *bucket {
	h := xxhash.Sum64String(key)
	return &m.buckets[h%uint64(len(m.buckets))]
}

// Get looks up key, tracking the hit/miss/victim-hit counters on the
// owning pool the same way the log allocator's miss path would.
func (m *SyncKV) Get(key string, dst []byte) (int, bool) {
	b := m.bucketFor(key)
	b.mu.RLock()
	ptr := m.findLocked(b, key)
	b.mu.RUnlock()

	if ptr == nil {
		m.pool.IncCacheMiss()
		return 0, false
	}

	n, ok := ptr.Resolve(dst)
	if !ok {
		if ptr.isVictim() {
			m.pool.IncVictimHit()
		}
		m.pool.IncCacheMiss()
		return 0, false
	}

	m.pool.IncCacheHit()
	return n, true
}

func (m *SyncKV) findLocked(b *bucket, key string) *SoftPtr {
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			return e.ptr
		}
	}
	return nil
}

// Set installs value under key, replacing whatever was there before. Per
// spec §4.B/§4.G's write contract, if an existing node's buffer is already
// large enough, the new value is written in place and the node keeps its
// chain position; otherwise the stale node is dropped and a fresh one,
// freshly allocated, is linked in at the chain head.
func (m *SyncKV) Set(key string, value []byte) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.head; e != nil; e = e.next {
		if e.key != key {
			continue
		}
		if e.ptr.Size() >= len(value) && e.ptr.WriteAll(value) {
			return true
		}
		old := e.ptr
		ptr, ok := m.pool.Alloc(len(value))
		if !ok || !ptr.WriteAll(value) {
			return false
		}
		m.pool.Free(old, true)

		// Drop e from its current position and relink it at the head,
		// per spec §4.G: a reallocated node moves to the front of its
		// chain instead of keeping its old slot.
		m.removeLocked(b, key)
		b.head = &kvEntry{key: key, ptr: ptr, next: b.head}
		b.count++
		return true
	}

	ptr, ok := m.pool.Alloc(len(value))
	if !ok || !ptr.WriteAll(value) {
		return false
	}
	b.head = &kvEntry{key: key, ptr: ptr, next: b.head}
	b.count++
	return true
}

// removeLocked unlinks the entry for key from b, if present. The caller
// must hold b.mu. It decrements b.count but does not free the entry's
// object; callers that relink the key increment b.count again.
func (m *SyncKV) removeLocked(b *bucket, key string) {
	var prev *kvEntry
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				b.head = e.next
			} else {
				prev.next = e.next
			}
			b.count--
			return
		}
		prev = e
	}
}

// Remove deletes key if present and frees its backing object.
func (m *SyncKV) Remove(key string) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	var prev *kvEntry
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				b.head = e.next
			} else {
				prev.next = e.next
			}
			b.count--
			m.pool.Free(e.ptr, false)
			return true
		}
		prev = e
	}
	return false
}

// Clear drops every entry across every bucket, freeing each backing
// object.
func (m *SyncKV) Clear() {
	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.Lock()
		for e := b.head; e != nil; e = e.next {
			m.pool.Free(e.ptr, false)
		}
		b.head = nil
		b.count = 0
		b.mu.Unlock()
	}
}

// Len returns the total number of live entries across all buckets.
func (m *SyncKV) Len() int {
	total := 0
	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.RLock()
		total += b.count
		b.mu.RUnlock()
	}
	return total
}

func (m *SyncKV) getPtr(key string) *SoftPtr {
	b := m.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return m.findLocked(b, key)
}

// getBytes resolves the full (possibly fragmented) value stored under key.
// A missing key is not an error: it returns (nil, nil). A key that is
// present but whose object faults mid-resolve (the evacuator raced it) is
// a genuine anomaly and returns ErrFault, distinct from "not found".
func (m *SyncKV) getBytes(key string) ([]byte, error) {
	ptr := m.getPtr(key)
	if ptr == nil {
		return nil, nil
	}
	size := ptr.Size()
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, ok := ptr.ResolveAll(buf)
	if !ok {
		return nil, ErrFault
	}
	return buf[:n], nil
}

// decodeZSetAt returns the ordered-set entries stored under key, or an
// empty set if key is absent — zadd on a missing key creates the set.
func (m *SyncKV) decodeZSetAt(key string) ([]zEntry, error) {
	raw, err := m.getBytes(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return decodeZSet(raw)
}

// Zadd materializes the ordered-set value stored under key, applies the
// member/score update, and stores the result back via Set, per spec §4.G:
// "materialize the whole value into a heap buffer, mutate it, and set it
// back" rather than shifting bytes in place.
func (m *SyncKV) Zadd(key, member string, score float64, flag ZFlag) (bool, error) {
	entries, err := m.decodeZSetAt(key)
	if err != nil {
		return false, err
	}

	z := newZSetFromEntries(entries)
	changed, err := z.Zadd(member, score, flag)
	if err != nil || !changed {
		return false, err
	}

	if !m.Set(key, encodeZSet(z.snapshotEntries())) {
		return false, nil
	}
	return true, nil
}

// Zrange returns the ascending-score rank window [start, end] from the
// ordered set stored under key.
func (m *SyncKV) Zrange(key string, start, end int) ([]string, error) {
	entries, err := m.decodeZSetAt(key)
	if err != nil {
		return nil, err
	}
	return newZSetFromEntries(entries).Zrange(start, end)
}

// Zrevrange returns the same rank window in descending score order.
func (m *SyncKV) Zrevrange(key string, start, end int) ([]string, error) {
	entries, err := m.decodeZSetAt(key)
	if err != nil {
		return nil, err
	}
	return newZSetFromEntries(entries).Zrevrange(start, end)
}
