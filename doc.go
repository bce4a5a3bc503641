/*
Package midas implements the core runtime of a soft-memory cache substrate:
a log-structured allocator over fixed-size shared-memory regions, a
soft-pointer handle that survives region reclamation, a background
evacuator that compacts and reclaims memory under pressure, and a
synchronized hash map built on top of those primitives.

Pools

A CacheManager owns a set of named pools. Each Pool has its own size limit,
log allocator, victim cache and evacuator goroutine. Applications never
touch regions or chunks directly: they get a Pool, build a SyncKV on it, and
call Get/Set/Remove. On a miss, the pool's construct callback recomputes the
value and the caller stores it back.

Soft pointers

Allocation returns a SoftPtr, not a raw address. A SoftPtr always resolves
either to a live payload or to a fault; it never dangles, even while the
evacuator is concurrently compacting or reclaiming the object it refers to.
This is the double-check protocol implemented in softptr.go on top of the
atomic header words in header.go: a reader sets
the accessed bit, copies the payload, then re-reads the header to make sure
the object was not invalidated mid-copy.

Eviction and regions

When a pool exceeds its limit, or the external coordinator revokes memory,
the evacuator ages and evicts objects, compacts survivors out of sparse
chunks, and returns fully empty regions through the ctrlplane client. A
bounded victim cache remembers the identity of recently evicted objects so
that hit/miss/victim-hit accounting stays honest even though the payload
bytes themselves are gone.

Memory

Regions are obtained from an external coordinator (package ctrlplane) and
split into fixed-size chunks, and small objects are bump-allocated one after
another inside a chunk. An object at or above the small-object threshold is
a "large object", stored as a linked list of fragments that can span several
chunks. Space left at the end of a chunk when it is sealed stays unused until
the evacuator recycles the chunk, so the pool is almost never fully utilized
down to the last byte.
*/
package midas
