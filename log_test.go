package midas

import (
	"testing"

	"github.com/pohaoc/midas/ctrlplane"
)

func newTestAllocator(t *testing.T, regionSize, chunkSize int) *logAllocator {
	t.Helper()
	coord := ctrlplane.NewLoopback(1<<30, 1<<30)
	client := ctrlplane.NewClient(coord, 1)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rt := newRegionTable(client, regionSize, chunkSize)
	vc := newVictimCache(64, 1<<20)
	return newLogAllocator(rt, chunkSize, vc)
}

func TestLogAllocatorSmallReusesActiveChunk(t *testing.T) {
	a := newTestAllocator(t, 64, 64)
	h := a.NewHandle()

	p1, ok := a.Alloc(h, 8, false)
	if !ok {
		t.Fatal("first small alloc should succeed")
	}
	c1 := h.chunk

	p2, ok := a.Alloc(h, 8, false)
	if !ok {
		t.Fatal("second small alloc should succeed")
	}
	if h.chunk != c1 {
		t.Error("second alloc should reuse the same active chunk while room remains")
	}

	if !p1.Write([]byte("a")) || !p2.Write([]byte("b")) {
		t.Error("both allocations should accept a write")
	}
}

func TestLogAllocatorSealsAndRotatesOnExhaustion(t *testing.T) {
	// chunkSize=96 keeps smallThreshold (chunkSize-32=64) above the 40-byte
	// allocations below (48 bytes each after rounding to the 16-byte unit),
	// so all of them stay on the small-object path.
	a := newTestAllocator(t, 96, 96)
	h := a.NewHandle()

	_, ok := a.Alloc(h, 40, false)
	if !ok {
		t.Fatal("first alloc should succeed")
	}
	first := h.chunk

	// The chunk has 96 bytes; a second 40-byte alloc (48 after rounding)
	// exactly fills it, a third should force a seal and rotation to a fresh
	// chunk.
	_, ok = a.Alloc(h, 40, false)
	if !ok {
		t.Fatal("second alloc should succeed")
	}

	_, ok = a.Alloc(h, 40, false)
	if !ok {
		t.Fatal("third alloc should succeed by rotating to a new chunk")
	}
	if h.chunk == first {
		t.Error("expected the allocator to rotate to a new active chunk")
	}
	if !first.sealed() {
		t.Error("the exhausted chunk should have been sealed")
	}
}

func TestLogAllocatorLargeObjectFragments(t *testing.T) {
	a := newTestAllocator(t, 96, 32)
	h := a.NewHandle()

	// Above smallThreshold forces the large path; with a 32-byte chunk
	// size this should chain across multiple chunks.
	size := a.smallThreshold() + 64
	ptr, ok := a.Alloc(h, size, false)
	if !ok {
		t.Fatalf("large alloc of %d bytes should succeed", size)
	}

	if ptr.Size() < size {
		t.Errorf("Size() = %d, want at least %d", ptr.Size(), size)
	}

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	if !ptr.WriteAll(payload) {
		t.Fatal("WriteAll should succeed across every fragment")
	}

	dst := make([]byte, size)
	n, ok := ptr.ResolveAll(dst)
	if !ok || n != size {
		t.Fatalf("ResolveAll() = %d, %v, want %d, true", n, ok, size)
	}
	for i := range payload {
		if dst[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, dst[i], payload[i])
		}
	}
}

func TestLogAllocatorFreeRoutesToVictimCache(t *testing.T) {
	a := newTestAllocator(t, 64, 64)
	h := a.NewHandle()

	ptr, ok := a.Alloc(h, 8, false)
	if !ok {
		t.Fatal("alloc should succeed")
	}

	a.Free(ptr, true)
	if !ptr.isVictim() {
		t.Error("Free(ptr, true) should leave the pointer marked as a victim")
	}
}

func TestLogAllocatorFreeWithoutVictimInvalidates(t *testing.T) {
	a := newTestAllocator(t, 64, 64)
	h := a.NewHandle()

	ptr, ok := a.Alloc(h, 8, false)
	if !ok {
		t.Fatal("alloc should succeed")
	}

	a.Free(ptr, false)
	if ptr.isVictim() {
		t.Error("Free(ptr, false) should not park the pointer in the victim cache")
	}
	if _, ok := ptr.Resolve(make([]byte, 8)); ok {
		t.Error("a freed pointer should fault on resolve")
	}
}

func TestLogAllocatorOutOfRegionsFails(t *testing.T) {
	coord := ctrlplane.NewLoopback(16, 0)
	client := ctrlplane.NewClient(coord, 1)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rt := newRegionTable(client, 16, 16)
	a := newLogAllocator(rt, 16, newVictimCache(8, 1<<10))
	h := a.NewHandle()

	if _, ok := a.Alloc(h, 8, false); !ok {
		t.Fatal("first alloc within budget should succeed")
	}

	if _, ok := a.Alloc(h, 8, false); ok {
		t.Error("expected allocation to fail once the tiny region budget and chunk are exhausted")
	}
}
