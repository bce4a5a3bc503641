package midas

import "testing"

func TestChunkBumpAlloc(t *testing.T) {
	c := newChunk(nil, make([]byte, 64))

	b1, ok := c.bumpAlloc(16)
	if !ok || len(b1) != 16 {
		t.Fatalf("bumpAlloc(16) = %v, %v", len(b1), ok)
	}
	if c.free() != 48 {
		t.Errorf("free() = %d, want 48", c.free())
	}

	b2, ok := c.bumpAlloc(48)
	if !ok || len(b2) != 48 {
		t.Fatalf("bumpAlloc(48) = %v, %v", len(b2), ok)
	}
	if c.free() != 0 {
		t.Errorf("free() = %d, want 0", c.free())
	}

	if _, ok := c.bumpAlloc(1); ok {
		t.Error("bumpAlloc should fail once the chunk is exhausted")
	}
}

func TestChunkSealBlocksFurtherAllocs(t *testing.T) {
	c := newChunk(nil, make([]byte, 64))
	c.seal()
	if !c.sealed() {
		t.Fatal("expected chunk to report sealed")
	}
	if _, ok := c.bumpAlloc(8); ok {
		t.Error("bumpAlloc should fail on a sealed chunk even with room left")
	}
}

func TestChunkAllDeadAndLiveBytes(t *testing.T) {
	c := newChunk(nil, make([]byte, 64))
	b1, _ := c.bumpAlloc(16)
	b2, _ := c.bumpAlloc(16)

	o1 := newObject(newHeader(true), b1, c)
	o2 := newObject(newHeader(true), b2, c)
	c.trackObject(o1)
	c.trackObject(o2)

	if c.allDead() {
		t.Fatal("chunk with live objects should not report allDead")
	}
	if live := c.liveBytes(); live != 32 {
		t.Errorf("liveBytes() = %d, want 32", live)
	}

	o1.hdr.clearPresent()
	if c.allDead() {
		t.Fatal("chunk with one remaining live object should not report allDead")
	}
	if live := c.liveBytes(); live != 16 {
		t.Errorf("liveBytes() = %d, want 16", live)
	}

	o2.hdr.clearPresent()
	if !c.allDead() {
		t.Error("chunk with every object dead should report allDead")
	}
	if live := c.liveBytes(); live != 0 {
		t.Errorf("liveBytes() = %d, want 0", live)
	}
}

func TestChunkReset(t *testing.T) {
	c := newChunk(nil, make([]byte, 64))
	c.bumpAlloc(16)
	c.seal()
	c.reset()

	if c.sealed() {
		t.Error("reset should reopen the chunk")
	}
	if c.free() != 64 {
		t.Errorf("free() after reset = %d, want 64", c.free())
	}
	if len(c.objects) != 0 {
		t.Errorf("reset should clear the tracked object list, got %d", len(c.objects))
	}
}
