package midas

import "testing"

func TestSyncKVSetGetRemove(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	if !m.Set("a", []byte("1")) {
		t.Fatal("Set should succeed")
	}

	dst := make([]byte, 1)
	n, ok := m.Get("a", dst)
	if !ok || string(dst[:n]) != "1" {
		t.Fatalf("Get(a) = %q, %v", dst[:n], ok)
	}

	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	if !m.Remove("a") {
		t.Error("Remove should report true for an existing key")
	}
	if m.Remove("a") {
		t.Error("Remove should report false for a key that is already gone")
	}
	if _, ok := m.Get("a", dst); ok {
		t.Error("Get after Remove should miss")
	}
}

func TestSyncKVSetOverwritesExistingKey(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Set("k", []byte("old"))
	m.Set("k", []byte("newer"))

	dst := make([]byte, 5)
	n, ok := m.Get("k", dst)
	if !ok || string(dst[:n]) != "newer" {
		t.Fatalf("Get(k) = %q, %v, want %q", dst[:n], ok, "newer")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after overwrite", m.Len())
	}
}

func TestSyncKVSetReusesBufferInPlace(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Set("a", []byte("12345678")) // rounds up to a 16-byte buffer
	before := m.getPtr("a")

	if !m.Set("a", []byte("xyz")) {
		t.Fatal("Set should succeed")
	}

	after := m.getPtr("a")
	if before != after {
		t.Error("Set should reuse the existing object in place when the new value still fits")
	}

	dst := make([]byte, 3)
	n, ok := m.Get("a", dst)
	if !ok || string(dst[:n]) != "xyz" {
		t.Fatalf("Get(a) = %q, %v, want %q", dst[:n], ok, "xyz")
	}
}

func TestSyncKVSetReallocatesWhenValueOutgrowsBuffer(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Set("a", []byte("1"))
	m.Set("b", []byte("2"))

	before := m.getPtr("a")
	if !m.Set("a", []byte("this value is much longer than one byte")) {
		t.Fatal("Set should succeed")
	}
	after := m.getPtr("a")
	if before == after {
		t.Error("Set should allocate a new object once the value outgrows the stored buffer")
	}

	b := m.bucketFor("a")
	if b.head.key != "a" {
		t.Error("a reallocated node should move to the head of its chain")
	}

	dst := make([]byte, 64)
	n, ok := m.Get("a", dst)
	if !ok || string(dst[:n]) != "this value is much longer than one byte" {
		t.Fatalf("Get(a) = %q, %v", dst[:n], ok)
	}
}

func TestSyncKVClear(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Set("a", []byte("1"))
	m.Set("b", []byte("2"))
	m.Clear()

	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
	if _, ok := m.Get("a", make([]byte, 1)); ok {
		t.Error("Get after Clear should miss")
	}
}

func TestSyncKVZaddNotExistAndExistFlags(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	changed, err := m.Zadd("z", "a", 1.0, ZNotExist)
	if err != nil || !changed {
		t.Fatalf("first ZNotExist zadd should insert: %v, %v", changed, err)
	}

	changed, err = m.Zadd("z", "a", 99.0, ZNotExist)
	if err != nil || changed {
		t.Fatalf("ZNotExist zadd on an existing member should not change anything: %v, %v", changed, err)
	}

	changed, err = m.Zadd("z", "missing", 1.0, ZExist)
	if err != nil || changed {
		t.Fatalf("ZExist zadd on a missing member should not change anything: %v, %v", changed, err)
	}

	changed, err = m.Zadd("z", "a", 5.0, ZExist)
	if err != nil || !changed {
		t.Fatalf("ZExist zadd on an existing member should update it: %v, %v", changed, err)
	}
}

// TestSyncKVZrangeScenario reproduces the worked example: a=1, b=3, c=2
// added in that order, then both range directions over the full set.
func TestSyncKVZrangeScenario(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Zadd("z", "a", 1.0, ZNotExist)
	m.Zadd("z", "b", 3.0, ZNotExist)
	m.Zadd("z", "c", 2.0, ZNotExist)

	fwd, err := m.Zrange("z", 0, 2)
	if err != nil {
		t.Fatalf("Zrange: %v", err)
	}
	wantFwd := []string{"a", "c", "b"}
	if !equalStrings(fwd, wantFwd) {
		t.Errorf("Zrange(0,2) = %v, want %v", fwd, wantFwd)
	}

	rev, err := m.Zrevrange("z", 0, 2)
	if err != nil {
		t.Fatalf("Zrevrange: %v", err)
	}
	wantRev := []string{"b", "c", "a"}
	if !equalStrings(rev, wantRev) {
		t.Errorf("Zrevrange(0,2) = %v, want %v", rev, wantRev)
	}
}

func TestSyncKVZrangePartialWindow(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Zadd("z", "a", 1.0, ZNotExist)
	m.Zadd("z", "b", 3.0, ZNotExist)
	m.Zadd("z", "c", 2.0, ZNotExist)

	got, err := m.Zrevrange("z", 0, 1)
	if err != nil {
		t.Fatalf("Zrevrange: %v", err)
	}
	want := []string{"b", "c"}
	if !equalStrings(got, want) {
		t.Errorf("Zrevrange(0,1) = %v, want %v", got, want)
	}
}

// TestSyncKVZrangeSurfacesFaultDistinctFromMissingKey verifies that a key
// whose stored object faults mid-resolve (the evacuator raced the read) is
// reported as ErrFault, not silently treated the same as an absent key.
func TestSyncKVZrangeSurfacesFaultDistinctFromMissingKey(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	m.Zadd("z", "a", 1.0, ZNotExist)

	ptr := m.getPtr("z")
	if ptr == nil {
		t.Fatal("getPtr(z) should find the entry Zadd just created")
	}
	ptr.obj.Load().hdr.invalidate()

	if _, err := m.Zrange("z", 0, 0); err != ErrFault {
		t.Errorf("Zrange on a faulted key = %v, want ErrFault", err)
	}
	if _, err := m.Zadd("z", "b", 2.0, ZAny); err != ErrFault {
		t.Errorf("Zadd on a faulted key = %v, want ErrFault", err)
	}
}

func TestSyncKVZrangeOnMissingKeyIsEmpty(t *testing.T) {
	p := newTestPool(t, PoolOptions{})
	m := NewSyncKV(p, 8)

	got, err := m.Zrange("nope", 0, 0)
	if err != nil {
		t.Fatalf("Zrange on a missing key should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Zrange on a missing key = %v, want empty", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
