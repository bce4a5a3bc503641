package ctrlplane

import "testing"

func TestClientAllocAndFreeRegion(t *testing.T) {
	coord := NewLoopback(1<<20, 0)
	c := NewClient(coord, 1)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	info, ok := c.AllocRegion(4096, false)
	if !ok {
		t.Fatal("AllocRegion: expected success")
	}
	if len(info.Store.Bytes()) != 4096 {
		t.Errorf("region store size = %d, want 4096", len(info.Store.Bytes()))
	}

	got, ok := c.GetRegion(info.RegionID)
	if !ok || got.RegionID != info.RegionID {
		t.Fatalf("GetRegion(%d) = %+v, %v", info.RegionID, got, ok)
	}

	if err := c.FreeRegion(info.RegionID); err != nil {
		t.Fatalf("FreeRegion: %v", err)
	}
	if _, ok := c.GetRegion(info.RegionID); ok {
		t.Error("GetRegion after FreeRegion should report absent")
	}
}

func TestClientAllocRegionRejectsOverBudget(t *testing.T) {
	coord := NewLoopback(1024, 0)
	c := NewClient(coord, 1)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, ok := c.AllocRegion(2048, false); ok {
		t.Error("expected AllocRegion over budget to fail")
	}
}

func TestClientOvercommitAllowsPastBudget(t *testing.T) {
	coord := NewLoopback(1024, 4096)
	c := NewClient(coord, 1)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, ok := c.AllocRegion(2048, false); ok {
		t.Fatal("expected plain ALLOC past budget to fail")
	}
	if _, ok := c.AllocRegion(2048, true); !ok {
		t.Error("expected OVERCOMMIT past budget to succeed within overcommit ceiling")
	}
}

func TestClientFreeRegionReleasesBudgetForReuse(t *testing.T) {
	coord := NewLoopback(4096, 0)
	c := NewClient(coord, 1)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < 10; i++ {
		info, ok := c.AllocRegion(4096, false)
		if !ok {
			t.Fatalf("AllocRegion iteration %d: expected success, budget should be fully reclaimed after each FreeRegion", i)
		}
		if err := c.FreeRegion(info.RegionID); err != nil {
			t.Fatalf("FreeRegion iteration %d: %v", i, err)
		}
	}

	if _, ok := c.AllocRegion(4096, false); !ok {
		t.Error("AllocRegion should still succeed against the full budget after a sustained free/realloc cycle")
	}
}

func TestClientForceReclaimDrainedByCaller(t *testing.T) {
	coord := NewLoopback(1<<20, 0)
	c := NewClient(coord, 1)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	coord.ForceReclaim(c, 8192)

	reqs := c.DrainForceReclaim()
	if len(reqs) != 1 || reqs[0].Bytes != 8192 {
		t.Fatalf("DrainForceReclaim() = %+v, want one request for 8192 bytes", reqs)
	}

	if more := c.DrainForceReclaim(); len(more) != 0 {
		t.Errorf("DrainForceReclaim() after drain = %+v, want empty", more)
	}
}

func TestClientSetWeightAndLatencyCritical(t *testing.T) {
	coord := NewLoopback(1<<20, 0)
	c := NewClient(coord, 1)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.SetWeight(0.5); err != nil {
		t.Errorf("SetWeight: %v", err)
	}
	if err := c.SetLatencyCritical(true); err != nil {
		t.Errorf("SetLatencyCritical: %v", err)
	}
}
