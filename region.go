package midas

import (
	"sync"

	"github.com/pohaoc/midas/ctrlplane"
)

// region is a contiguous range obtained from the coordinator and split
// into fixed-size chunks, per spec §3. While this process owns it, every
// address inside it is valid; once freeRegion succeeds, every soft pointer
// into it must resolve to a fault, which the evacuator guarantees by
// releasing a region only when every chunk in it is sealed and every object
// in those chunks is dead (present cleared or header invalidated).
type region struct {
	id     int64
	size   int
	store  ctrlplane.RegionStore
	chunks []*chunk
}

// regionTable is the per-pool region bookkeeping from spec §4.A. It is
// protected by a single mutex; reads hand back a copy-on-read snapshot
// (spec §5).
type regionTable struct {
	mu         sync.Mutex
	client     *ctrlplane.Client
	regionSize int
	chunkSize  int
	regions    map[int64]*region
}

func newRegionTable(client *ctrlplane.Client, regionSize, chunkSize int) *regionTable {
	return &regionTable{
		client:     client,
		regionSize: regionSize,
		chunkSize:  chunkSize,
		regions:    make(map[int64]*region),
	}
}

// allocRegion requests a new region from the coordinator and splits it
// into chunkSize chunks. overcommit must still be requested explicitly so
// the coordinator may reject it (spec §4.A); rejection is not an error, it
// is reported as (nil, false).
func (rt *regionTable) allocRegion(overcommit bool) (*region, bool) {
	info, ok := rt.client.AllocRegion(uint64(rt.regionSize), overcommit)
	if !ok {
		return nil, false
	}

	buf := info.Store.Bytes()
	n := len(buf) / rt.chunkSize
	if n == 0 {
		n = 1
	}

	r := &region{id: info.RegionID, size: len(buf), store: info.Store}
	for i := 0; i < n; i++ {
		end := (i + 1) * rt.chunkSize
		if i == n-1 || end > len(buf) {
			end = len(buf)
		}
		r.chunks = append(r.chunks, newChunk(r, buf[i*rt.chunkSize:end]))
	}

	rt.mu.Lock()
	rt.regions[r.id] = r
	rt.mu.Unlock()

	return r, true
}

// freeRegion unmaps and releases a region. The caller (the evacuator) must
// ensure every chunk in the region is already dead before calling this;
// regionTable does not re-check liveness.
func (rt *regionTable) freeRegion(id int64) error {
	rt.mu.Lock()
	_, ok := rt.regions[id]
	delete(rt.regions, id)
	rt.mu.Unlock()

	if !ok {
		return nil
	}
	return rt.client.FreeRegion(id)
}

// getRegion returns a copy of the region's bookkeeping (chunk count, size);
// it does not hand back the live chunk slice, keeping with the
// copy-on-read contract in spec §5.
func (rt *regionTable) getRegion(id int64) (size int, chunkCount int, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, found := rt.regions[id]
	if !found {
		return 0, 0, false
	}
	return r.size, len(r.chunks), true
}

// updateLimit forwards the new size budget to the coordinator.
func (rt *regionTable) updateLimit(bytes uint64) error {
	return rt.client.UpdateLimit(bytes)
}

// snapshot returns the current set of regions for the evacuator's
// round-robin scan. The slice is a copy; the evacuator's scan tolerates
// seeing a region that has since been freed (its chunks will report dead).
func (rt *regionTable) snapshot() []*region {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*region, 0, len(rt.regions))
	for _, r := range rt.regions {
		out = append(out, r)
	}
	return out
}

func (rt *regionTable) regionCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.regions)
}
