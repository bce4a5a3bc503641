package ctrlplane

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RegionInfo describes one region the client knows about: its id and the
// backing store the caller should use to read/write it.
type RegionInfo struct {
	RegionID int64
	Size     uint64
	Store    RegionStore
}

// releaser is implemented by coordinators that track a granted-bytes budget
// in-process (Loopback) and need to be told when a region's bytes are
// actually given back, as opposed to merely sent a FREE message. A real
// over-the-wire coordinator tracks this itself from the FREE message alone
// and does not need to implement this.
type releaser interface {
	Release(size uint64)
}

// RegionStore is the mapped memory behind a region. shmStore (shm_unix.go)
// backs it with golang.org/x/sys/unix.Mmap over a named shared-memory
// object when the embedder wants cross-process sharing; heapStore backs it
// with a plain Go slice for single-process embedding and tests.
type RegionStore interface {
	Bytes() []byte
	Close() error
}

// heapStore is the in-process RegionStore used unless the embedder has
// called EnableSharedMemory, so the region is not visible to another
// process. It is what the test suite exercises.
type heapStore struct {
	buf []byte
}

func newHeapStore(size int) *heapStore { return &heapStore{buf: make([]byte, size)} }
func (h *heapStore) Bytes() []byte     { return h.buf }
func (h *heapStore) Close() error      { h.buf = nil; return nil }

// Coordinator is the interface the client speaks to. A real deployment
// implements it over a socket using the CtrlMsg wire format; Loopback
// implements it directly in-process for tests and for single-node
// embedders that want the overcommit/force-reclaim protocol without an
// external daemon.
type Coordinator interface {
	// Send issues req and returns the coordinator's reply.
	Send(req CtrlMsg) (CtrlMsg, error)
}

// Client is the region-allocation resource client described in spec §4.A.
// It keeps a table of the regions it has mapped, guarded by mu, and a queue
// of pending FORCE_RECLAIM requests, guarded by reclaimMu. Requests to the
// Coordinator are sent without a lock of the client's own. Chunk-level
// bookkeeping lives in the caller (the pool's region table).
type Client struct {
	coord Coordinator
	pid   int
	nextID atomic.Int64

	mu      sync.Mutex
	regions map[int64]*RegionInfo

	reclaimMu sync.Mutex
	pending   []ReclaimRequest // enqueued FORCE_RECLAIM requests, drained by the evacuator
}

// ReclaimRequest is a FORCE_RECLAIM notification queued by the coordinator.
// It is serviced asynchronously at the evacuator's next sweep (spec §5:
// "the coordinator's FORCE_RECLAIM is asynchronous").
type ReclaimRequest struct {
	Bytes uint64
}

// NewClient builds a resource client against coord. pid identifies this
// process for the "region-{pid}-{rid}" naming convention.
func NewClient(coord Coordinator, pid int) *Client {
	return &Client{coord: coord, pid: pid, regions: make(map[int64]*RegionInfo)}
}

func (c *Client) send(op CtrlOpCode, mm MemMsg) (CtrlMsg, error) {
	req := CtrlMsg{ID: uint64(c.nextID.Add(1)), Op: op, Mmsg: mm}
	rsp, err := c.coord.Send(req)
	if err != nil {
		return CtrlMsg{}, &ControlPlaneError{Op: op.String(), Err: err}
	}
	return rsp, nil
}

// Connect performs the initial handshake. A failure here is fatal, per
// spec §7: steady-state RPC failures degrade to out-of-memory, but a
// failed CONNECT cannot be worked around.
func (c *Client) Connect() error {
	rsp, err := c.send(OpConnect, MemMsg{})
	if err != nil {
		return err
	}
	if rsp.Ret != RetConnSucc {
		return &ControlPlaneError{Op: "CONNECT", Err: fmt.Errorf("coordinator returned %v", rsp.Ret)}
	}
	return nil
}

// AllocRegion requests a new region of size bytes. Rejection is not an
// error (spec §4.A): it returns (nil, false) and the caller treats that as
// upstream allocation failure (out of memory).
func (c *Client) AllocRegion(size uint64, overcommit bool) (*RegionInfo, bool) {
	op := OpAlloc
	if overcommit {
		op = OpOvercommit
	}

	rsp, err := c.send(op, MemMsg{Size: size})
	if err != nil || rsp.Ret != RetConnSucc {
		return nil, false
	}

	store, err := c.openStore(rsp.Mmsg.RegionID, size)
	if err != nil {
		return nil, false
	}

	info := &RegionInfo{RegionID: rsp.Mmsg.RegionID, Size: size, Store: store}

	c.mu.Lock()
	c.regions[info.RegionID] = info
	c.mu.Unlock()

	return info, true
}

// openStoreHook is replaced by EnableSharedMemory (shm_unix.go) when shared
// memory is requested; by default it maps nothing extra and just hands
// back heap-backed storage, which is all the in-process coordinator needs.
var openStoreHook = func(name string, size uint64) (RegionStore, error) {
	return newHeapStore(int(size)), nil
}

func (c *Client) openStore(regionID int64, size uint64) (RegionStore, error) {
	return openStoreHook(RegionName(c.pid, regionID), size)
}

// FreeRegion unmaps and releases a region back to the coordinator. It
// replies MEM_SUCC once the region is unmapped, matching the
// FORCE_RECLAIM contract in spec §4.A.
func (c *Client) FreeRegion(regionID int64) error {
	c.mu.Lock()
	info, ok := c.regions[regionID]
	delete(c.regions, regionID)
	c.mu.Unlock()

	if ok && info.Store != nil {
		_ = info.Store.Close()
	}

	rsp, err := c.send(OpFree, MemMsg{RegionID: regionID})
	if err != nil {
		return err
	}
	if rsp.Ret != RetMemSucc {
		return &ControlPlaneError{Op: "FREE", Err: fmt.Errorf("coordinator returned %v", rsp.Ret)}
	}

	if ok && info.Size > 0 {
		if r, isReleaser := c.coord.(releaser); isReleaser {
			r.Release(info.Size)
		}
	}
	return nil
}

// GetRegion returns the descriptor for a region this client currently
// owns, via a copy-on-read of the table (spec §5).
func (c *Client) GetRegion(regionID int64) (RegionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.regions[regionID]
	if !ok {
		return RegionInfo{}, false
	}
	return *info, true
}

// UpdateLimit informs the coordinator of a new desired pool size.
func (c *Client) UpdateLimit(bytes uint64) error {
	_, err := c.send(OpUpdLimit, MemMsg{Size: bytes})
	return err
}

// SetWeight and SetLatencyCritical forward the per-pool hints named by the
// SET_WEIGHT / SET_LAT_CRITICAL opcodes (spec §6). They carry no eviction
// semantics in this package; a pool attaches them as hints only (see
// SPEC_FULL.md §9).
func (c *Client) SetWeight(w float32) error {
	_, err := c.send(OpSetWeight, MemMsg{Weight: w})
	return err
}

func (c *Client) SetLatencyCritical(v bool) error {
	_, err := c.send(OpSetLatCritical, MemMsg{LatCritical: v})
	return err
}

// EnqueueForceReclaim is how a Coordinator implementation notifies the
// client of an asynchronous FORCE_RECLAIM; the client only queues it, the
// evacuator drains the queue at its next sweep.
func (c *Client) EnqueueForceReclaim(bytes uint64) {
	c.reclaimMu.Lock()
	c.pending = append(c.pending, ReclaimRequest{Bytes: bytes})
	c.reclaimMu.Unlock()
}

// DrainForceReclaim returns and clears any pending FORCE_RECLAIM requests.
func (c *Client) DrainForceReclaim() []ReclaimRequest {
	c.reclaimMu.Lock()
	defer c.reclaimMu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

// AckForceReclaim replies MEM_SUCC once the caller (the evacuator, via the
// pool) has unmapped the regions it chose to surrender.
func (c *Client) AckForceReclaim(regionID int64) error {
	rsp, err := c.send(OpForceReclaim, MemMsg{RegionID: regionID})
	if err != nil {
		return err
	}
	if rsp.Ret != RetMemSucc {
		return &ControlPlaneError{Op: "FORCE_RECLAIM", Err: fmt.Errorf("coordinator returned %v", rsp.Ret)}
	}
	return nil
}

// Disconnect tears down the session.
func (c *Client) Disconnect() error {
	_, err := c.send(OpDisconnect, MemMsg{})
	return err
}
