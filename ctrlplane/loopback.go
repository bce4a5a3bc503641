package ctrlplane

import (
	"sync"
	"sync/atomic"
)

// Loopback is an in-process Coordinator. It is what the test suite and any
// single-node embedder without an external daemon use: it grants every
// ALLOC up to a budget, accepts OVERCOMMIT past that budget up to a second
// (overcommit) ceiling, and lets the embedding test drive FORCE_RECLAIM
// directly instead of over a socket.
type Loopback struct {
	mu sync.Mutex

	budget       uint64
	overcommit   uint64
	granted      uint64
	nextRegionID atomic.Int64

	onForceReclaim func(client *Client, bytes uint64)
}

// NewLoopback builds a Loopback coordinator that grants up to budget bytes
// of regular allocations and up to overcommitBudget additional bytes of
// OVERCOMMIT allocations before rejecting.
func NewLoopback(budget, overcommitBudget uint64) *Loopback {
	return &Loopback{budget: budget, overcommit: overcommitBudget}
}

// Send implements Coordinator.
func (l *Loopback) Send(req CtrlMsg) (CtrlMsg, error) {
	switch req.Op {
	case OpConnect:
		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetConnSucc}, nil

	case OpDisconnect:
		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetConnSucc}, nil

	case OpAlloc, OpOvercommit:
		l.mu.Lock()
		ceiling := l.budget
		if req.Op == OpOvercommit {
			ceiling = l.budget + l.overcommit
		}
		if l.granted+req.Mmsg.Size > ceiling {
			l.mu.Unlock()
			return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetMemFail}, nil
		}
		l.granted += req.Mmsg.Size
		rid := l.nextRegionID.Add(1)
		l.mu.Unlock()

		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetConnSucc, Mmsg: MemMsg{RegionID: rid, Size: req.Mmsg.Size}}, nil

	case OpFree, OpForceReclaim:
		// The FREE/FORCE_RECLAIM wire message carries no size (spec §6:
		// no union payload for these opcodes), so the loopback coordinator
		// cannot debit l.granted here. Client.FreeRegion calls Release with
		// the size it already has on hand once this reply comes back.
		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetMemSucc}, nil

	case OpUpdLimit, OpUpdLimitReq:
		l.mu.Lock()
		l.budget = req.Mmsg.Size
		l.mu.Unlock()
		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetConnSucc}, nil

	case OpSetWeight, OpSetLatCritical, OpProfStats:
		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetConnSucc}, nil

	default:
		return CtrlMsg{ID: req.ID, Op: req.Op, Ret: RetConnFail}, nil
	}
}

// Release lets a test or embedder give back granted bytes directly,
// bypassing the wire round trip, which keeps the loopback budget accurate
// across FreeRegion calls.
func (l *Loopback) Release(size uint64) {
	l.mu.Lock()
	if size > l.granted {
		size = l.granted
	}
	l.granted -= size
	l.mu.Unlock()
}

// ForceReclaim asks client to surrender bytes worth of regions, exactly
// the asynchronous notification spec §5 describes: it only enqueues, the
// pool's evacuator services it at its next sweep.
func (l *Loopback) ForceReclaim(client *Client, bytes uint64) {
	client.EnqueueForceReclaim(bytes)
}
