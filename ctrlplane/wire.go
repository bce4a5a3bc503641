// Package ctrlplane implements the wire contract and resource client for
// talking to the external coordinator that grants and revokes memory
// regions. The coordinator's own policy is out of scope (spec §1); this
// package only has to speak its wire protocol (spec §6) and provide a
// client an embedder can dial.
package ctrlplane

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CtrlOpCode enumerates the operations a CtrlMsg can carry, matching spec
// §6 exactly.
type CtrlOpCode uint16

const (
	OpConnect CtrlOpCode = iota
	OpDisconnect
	OpAlloc
	OpOvercommit
	OpFree
	OpUpdLimit
	OpUpdLimitReq
	OpForceReclaim
	OpProfStats
	OpSetWeight
	OpSetLatCritical
)

func (op CtrlOpCode) String() string {
	switch op {
	case OpConnect:
		return "CONNECT"
	case OpDisconnect:
		return "DISCONNECT"
	case OpAlloc:
		return "ALLOC"
	case OpOvercommit:
		return "OVERCOMMIT"
	case OpFree:
		return "FREE"
	case OpUpdLimit:
		return "UPDLIMIT"
	case OpUpdLimitReq:
		return "UPDLIMIT_REQ"
	case OpForceReclaim:
		return "FORCE_RECLAIM"
	case OpProfStats:
		return "PROF_STATS"
	case OpSetWeight:
		return "SET_WEIGHT"
	case OpSetLatCritical:
		return "SET_LAT_CRITICAL"
	default:
		return fmt.Sprintf("CtrlOpCode(%d)", uint16(op))
	}
}

// CtrlRetCode enumerates the coordinator's reply codes, matching spec §6.
type CtrlRetCode uint16

const (
	RetNone CtrlRetCode = iota
	RetConnSucc
	RetConnFail
	RetMemSucc
	RetMemFail
)

// wireSize is the fixed size in bytes of both CtrlMsg and StatsMsg on the
// wire. spec §6 requires sizeof(CtrlMsg) == sizeof(StatsMsg); both are
// packed to exactly this many bytes below.
const wireSize = 32

// MemMsg is the tagged-union payload described in spec §6 and §9
// ("overloaded union messages"). It is modeled as a sum type over the
// active opcode rather than a literal union, and validated at parse time
// that the active field matches the opcode it travels with.
type MemMsg struct {
	RegionID    int64
	Size        uint64
	Weight      float32
	LatCritical bool
}

// CtrlMsg is the fixed-size struct exchanged in both directions between a
// resource client and the coordinator.
type CtrlMsg struct {
	ID   uint64
	Op   CtrlOpCode
	Ret  CtrlRetCode
	Mmsg MemMsg
}

// StatsMsg is the coordinator's periodic stats reply. It must marshal to
// the same 32-byte wire size as CtrlMsg.
type StatsMsg struct {
	Hits        uint64
	Misses      uint64
	MissPenalty float64
	VictimHits  uint32
	Headroom    uint32
}

func init() {
	// Mirrors the sizeof(CtrlMsg) == sizeof(StatsMsg) assertion spec §6
	// requires of the implementer; both Marshal methods below produce
	// exactly wireSize bytes, checked here once at package load instead
	// of on every call.
	var c CtrlMsg
	var s StatsMsg
	if len(c.Marshal()) != wireSize || len(s.Marshal()) != wireSize {
		panic("ctrlplane: wire message size mismatch")
	}
}

// Marshal packs a CtrlMsg into the fixed 32-byte wire layout:
// id(8) op(2) ret(2) region_id(8) union(8) pad(4).
func (m CtrlMsg) Marshal() []byte {
	buf := make([]byte, wireSize)
	binary.BigEndian.PutUint64(buf[0:8], m.ID)
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.Op))
	binary.BigEndian.PutUint16(buf[10:12], uint16(m.Ret))
	binary.BigEndian.PutUint64(buf[12:20], uint64(m.Mmsg.RegionID))

	switch m.Op {
	case OpAlloc, OpOvercommit, OpUpdLimit, OpUpdLimitReq:
		binary.BigEndian.PutUint64(buf[20:28], m.Mmsg.Size)
	case OpSetWeight:
		binary.BigEndian.PutUint32(buf[20:24], math.Float32bits(m.Mmsg.Weight))
	case OpSetLatCritical:
		if m.Mmsg.LatCritical {
			buf[20] = 1
		}
	}

	return buf
}

// Unmarshal parses buf (which must be wireSize bytes) into m, validating
// that the active MemMsg variant matches the opcode it travels with.
func (m *CtrlMsg) Unmarshal(buf []byte) error {
	if len(buf) != wireSize {
		return fmt.Errorf("ctrlplane: CtrlMsg wire size mismatch: got %d want %d", len(buf), wireSize)
	}

	m.ID = binary.BigEndian.Uint64(buf[0:8])
	m.Op = CtrlOpCode(binary.BigEndian.Uint16(buf[8:10]))
	m.Ret = CtrlRetCode(binary.BigEndian.Uint16(buf[10:12]))
	m.Mmsg = MemMsg{RegionID: int64(binary.BigEndian.Uint64(buf[12:20]))}

	switch m.Op {
	case OpAlloc, OpOvercommit, OpUpdLimit, OpUpdLimitReq:
		m.Mmsg.Size = binary.BigEndian.Uint64(buf[20:28])
	case OpSetWeight:
		m.Mmsg.Weight = math.Float32frombits(binary.BigEndian.Uint32(buf[20:24]))
	case OpSetLatCritical:
		m.Mmsg.LatCritical = buf[20] != 0
	case OpConnect, OpDisconnect, OpFree, OpForceReclaim, OpProfStats:
		// no union payload expected
	default:
		return fmt.Errorf("ctrlplane: unknown opcode %v", m.Op)
	}

	return nil
}

// Marshal packs a StatsMsg into the same 32-byte wire layout as CtrlMsg:
// hits(8) misses(8) miss_penalty(8) vhits(4) headroom(4).
func (s StatsMsg) Marshal() []byte {
	buf := make([]byte, wireSize)
	binary.BigEndian.PutUint64(buf[0:8], s.Hits)
	binary.BigEndian.PutUint64(buf[8:16], s.Misses)
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(s.MissPenalty))
	binary.BigEndian.PutUint32(buf[24:28], s.VictimHits)
	binary.BigEndian.PutUint32(buf[28:32], s.Headroom)
	return buf
}

// Unmarshal parses buf into s.
func (s *StatsMsg) Unmarshal(buf []byte) error {
	if len(buf) != wireSize {
		return fmt.Errorf("ctrlplane: StatsMsg wire size mismatch: got %d want %d", len(buf), wireSize)
	}
	s.Hits = binary.BigEndian.Uint64(buf[0:8])
	s.Misses = binary.BigEndian.Uint64(buf[8:16])
	s.MissPenalty = math.Float64frombits(binary.BigEndian.Uint64(buf[16:24]))
	s.VictimHits = binary.BigEndian.Uint32(buf[24:28])
	s.Headroom = binary.BigEndian.Uint32(buf[28:32])
	return nil
}

// RegionName returns the cross-process shared-memory name for a region,
// spec §4.A/§6: "region-{pid}-{rid}", both decimal.
func RegionName(pid int, regionID int64) string {
	return fmt.Sprintf("region-%d-%d", pid, regionID)
}
