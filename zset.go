package midas

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"
)

// ZFlag selects the conditional-write semantics for Zadd, mirroring the
// EXIST/NOT_EXIST flags from spec §4.G.
type ZFlag int

const (
	// ZAny writes regardless of whether the member already exists.
	ZAny ZFlag = iota
	// ZExist only updates a member that is already present.
	ZExist
	// ZNotExist only inserts a member that is not yet present.
	ZNotExist
)

type zEntry struct {
	member string
	score  float64
}

// ZSet is the ordered-set structure from spec §4.G: members carry a score
// and are retrievable by rank range in either direction. It keeps its
// members sorted in a plain slice rather than a skip list; the corpus this
// package is grounded on has no skip-list dependency to reach for, and a
// sorted slice with binary-search insertion is the direct, idiomatic
// choice for the access pattern this type needs (sorted range reads,
// Get-by-member for updates).
type ZSet struct {
	mu      sync.RWMutex
	entries []zEntry
	index   map[string]int // member -> position in entries
}

// NewZSet creates an empty ordered set.
func NewZSet() *ZSet {
	return &ZSet{index: make(map[string]int)}
}

// newZSetFromEntries builds a ZSet view over an already-sorted entry
// slice, used by SyncKV.Zadd/Zrange/Zrevrange after decoding a stored
// ordered-set blob.
func newZSetFromEntries(entries []zEntry) *ZSet {
	z := NewZSet()
	z.entries = append([]zEntry(nil), entries...)
	z.reindexFrom(0)
	return z
}

// snapshotEntries returns a copy of the set's entries in ascending score
// order, ready for encodeZSet.
func (z *ZSet) snapshotEntries() []zEntry {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return append([]zEntry(nil), z.entries...)
}

// encodeZSet serializes entries using the wire layout from spec §3:
// [num_elements:8] { [len:8][score:f64][bytes] }*, sorted ascending by
// score (the caller guarantees the ordering).
func encodeZSet(entries []zEntry) []byte {
	size := 8
	for _, e := range entries {
		size += 16 + len(e.member)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf, uint64(len(entries)))

	pos := 8
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[pos:], uint64(len(e.member)))
		binary.BigEndian.PutUint64(buf[pos+8:], math.Float64bits(e.score))
		copy(buf[pos+16:], e.member)
		pos += 16 + len(e.member)
	}
	return buf
}

// decodeZSet parses the wire layout encodeZSet produces. A truncated or
// malformed blob is a usage error: it means the caller handed Zadd/Zrange
// a key whose value was not written by this ordered-set codec.
func decodeZSet(b []byte) ([]zEntry, error) {
	if len(b) < 8 {
		return nil, usageErrorf("decodeZSet", "truncated header (%d bytes)", len(b))
	}
	n := binary.BigEndian.Uint64(b)
	b = b[8:]

	entries := make([]zEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(b) < 16 {
			return nil, usageErrorf("decodeZSet", "truncated entry %d", i)
		}
		l := binary.BigEndian.Uint64(b)
		score := math.Float64frombits(binary.BigEndian.Uint64(b[8:]))
		b = b[16:]

		if uint64(len(b)) < l {
			return nil, usageErrorf("decodeZSet", "truncated member bytes for entry %d", i)
		}
		entries = append(entries, zEntry{member: string(b[:l]), score: score})
		b = b[l:]
	}
	return entries, nil
}

// Zadd inserts or updates member's score according to flag, returning
// whether the write took effect. It is a usage error to call Zadd with an
// unrecognized flag.
func (z *ZSet) Zadd(member string, score float64, flag ZFlag) (bool, error) {
	switch flag {
	case ZAny, ZExist, ZNotExist:
	default:
		return false, usageErrorf("Zadd", "unrecognized flag %d", flag)
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	pos, exists := z.index[member]
	if flag == ZExist && !exists {
		return false, nil
	}
	if flag == ZNotExist && exists {
		return false, nil
	}

	if exists {
		z.entries = append(z.entries[:pos], z.entries[pos+1:]...)
		z.reindexFrom(pos)
	}

	newPos := sort.Search(len(z.entries), func(i int) bool {
		return z.entries[i].score >= score
	})
	z.entries = append(z.entries, zEntry{})
	copy(z.entries[newPos+1:], z.entries[newPos:])
	z.entries[newPos] = zEntry{member: member, score: score}
	z.reindexFrom(newPos)

	return true, nil
}

// reindexFrom fixes up z.index for every entry at or after i; callers hold
// z.mu for writing.
func (z *ZSet) reindexFrom(i int) {
	for ; i < len(z.entries); i++ {
		z.index[z.entries[i].member] = i
	}
}

// Score returns member's current score.
func (z *ZSet) Score(member string) (float64, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	pos, ok := z.index[member]
	if !ok {
		return 0, false
	}
	return z.entries[pos].score, true
}

// Remove deletes member if present.
func (z *ZSet) Remove(member string) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	pos, ok := z.index[member]
	if !ok {
		return false
	}
	delete(z.index, member)
	z.entries = append(z.entries[:pos], z.entries[pos+1:]...)
	z.reindexFrom(pos)
	return true
}

// Len returns the number of members currently stored.
func (z *ZSet) Len() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return len(z.entries)
}

// Zrange returns members ranked [start, end] inclusive, in ascending score
// order. start<0 or end>count is a usage error, matching spec §4.G/§8.
func (z *ZSet) Zrange(start, end int) ([]string, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.rangeLocked(start, end)
}

func (z *ZSet) rangeLocked(start, end int) ([]string, error) {
	n := len(z.entries)

	if start < 0 {
		return nil, usageErrorf("Zrange", "start %d is negative", start)
	}
	if end > n {
		return nil, usageErrorf("Zrange", "end %d exceeds set size %d", end, n)
	}
	if start > end {
		return nil, usageErrorf("Zrange", "start %d exceeds end %d", start, end)
	}

	last := end
	if last > n-1 {
		last = n - 1
	}
	if n == 0 || start > last {
		return []string{}, nil
	}

	out := make([]string, 0, last-start+1)
	for _, e := range z.entries[start : last+1] {
		out = append(out, e.member)
	}
	return out, nil
}

// Zrevrange returns the same rank window as Zrange but measured from the
// high-score end, in descending score order: rank 0 is the
// highest-scoring member. It reverses Zrange element-wise for a
// full-width window, which is the round-trip law spec §8 checks.
func (z *ZSet) Zrevrange(start, end int) ([]string, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	n := len(z.entries)
	if start < 0 {
		return nil, usageErrorf("Zrevrange", "start %d is negative", start)
	}
	if end > n {
		return nil, usageErrorf("Zrevrange", "end %d exceeds set size %d", end, n)
	}

	fwdStart, fwdEnd := n-1-end, n-1-start
	if fwdStart < 0 {
		fwdStart = 0
	}
	members, err := z.rangeLocked(fwdStart, fwdEnd)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(members))
	for i, m := range members {
		out[len(members)-1-i] = m
	}
	return out, nil
}
