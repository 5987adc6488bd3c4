package eventcache

import "sort"

// timeIndexEntry pairs a monotonic timestamp with its ring slot so the
// index can be kept sorted without re-scanning the ring.
type timeIndexEntry struct {
	ts  int64
	pos int
}

// Buffer is a fixed-capacity ring of CachedEvent, with a sorted side-index
// over TimestampNs supporting O(log n) range lookups (§3.2, §4.2).
//
// The ring and the index are maintained together: on overwrite, the
// evicted slot's index entry is removed before the new one is inserted,
// so the index never points at stale data.
type Buffer struct {
	groupID string

	ring []CachedEvent
	used []bool // tracks which ring slots hold live data (handles partial fill)

	capacity int
	maxAgeMs int64

	size int
	head int // next write position
	tail int // oldest live position (only meaningful while size == capacity)

	// index is kept sorted by ts ascending. Binary search gives the
	// O(log n) lower/upper bound lookups query_time_range needs.
	index []timeIndexEntry

	memoryEstimateBytes int64
}

const baseEventBytes = 200

// NewBuffer creates an empty ring of the given capacity and age ceiling.
func NewBuffer(groupID string, capacity int, maxAgeMs int64) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		groupID:  groupID,
		ring:     make([]CachedEvent, capacity),
		used:     make([]bool, capacity),
		capacity: capacity,
		maxAgeMs: maxAgeMs,
		index:    make([]timeIndexEntry, 0, capacity),
	}
}

func estimateEventBytes(e *CachedEvent) int64 {
	n := int64(baseEventBytes)
	n += int64(len(e.StringRepr))
	n += int64(len(e.PreviousString))
	n += int64(len(e.ControlName))
	return n
}

// indexInsert inserts ts->pos keeping index sorted by ts.
func (b *Buffer) indexInsert(ts int64, pos int) {
	i := sort.Search(len(b.index), func(i int) bool { return b.index[i].ts >= ts })
	b.index = append(b.index, timeIndexEntry{})
	copy(b.index[i+1:], b.index[i:])
	b.index[i] = timeIndexEntry{ts: ts, pos: pos}
}

// indexRemove removes the first entry matching (ts, pos) exactly — the
// ring position disambiguates duplicate timestamps.
func (b *Buffer) indexRemove(ts int64, pos int) {
	lo := sort.Search(len(b.index), func(i int) bool { return b.index[i].ts >= ts })
	for i := lo; i < len(b.index) && b.index[i].ts == ts; i++ {
		if b.index[i].pos == pos {
			b.index = append(b.index[:i], b.index[i+1:]...)
			return
		}
	}
}

// Add inserts an event, evicting the oldest if the ring is full. Returns
// true if an eviction occurred.
func (b *Buffer) Add(e CachedEvent) (evicted bool) {
	pos := b.head
	if b.used[pos] {
		// Overwriting a live slot: remove its index entry first (§3.2).
		old := b.ring[pos]
		b.indexRemove(old.TimestampNs, pos)
		b.memoryEstimateBytes -= estimateEventBytes(&old)
		evicted = true
	} else {
		b.size++
	}

	b.ring[pos] = e
	b.used[pos] = true
	b.indexInsert(e.TimestampNs, pos)
	b.memoryEstimateBytes += estimateEventBytes(&e)

	b.head = (b.head + 1) % b.capacity
	if evicted {
		b.tail = b.head
	}
	return evicted
}

// Size returns the current number of live events.
func (b *Buffer) Size() int { return b.size }

// MemoryEstimateBytes returns the incrementally maintained memory estimate.
func (b *Buffer) MemoryEstimateBytes() int64 { return b.memoryEstimateBytes }

// GetOldest returns the oldest live event, if any.
func (b *Buffer) GetOldest() (CachedEvent, bool) {
	if b.size == 0 {
		return CachedEvent{}, false
	}
	return b.ring[b.index[0].pos], true
}

// GetNewest returns the newest live event, if any.
func (b *Buffer) GetNewest() (CachedEvent, bool) {
	if b.size == 0 {
		return CachedEvent{}, false
	}
	return b.ring[b.index[len(b.index)-1].pos], true
}

// GetAll returns every live event in timestamp order.
func (b *Buffer) GetAll() []CachedEvent {
	out := make([]CachedEvent, 0, b.size)
	for _, ent := range b.index {
		out = append(out, b.ring[ent.pos])
	}
	return out
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.index = b.index[:0]
	for i := range b.used {
		b.used[i] = false
	}
	b.size = 0
	b.head = 0
	b.tail = 0
	b.memoryEstimateBytes = 0
}

// QueryTimeRange returns every live event with TimestampNs in
// [startNs, endNs], using the sorted index's lower/upper bound instead of
// a linear scan — O(log n + k).
func (b *Buffer) QueryTimeRange(startNs, endNs int64) []CachedEvent {
	lo := sort.Search(len(b.index), func(i int) bool { return b.index[i].ts >= startNs })
	hi := sort.Search(len(b.index), func(i int) bool { return b.index[i].ts > endNs })
	if lo >= hi {
		return nil
	}
	out := make([]CachedEvent, 0, hi-lo)
	for _, ent := range b.index[lo:hi] {
		out = append(out, b.ring[ent.pos])
	}
	return out
}

// ForceEvict evicts up to n oldest live events, returning the number
// actually evicted.
func (b *Buffer) ForceEvict(n int) int {
	evicted := 0
	for evicted < n && b.size > 0 {
		oldest := b.index[0]
		b.used[oldest.pos] = false
		b.memoryEstimateBytes -= estimateEventBytes(&b.ring[oldest.pos])
		b.index = b.index[1:]
		b.size--
		evicted++
	}
	return evicted
}

// EvictOldEvents prunes from the tail while the oldest event exceeds
// maxAgeMs relative to nowNs (monotonic).
func (b *Buffer) EvictOldEvents(nowNs int64) int {
	if b.maxAgeMs <= 0 {
		return 0
	}
	cutoff := nowNs - b.maxAgeMs*int64(1_000_000)
	evicted := 0
	for b.size > 0 && b.index[0].ts < cutoff {
		oldest := b.index[0]
		b.used[oldest.pos] = false
		b.memoryEstimateBytes -= estimateEventBytes(&b.ring[oldest.pos])
		b.index = b.index[1:]
		b.size--
		evicted++
	}
	return evicted
}

// RemoveBefore removes every live event with TimestampNs < cutoffNs, used
// by the disk spillover manager to drop events it has just written to a
// spill file (§4.4). Returns the removed events in timestamp order so the
// caller can serialize them.
func (b *Buffer) RemoveBefore(cutoffNs int64) []CachedEvent {
	hi := sort.Search(len(b.index), func(i int) bool { return b.index[i].ts >= cutoffNs })
	if hi == 0 {
		return nil
	}
	removed := make([]CachedEvent, 0, hi)
	for _, ent := range b.index[:hi] {
		removed = append(removed, b.ring[ent.pos])
		b.used[ent.pos] = false
		b.memoryEstimateBytes -= estimateEventBytes(&b.ring[ent.pos])
	}
	b.index = b.index[hi:]
	b.size -= hi
	return removed
}

// RemoveOldest removes and returns the n oldest live events (fewer if the
// buffer holds less than n), in timestamp order. Used by the disk
// spillover manager to carve off a contiguous oldest batch sized to fit
// spillover.max_file_size_mb, independent of any age cutoff (§4.4).
func (b *Buffer) RemoveOldest(n int) []CachedEvent {
	if n <= 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}
	if n == 0 {
		return nil
	}
	removed := make([]CachedEvent, 0, n)
	for _, ent := range b.index[:n] {
		removed = append(removed, b.ring[ent.pos])
		b.used[ent.pos] = false
		b.memoryEstimateBytes -= estimateEventBytes(&b.ring[ent.pos])
	}
	b.index = b.index[n:]
	b.size -= n
	return removed
}

// Replace substitutes the event at the given index-slot position (used by
// the compression engine to mark survivors as Compressed in place,
// without touching sequence numbers, timestamps, or the index).
func (b *Buffer) Replace(pos int, e CachedEvent) {
	old := b.ring[pos]
	b.memoryEstimateBytes -= estimateEventBytes(&old)
	b.ring[pos] = e
	b.memoryEstimateBytes += estimateEventBytes(&e)
}

// Positions returns the live ring positions in timestamp order, for
// callers (the compression engine) that read events via EventAt and
// mutate them in place via Replace.
func (b *Buffer) Positions() []int {
	out := make([]int, len(b.index))
	for i, ent := range b.index {
		out[i] = ent.pos
	}
	return out
}

// EventAt returns the live event stored at ring position pos.
func (b *Buffer) EventAt(pos int) CachedEvent { return b.ring[pos] }

// DropPositions removes the events at the given ring positions (used by
// the compression engine to drop events that didn't survive their tier's
// retention policy). Positions must be live.
func (b *Buffer) DropPositions(positions []int) int {
	if len(positions) == 0 {
		return 0
	}
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		drop[p] = true
	}
	kept := b.index[:0]
	removed := 0
	for _, ent := range b.index {
		if drop[ent.pos] {
			b.used[ent.pos] = false
			old := b.ring[ent.pos]
			b.memoryEstimateBytes -= estimateEventBytes(&old)
			removed++
			continue
		}
		kept = append(kept, ent)
	}
	b.index = kept
	b.size -= removed
	return removed
}
