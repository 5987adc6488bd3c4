package eventcache

import "testing"

func TestBuffer_AddAndQueryTimeRange(t *testing.T) {
	b := NewBuffer("g1", 10, 0)
	for i := int64(1); i <= 5; i++ {
		b.Add(CachedEvent{GroupID: "g1", TimestampNs: i * 1000, TimestampMs: i})
	}
	if b.Size() != 5 {
		t.Fatalf("expected size 5, got %d", b.Size())
	}

	got := b.QueryTimeRange(2000, 4000)
	if len(got) != 3 {
		t.Fatalf("expected 3 events in [2000,4000], got %d", len(got))
	}
	for i, e := range got {
		want := int64(i+2) * 1000
		if e.TimestampNs != want {
			t.Errorf("event %d: got ts %d, want %d", i, e.TimestampNs, want)
		}
	}
}

func TestBuffer_WrapsAtCapacity(t *testing.T) {
	b := NewBuffer("g1", 3, 0)
	for i := int64(1); i <= 5; i++ {
		b.Add(CachedEvent{GroupID: "g1", TimestampNs: i * 1000})
	}
	if b.Size() != 3 {
		t.Fatalf("expected size capped at 3, got %d", b.Size())
	}
	oldest, ok := b.GetOldest()
	if !ok || oldest.TimestampNs != 3000 {
		t.Fatalf("expected oldest surviving event at ts 3000, got %+v ok=%v", oldest, ok)
	}
	newest, ok := b.GetNewest()
	if !ok || newest.TimestampNs != 5000 {
		t.Fatalf("expected newest event at ts 5000, got %+v ok=%v", newest, ok)
	}
}

func TestBuffer_EvictOldEvents(t *testing.T) {
	b := NewBuffer("g1", 10, 5) // maxAgeMs=5
	b.Add(CachedEvent{TimestampNs: 0})
	b.Add(CachedEvent{TimestampNs: 3_000_000})  // 3ms
	b.Add(CachedEvent{TimestampNs: 10_000_000}) // 10ms

	evicted := b.EvictOldEvents(10_000_000)
	if evicted != 1 {
		t.Fatalf("expected exactly the ts=0 event evicted, got %d", evicted)
	}
	if b.Size() != 2 {
		t.Fatalf("expected 2 survivors, got %d", b.Size())
	}
}

func TestBuffer_RemoveBefore(t *testing.T) {
	b := NewBuffer("g1", 10, 0)
	for i := int64(1); i <= 5; i++ {
		b.Add(CachedEvent{TimestampNs: i * 1000})
	}
	removed := b.RemoveBefore(3000)
	if len(removed) != 2 {
		t.Fatalf("expected 2 events removed before cutoff, got %d", len(removed))
	}
	if b.Size() != 3 {
		t.Fatalf("expected 3 survivors, got %d", b.Size())
	}
}

func TestBuffer_RemoveOldest(t *testing.T) {
	b := NewBuffer("g1", 10, 0)
	for i := int64(1); i <= 5; i++ {
		b.Add(CachedEvent{TimestampNs: i * 1000})
	}
	removed := b.RemoveOldest(2)
	if len(removed) != 2 || removed[0].TimestampNs != 1000 || removed[1].TimestampNs != 2000 {
		t.Fatalf("expected the 2 oldest events removed in order, got %+v", removed)
	}
	if b.Size() != 3 {
		t.Fatalf("expected 3 survivors, got %d", b.Size())
	}

	// Requesting more than available must not panic or remove fake entries.
	removed = b.RemoveOldest(100)
	if len(removed) != 3 {
		t.Fatalf("expected remaining 3 events removed, got %d", len(removed))
	}
	if b.Size() != 0 {
		t.Fatalf("expected buffer empty, got size %d", b.Size())
	}
}

func TestBuffer_ForceEvict(t *testing.T) {
	b := NewBuffer("g1", 10, 0)
	for i := int64(1); i <= 5; i++ {
		b.Add(CachedEvent{TimestampNs: i * 1000})
	}
	n := b.ForceEvict(2)
	if n != 2 || b.Size() != 3 {
		t.Fatalf("expected 2 evicted and size 3, got n=%d size=%d", n, b.Size())
	}
}

func TestBuffer_DropPositions(t *testing.T) {
	b := NewBuffer("g1", 10, 0)
	for i := int64(1); i <= 4; i++ {
		b.Add(CachedEvent{TimestampNs: i * 1000})
	}
	positions := b.Positions()
	dropped := b.DropPositions(positions[:2])
	if dropped != 2 || b.Size() != 2 {
		t.Fatalf("expected 2 dropped and size 2, got dropped=%d size=%d", dropped, b.Size())
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := NewBuffer("g1", 10, 0)
	b.Add(CachedEvent{TimestampNs: 1000})
	b.Clear()
	if b.Size() != 0 {
		t.Fatalf("expected empty buffer after Clear, got size %d", b.Size())
	}
	if _, ok := b.GetOldest(); ok {
		t.Error("GetOldest should report ok=false on an empty buffer")
	}
}
