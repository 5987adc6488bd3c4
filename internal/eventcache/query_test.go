package eventcache

import "testing"

func TestQuery_NormalizeDefaults(t *testing.T) {
	q := Query{}
	q.Normalize(100_000)
	if q.EndTimeMs != 100_000 {
		t.Errorf("EndTimeMs = %d, want 100000", q.EndTimeMs)
	}
	if q.StartTimeMs != 100_000-defaultWindowMs {
		t.Errorf("StartTimeMs = %d, want %d", q.StartTimeMs, 100_000-defaultWindowMs)
	}
	if q.Aggregation != AggregationRaw {
		t.Errorf("Aggregation = %v, want raw", q.Aggregation)
	}
	if q.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", q.Limit, defaultLimit)
	}
}

func TestQuery_NormalizeClampsLimit(t *testing.T) {
	q := Query{Limit: 1_000_000, HasLimit: true}
	q.Normalize(0)
	if q.Limit != maxLimit {
		t.Errorf("Limit = %d, want clamped to %d", q.Limit, maxLimit)
	}

	q2 := Query{Limit: -5, HasLimit: true}
	q2.Normalize(0)
	if q2.Limit != minLimit {
		t.Errorf("Limit = %d, want clamped to %d", q2.Limit, minLimit)
	}
}

func TestQuery_CacheKeyIsOrderIndependentOverControlNames(t *testing.T) {
	q1 := Query{ControlNames: []string{"b", "a"}, HasStart: true, HasEnd: true, EndTimeMs: 10}
	q2 := Query{ControlNames: []string{"a", "b"}, HasStart: true, HasEnd: true, EndTimeMs: 10}
	if q1.CacheKey() != q2.CacheKey() {
		t.Error("cache key should not depend on control name order")
	}
}

func TestQuery_CacheKeyDiffersOnFilter(t *testing.T) {
	base := Query{HasStart: true, HasEnd: true, EndTimeMs: 10}
	withFilter := base
	withFilter.ValueFilter = &ValueFilter{Op: OpEq, Value: NumberValue(1)}
	if base.CacheKey() == withFilter.CacheKey() {
		t.Error("adding a value filter should change the cache key")
	}
}

func TestQuery_ValidateRejectsBadEnum(t *testing.T) {
	q := Query{Aggregation: "bogus"}
	if err := q.Validate(); err == nil {
		t.Error("expected an error for an invalid aggregation value")
	}
}

func TestQuery_ValidateRejectsNegativeOffset(t *testing.T) {
	q := Query{Offset: -1}
	if err := q.Validate(); err == nil {
		t.Error("expected an error for a negative offset")
	}
}

func TestQuery_ValidateRejectsStartAfterEnd(t *testing.T) {
	q := Query{HasStart: true, StartTimeMs: 100, HasEnd: true, EndTimeMs: 50}
	if err := q.Validate(); err == nil {
		t.Error("expected an error when start is after end")
	}
}

func TestQuery_ValidateAcceptsZeroValue(t *testing.T) {
	q := Query{}
	if err := q.Validate(); err != nil {
		t.Errorf("a zero-value (unset) query should validate, got %v", err)
	}
}
