package eventcache

// CompressionResult reports a single compression pass, mirroring the
// `compression` notification payload (§4.3, §6.3).
type CompressionResult struct {
	GroupID        string
	Before         int
	After          int
	BytesReclaimed int64
}

// CompressionEngine applies the tiered retention policy of §4.3 to a
// group's buffer. It never touches SequenceNumber or TimestampNs, and
// only ever marks survivors Compressed=true or drops non-survivors.
type CompressionEngine struct{}

func NewCompressionEngine() *CompressionEngine { return &CompressionEngine{} }

// Run compresses buf in place relative to nowNs (monotonic "now") and cfg,
// returning before/after counts and bytes reclaimed.
func (ce *CompressionEngine) Run(buf *Buffer, cfg *CompressionConfig, nowNs int64) CompressionResult {
	positions := buf.Positions()
	before := len(positions)
	bytesBefore := buf.MemoryEstimateBytes()

	lastKeptMs := make(map[string]int64)
	var toDrop []int

	for _, pos := range positions {
		e := buf.EventAt(pos)
		ageMs := (nowNs - e.TimestampNs) / 1_000_000

		switch {
		case ageMs <= cfg.RecentWindowMs:
			// Recent tier: keep all, untouched.
			lastKeptMs[e.ControlName] = e.TimestampMs

		case ageMs <= cfg.MediumWindowMs:
			if mediumTierKeep(&e, cfg, lastKeptMs[e.ControlName]) {
				e.Compressed = true
				buf.Replace(pos, e)
				lastKeptMs[e.ControlName] = e.TimestampMs
			} else {
				toDrop = append(toDrop, pos)
			}

		case ageMs <= cfg.AncientWindowMs:
			if ancientTierKeep(&e) {
				e.Compressed = true
				buf.Replace(pos, e)
				lastKeptMs[e.ControlName] = e.TimestampMs
			} else {
				toDrop = append(toDrop, pos)
			}

		default:
			// Beyond ancient window: subsumed by max_age_ms eviction,
			// but drop now rather than waiting for the age sweep.
			toDrop = append(toDrop, pos)
		}
	}

	buf.DropPositions(toDrop)

	bytesAfter := buf.MemoryEstimateBytes()
	after := buf.Size()
	return CompressionResult{
		Before:         before,
		After:          after,
		BytesReclaimed: bytesBefore - bytesAfter,
	}
}

func mediumTierKeep(e *CachedEvent, cfg *CompressionConfig, lastKeptMs int64) bool {
	if e.HasEventType {
		switch e.EventType {
		case EventTypeStateTransition, EventTypeThresholdCrossed, EventTypeSignificantChange:
			return true
		}
	}
	if e.HasDelta && e.HasPrevious && e.PreviousValue.IsNumeric() && e.PreviousValue.Number != 0 {
		pct := (e.Delta / e.PreviousValue.Number) * 100
		if pct < 0 {
			pct = -pct
		}
		if pct >= cfg.SignificantChangePercent {
			return true
		}
	}
	if lastKeptMs == 0 {
		return true
	}
	return e.TimestampMs-lastKeptMs >= cfg.MinTimeBetweenEventsMs
}

func ancientTierKeep(e *CachedEvent) bool {
	if !e.HasEventType {
		return false
	}
	return e.EventType == EventTypeStateTransition || e.EventType == EventTypeThresholdCrossed
}
