package eventcache

// EventType classifies how a change relates to the control's previous
// value. Classification happens once at ingest (§4.5) and is immutable
// thereafter; compression consumes it but never re-classifies.
type EventType string

const (
	EventTypeChange            EventType = "change"
	EventTypeStateTransition    EventType = "state_transition"
	EventTypeSignificantChange  EventType = "significant_change"
	EventTypeThresholdCrossed   EventType = "threshold_crossed"
)

// CachedEvent is the immutable record stored once ingested. See spec §3.1.
type CachedEvent struct {
	GroupID     string
	ControlName string

	// TimestampNs is monotonic nanoseconds; authoritative for ordering
	// and the time index. Never derived from wall-clock.
	TimestampNs int64
	// TimestampMs is wall-clock milliseconds; used for user queries and
	// windowing.
	TimestampMs int64

	Value      Value
	StringRepr string

	HasPrevious    bool
	PreviousValue  Value
	PreviousString string

	HasDelta bool
	Delta    float64

	HasDuration bool
	DurationMs  int64

	SequenceNumber int64

	HasEventType bool
	EventType    EventType

	Compressed bool
}

// ChangedEventType reports the classified type, or EventTypeChange as the
// zero-value default when no previous value existed to classify against.
func (e *CachedEvent) ChangedEventType() EventType {
	if !e.HasEventType {
		return EventTypeChange
	}
	return e.EventType
}
