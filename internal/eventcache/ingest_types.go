package eventcache

// Change is a single (control, value) observation within a ChangeBatch.
// StringRepr is optional; when empty the pipeline derives it from Value.
type Change struct {
	Name       string
	Value      Value
	StringRepr string
}

// ChangeBatch is the consumed form of a polled change-group delivery
// (§6.1). The producer MUST deliver Changes for one group in time order;
// the core re-keys SequenceNumber on ingest regardless of what the
// producer supplied, since sequence numbers are authoritative only once
// assigned by the manager.
type ChangeBatch struct {
	GroupID     string
	Changes     []Change
	TimestampNs int64
	TimestampMs int64
	// SequenceNumber is the producer-assigned hint; retained for
	// diagnostics only. It never drives the core's own sequencing.
	SequenceNumber int64
}
