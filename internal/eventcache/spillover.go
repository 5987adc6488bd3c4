package eventcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
)

const spillFileExt = "json"

// spillEventWire is the on-disk representation of a CachedEvent. Field
// names are stable per §6.4; TimestampNs is a decimal string so 64-bit
// precision survives JSON's float64 number type.
type spillEventWire struct {
	GroupID     string `json:"group_id"`
	ControlName string `json:"control_name"`
	TimestampNs string `json:"timestamp_ns"`
	TimestampMs int64  `json:"timestamp_ms"`

	ValueKind   uint8   `json:"value_kind"`
	ValueNumber float64 `json:"value_number,omitempty"`
	ValueBool   bool    `json:"value_bool,omitempty"`
	ValueStr    string  `json:"value_str,omitempty"`
	StringRepr  string  `json:"string_repr"`

	HasPrevious         bool    `json:"has_previous"`
	PreviousValueKind   uint8   `json:"previous_value_kind,omitempty"`
	PreviousValueNumber float64 `json:"previous_value_number,omitempty"`
	PreviousValueBool   bool    `json:"previous_value_bool,omitempty"`
	PreviousValueStr    string  `json:"previous_value_str,omitempty"`
	PreviousString      string  `json:"previous_string"`

	HasDelta bool    `json:"has_delta"`
	Delta    float64 `json:"delta,omitempty"`

	HasDuration bool  `json:"has_duration"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	SequenceNumber int64 `json:"sequence_number"`

	HasEventType bool   `json:"has_event_type"`
	EventType    string `json:"event_type,omitempty"`

	Compressed bool `json:"compressed"`
}

func toWire(e *CachedEvent) spillEventWire {
	w := spillEventWire{
		GroupID:        e.GroupID,
		ControlName:    e.ControlName,
		TimestampNs:    strconv.FormatInt(e.TimestampNs, 10),
		TimestampMs:    e.TimestampMs,
		ValueKind:      uint8(e.Value.Kind),
		ValueNumber:    e.Value.Number,
		ValueBool:      e.Value.Bool,
		ValueStr:       e.Value.Str,
		StringRepr:     e.StringRepr,
		HasPrevious:    e.HasPrevious,
		PreviousString: e.PreviousString,
		HasDelta:       e.HasDelta,
		Delta:          e.Delta,
		HasDuration:    e.HasDuration,
		DurationMs:     e.DurationMs,
		SequenceNumber: e.SequenceNumber,
		HasEventType:   e.HasEventType,
		EventType:      string(e.EventType),
		Compressed:     e.Compressed,
	}
	if e.HasPrevious {
		w.PreviousValueKind = uint8(e.PreviousValue.Kind)
		w.PreviousValueNumber = e.PreviousValue.Number
		w.PreviousValueBool = e.PreviousValue.Bool
		w.PreviousValueStr = e.PreviousValue.Str
	}
	return w
}

func fromWire(w spillEventWire) (CachedEvent, error) {
	ns, err := strconv.ParseInt(w.TimestampNs, 10, 64)
	if err != nil {
		return CachedEvent{}, fmt.Errorf("invalid timestamp_ns %q: %w", w.TimestampNs, err)
	}
	e := CachedEvent{
		GroupID:        w.GroupID,
		ControlName:    w.ControlName,
		TimestampNs:    ns,
		TimestampMs:    w.TimestampMs,
		Value:          Value{Kind: ValueKind(w.ValueKind), Number: w.ValueNumber, Bool: w.ValueBool, Str: w.ValueStr},
		StringRepr:     w.StringRepr,
		HasPrevious:    w.HasPrevious,
		PreviousString: w.PreviousString,
		HasDelta:       w.HasDelta,
		Delta:          w.Delta,
		HasDuration:    w.HasDuration,
		DurationMs:     w.DurationMs,
		SequenceNumber: w.SequenceNumber,
		HasEventType:   w.HasEventType,
		EventType:      EventType(w.EventType),
		Compressed:     w.Compressed,
	}
	if w.HasPrevious {
		e.PreviousValue = Value{Kind: ValueKind(w.PreviousValueKind), Number: w.PreviousValueNumber, Bool: w.PreviousValueBool, Str: w.PreviousValueStr}
	}
	return e, nil
}

type spillFileWire struct {
	GroupID    string           `json:"group_id"`
	StartTsMs  int64            `json:"start_ts_ms"`
	EndTsMs    int64            `json:"end_ts_ms"`
	EventCount int              `json:"event_count"`
	Events     []spillEventWire `json:"events"`
}

// SpillFileMeta describes a spill file without holding its events in
// memory (§3.4).
type SpillFileMeta struct {
	GroupID    string
	StartTsMs  int64
	EndTsMs    int64
	EventCount int
	Path       string
	FileIndex  int64
	SizeBytes  int64
}

// SpilloverManager implements C3: it writes buffer tails to per-group
// spill files under memory pressure and reassembles them during queries.
type SpilloverManager struct {
	mu sync.RWMutex

	directory     string
	maxFileSizeMB int64
	fileIndex     atomic.Int64

	files map[string][]SpillFileMeta // group_id -> files, sorted by (start_ts_ms, file_index)

	dirReady bool
	disabled atomic.Bool
	logger   logFunc
}

// logFunc lets SpilloverManager log without importing slog directly into
// every call site; the manager wires its own *slog.Logger in.
type logFunc func(where, msg string, err error)

// NewSpilloverManager creates a spillover manager rooted at directory.
// Directory creation is lazy (on first WriteBatch), per §4.4 failure
// handling.
func NewSpilloverManager(directory string, maxFileSizeMB int64, logger logFunc) *SpilloverManager {
	if logger == nil {
		logger = func(string, string, error) {}
	}
	return &SpilloverManager{
		directory:     directory,
		maxFileSizeMB: maxFileSizeMB,
		files:         make(map[string][]SpillFileMeta),
		logger:        logger,
	}
}

// Disabled reports whether a prior directory-create failure or disk-full
// write failure has permanently disabled spillover for this process
// (§4.4). Other write failures leave spillover enabled.
func (sm *SpilloverManager) Disabled() bool { return sm.disabled.Load() }

func (sm *SpilloverManager) ensureDir() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.dirReady {
		return nil
	}
	if err := os.MkdirAll(sm.directory, 0o755); err != nil {
		sm.disabled.Store(true)
		return err
	}
	sm.dirReady = true
	return nil
}

// WriteBatch writes events (already time-ordered, oldest first) for
// groupID to a new spill file, named <group>_<ms>_<file_index>.<ext>
// (§3.4), written atomically via temp-file-then-rename.
func (sm *SpilloverManager) WriteBatch(groupID string, events []CachedEvent) (SpillFileMeta, error) {
	if sm.disabled.Load() {
		return SpillFileMeta{}, ErrSpilloverDisabled
	}
	if len(events) == 0 {
		return SpillFileMeta{}, nil
	}
	if err := sm.ensureDir(); err != nil {
		sm.logger("spillover-init", "directory create failed", err)
		return SpillFileMeta{}, newError(KindIoError, "spillover-init", "directory create failed", err)
	}

	idx := sm.fileIndex.Add(1)
	startMs := events[0].TimestampMs
	endMs := events[len(events)-1].TimestampMs

	wire := spillFileWire{
		GroupID:    groupID,
		StartTsMs:  startMs,
		EndTsMs:    endMs,
		EventCount: len(events),
		Events:     make([]spillEventWire, len(events)),
	}
	for i := range events {
		wire.Events[i] = toWire(&events[i])
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return SpillFileMeta{}, InternalError("spillover-write", "marshal failed", err)
	}

	name := fmt.Sprintf("%s_%d_%d.%s", groupID, startMs, idx, spillFileExt)
	finalPath := filepath.Join(sm.directory, name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		if isDiskFull(err) {
			sm.disabled.Store(true)
		}
		sm.logger("spillover-write", "write failed", err)
		return SpillFileMeta{}, newError(KindIoError, "spillover-write", "write failed", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		sm.logger("spillover-write", "rename failed", err)
		return SpillFileMeta{}, newError(KindIoError, "spillover-write", "rename failed", err)
	}

	meta := SpillFileMeta{
		GroupID:    groupID,
		StartTsMs:  startMs,
		EndTsMs:    endMs,
		EventCount: len(events),
		Path:       finalPath,
		FileIndex:  idx,
		SizeBytes:  int64(len(data)),
	}

	sm.mu.Lock()
	list := append(sm.files[groupID], meta)
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartTsMs != list[j].StartTsMs {
			return list[i].StartTsMs < list[j].StartTsMs
		}
		return list[i].FileIndex < list[j].FileIndex
	})
	sm.files[groupID] = list
	sm.mu.Unlock()

	return meta, nil
}

// MaxBatchEventsBySize estimates how many of the given (already-sorted)
// events fit under maxFileSizeMB, using the same per-event byte estimate
// as the in-memory buffer for consistency.
func (sm *SpilloverManager) MaxBatchEventsBySize(events []CachedEvent) int {
	limit := sm.maxFileSizeMB * 1024 * 1024
	var total int64
	for i, e := range events {
		total += estimateEventBytes(&e)
		if total > limit {
			return i
		}
	}
	return len(events)
}

// LoadRange scans groupID's spill files whose [start,end] range intersects
// [startMs, endMs] and returns their events merged in time order. A read
// failure on one file is logged and skipped; remaining files still load
// (§4.4).
func (sm *SpilloverManager) LoadRange(groupID string, startMs, endMs int64) ([]CachedEvent, error) {
	sm.mu.RLock()
	candidates := make([]SpillFileMeta, 0)
	for _, f := range sm.files[groupID] {
		if f.StartTsMs <= endMs && f.EndTsMs >= startMs {
			candidates = append(candidates, f)
		}
	}
	sm.mu.RUnlock()

	var out []CachedEvent
	for _, f := range candidates {
		events, err := sm.readFile(f.Path)
		if err != nil {
			sm.logger("spillover-read", "read failed, skipping file", err)
			continue
		}
		out = append(out, events...)
	}
	return out, nil
}

func (sm *SpilloverManager) readFile(path string) ([]CachedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wire spillFileWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make([]CachedEvent, 0, len(wire.Events))
	for _, w := range wire.Events {
		e, err := fromWire(w)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Cleanup unlinks files whose EndTsMs is older than nowMs-maxAgeMs. This
// is best-effort per §4.4/§9; ingest never depends on it having run.
func (sm *SpilloverManager) Cleanup(nowMs, maxAgeMs int64) int {
	cutoff := nowMs - maxAgeMs
	removed := 0

	sm.mu.Lock()
	for group, list := range sm.files {
		kept := list[:0]
		for _, f := range list {
			if f.EndTsMs < cutoff {
				if err := os.Remove(f.Path); err == nil {
					removed++
				}
				continue
			}
			kept = append(kept, f)
		}
		sm.files[group] = kept
	}
	sm.mu.Unlock()
	return removed
}

// UsageBytes sums the on-disk size of every tracked spill file (§4.8
// disk_spillover_usage_bytes).
func (sm *SpilloverManager) UsageBytes() int64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var total int64
	for _, list := range sm.files {
		for _, f := range list {
			total += f.SizeBytes
		}
	}
	return total
}

// ClearGroup drops all spill-file bookkeeping (and unlinks the files) for
// groupID, used by clear_group/clear_all (§4.1).
func (sm *SpilloverManager) ClearGroup(groupID string) {
	sm.mu.Lock()
	list := sm.files[groupID]
	delete(sm.files, groupID)
	sm.mu.Unlock()

	for _, f := range list {
		_ = os.Remove(f.Path)
	}
}

func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
