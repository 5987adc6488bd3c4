package eventcache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// pressure thresholds, expressed as a percentage of GlobalMemoryLimitMB.
// "high" schedules spillover and runs priority-ordered eviction, which
// only removes events while usage is above the full limit; "critical"
// additionally permits emergency eviction (§5).
const (
	pressureHighPercent     = 80.0
	pressureCriticalPercent = 95.0
	maxEvictFractionPerPass = 0.5
)

type lastValueEntry struct {
	Value       Value
	StringRepr  string
	TimestampMs int64
}

// ControlSummary is one control's aggregated record under
// AggregationSummary (§4.1.3).
type ControlSummary struct {
	ControlName      string
	Count            int
	FirstValue       Value
	LastValue        Value
	FirstTimestampMs int64
	LastTimestampMs  int64
}

// ControlStatistics is one control's numeric statistics under
// AggregationStatistics (§4.1.3). Populated only for numeric controls;
// HasNumeric is false for boolean/string controls (count is still valid).
type ControlStatistics struct {
	ControlName string
	Count       int
	HasNumeric  bool
	Min, Max    float64
	Avg         float64
	LastValue   Value
	LastTimestampMs int64
}

// QueryResult is Query's/QuerySync's return value. Exactly one of Events,
// Summary, Statistics is populated, matching q.Aggregation.
type QueryResult struct {
	Events     []CachedEvent
	Summary    []ControlSummary
	Statistics []ControlStatistics
}

// Manager is the Event Cache Manager (C6), the orchestrator tying
// together the buffer, compression, spillover, query cache, notification
// bus, and statistics components into the public API of §4.1.
type Manager struct {
	cfg *Config

	mu             sync.RWMutex
	buffers        map[string]*Buffer
	lastValues     map[string]map[string]lastValueEntry
	groupPriority  map[string]Priority
	groupEnabled   map[string]bool
	groupOverrides map[string]GroupOverrides
	globalBytes    int64

	sequenceCounter atomic.Int64

	compression *CompressionEngine
	spillover   *SpilloverManager
	queryCache  *QueryCache
	bus         *Bus
	stats       *StatsTracker

	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager constructs a Manager from cfg. cfg is sanitized (not
// re-validated — callers should Validate beforehand, typically via the
// ambient config layer) before use.
func NewManager(cfg *Config, reg prometheus.Registerer, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Sanitize()

	qc, err := NewQueryCache(cfg.QueryCache, logger)
	if err != nil {
		return nil, err
	}

	var sm *SpilloverManager
	if cfg.Spillover.Enabled {
		sm = NewSpilloverManager(cfg.Spillover.Directory, cfg.Spillover.MaxFileSizeMB, func(where, msg string, err error) {
			logger.Error(msg, "context", where, "error", err)
		})
	}

	m := &Manager{
		cfg:            cfg,
		buffers:        make(map[string]*Buffer),
		lastValues:     make(map[string]map[string]lastValueEntry),
		groupPriority:  make(map[string]Priority),
		groupEnabled:   make(map[string]bool),
		groupOverrides: make(map[string]GroupOverrides),
		compression:    NewCompressionEngine(),
		spillover:      sm,
		queryCache:     qc,
		bus:            NewBus(logger),
		stats:          NewStatsTracker(reg, "eventcache"),
		logger:         logger.With("component", "eventcache_manager"),
		stopCh:         make(chan struct{}),
	}
	m.startBackgroundLoops()
	return m, nil
}

// Subscribe registers a notification subscriber (§6.3).
func (m *Manager) Subscribe(s Subscriber) { m.bus.Subscribe(s) }

// Unsubscribe removes a notification subscriber.
func (m *Manager) Unsubscribe(id string) { m.bus.Unsubscribe(id) }

func nowMs() int64 { return time.Now().UnixMilli() }
func nowNs() int64 { return time.Now().UnixNano() }

// groupLocked returns (creating if necessary) the buffer for groupID. mu
// must be held for writing by the caller.
func (m *Manager) groupLocked(groupID string) *Buffer {
	buf, ok := m.buffers[groupID]
	if ok {
		return buf
	}
	capacity := m.cfg.MaxEvents
	maxAge := m.cfg.MaxAgeMs
	if ov, ok := m.groupOverrides[groupID]; ok {
		if ov.MaxEvents != nil {
			capacity = *ov.MaxEvents
		}
		if ov.MaxAgeMs != nil {
			maxAge = *ov.MaxAgeMs
		}
	}
	buf = NewBuffer(groupID, capacity, maxAge)
	m.buffers[groupID] = buf
	if _, ok := m.groupEnabled[groupID]; !ok {
		m.groupEnabled[groupID] = true
	}
	if _, ok := m.groupPriority[groupID]; !ok {
		m.groupPriority[groupID] = PriorityNormal
	}
	return buf
}

// Ingest consumes a polled change-group delivery, implementing the
// 8-step contract of §4.1.2: disabled-group drop, sequence assignment,
// previous-value lookup, classification, buffer insertion, memory
// accounting, cache invalidation, and the eventsStored notification.
func (m *Manager) Ingest(batch ChangeBatch) error {
	if len(batch.Changes) == 0 {
		return nil
	}

	m.mu.Lock()
	if enabled, ok := m.groupEnabled[batch.GroupID]; ok && !enabled {
		m.mu.Unlock()
		return nil
	}

	buf := m.groupLocked(batch.GroupID)
	controls, ok := m.lastValues[batch.GroupID]
	if !ok {
		controls = make(map[string]lastValueEntry)
		m.lastValues[batch.GroupID] = controls
	}

	before := buf.MemoryEstimateBytes()
	for _, ch := range batch.Changes {
		event := CachedEvent{
			GroupID:        batch.GroupID,
			ControlName:    ch.Name,
			TimestampNs:    batch.TimestampNs,
			TimestampMs:    batch.TimestampMs,
			Value:          ch.Value,
			StringRepr:     ch.StringRepr,
			SequenceNumber: m.sequenceCounter.Add(1),
		}
		if event.StringRepr == "" {
			event.StringRepr = ch.Value.String()
		}

		if prev, ok := controls[ch.Name]; ok {
			event.HasPrevious = true
			event.PreviousValue = prev.Value
			event.PreviousString = prev.StringRepr

			if prev.Value.IsNumeric() && ch.Value.IsNumeric() {
				event.HasDelta = true
				event.Delta = ch.Value.Number - prev.Value.Number
			}
			if batch.TimestampMs >= prev.TimestampMs {
				event.HasDuration = true
				event.DurationMs = batch.TimestampMs - prev.TimestampMs
			}

			et, classified := classify(prev.Value, ch.Value, ch.Name, &m.cfg.Compression)
			if classified {
				event.HasEventType = true
				event.EventType = et
			}
		}

		buf.Add(event)
		controls[ch.Name] = lastValueEntry{Value: ch.Value, StringRepr: event.StringRepr, TimestampMs: batch.TimestampMs}
	}

	after := buf.MemoryEstimateBytes()
	m.globalBytes += after - before
	globalBytes := m.globalBytes
	totalEvents := buf.Size()
	m.mu.Unlock()

	m.queryCache.InvalidateGroup(batch.GroupID)
	m.stats.RecordIngest(nowMs(), len(batch.Changes))
	m.stats.RecordMemorySample(nowMs(), globalBytes)

	m.bus.Publish(Notification{
		Type:        NotifyEventsStored,
		GroupID:     batch.GroupID,
		Count:       len(batch.Changes),
		TotalEvents: totalEvents,
	})

	m.checkMemoryPressure()
	return nil
}

// Query executes q, potentially touching disk spillover, per the 7-step
// contract of §4.1.3.
func (m *Manager) Query(ctx context.Context, q Query) (*QueryResult, error) {
	return m.query(ctx, q, true)
}

// QuerySync is the memory-only variant of Query: it never loads from
// disk, trading completeness (recently spilled events are invisible) for
// a bound on latency.
func (m *Manager) QuerySync(ctx context.Context, q Query) (*QueryResult, error) {
	return m.query(ctx, q, false)
}

func (m *Manager) query(ctx context.Context, q Query, allowDisk bool) (*QueryResult, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.Normalize(nowMs())

	cacheable := q.Aggregation == AggregationRaw || q.Aggregation == AggregationChangesOnly
	key := q.CacheKey()
	if cacheable {
		if cached, ok := m.queryCache.Get(ctx, key); ok {
			m.stats.RecordQuery(nowMs(), time.Since(start))
			return &QueryResult{Events: cached}, nil
		}
	}

	groups := m.resolveGroups(q)

	startNs := q.StartTimeMs * 1_000_000
	endNs := q.EndTimeMs * 1_000_000

	var merged []CachedEvent
	for _, g := range groups {
		select {
		case <-ctx.Done():
			return nil, ErrQueryCancelled
		default:
		}

		m.mu.RLock()
		buf := m.buffers[g]
		m.mu.RUnlock()
		if buf == nil {
			continue
		}
		merged = append(merged, buf.QueryTimeRange(startNs, endNs)...)

		if allowDisk && m.spillover != nil {
			diskEvents, err := m.spillover.LoadRange(g, q.StartTimeMs, q.EndTimeMs)
			if err != nil {
				m.stats.RecordError(nowMs(), "query-spillover", err.Error())
				m.bus.Publish(Notification{Type: NotifyError, Message: err.Error(), Context: "query-spillover"})
				continue
			}
			merged = append(merged, diskEvents...)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].TimestampMs != merged[j].TimestampMs {
			return merged[i].TimestampMs < merged[j].TimestampMs
		}
		return merged[i].SequenceNumber < merged[j].SequenceNumber
	})

	merged = applyControlAndValueFilter(merged, q)

	result := m.aggregate(merged, q)

	// §4.6: the cached value is the fully materialized, ordered, limited
	// result the caller would have seen — never the pre-order/pre-page
	// intermediate — so a cache hit is indistinguishable from a miss.
	if cacheable && len(result.Events) > 0 {
		m.queryCache.Put(ctx, key, groups, result.Events)
	}

	m.stats.RecordQuery(nowMs(), time.Since(start))
	return result, nil
}

func (m *Manager) resolveGroups(q Query) []string {
	if q.HasGroupID && q.GroupID != "" {
		return []string{q.GroupID}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	groups := make([]string, 0, len(m.buffers))
	for g := range m.buffers {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

func applyControlAndValueFilter(events []CachedEvent, q Query) []CachedEvent {
	if len(q.ControlNames) == 0 && q.ValueFilter == nil {
		return events
	}
	names := make(map[string]bool, len(q.ControlNames))
	for _, n := range q.ControlNames {
		names[n] = true
	}
	kept := events[:0]
	for _, e := range events {
		if len(names) > 0 && !names[e.ControlName] {
			continue
		}
		if q.ValueFilter != nil && !q.ValueFilter.Matches(&e) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (m *Manager) aggregate(events []CachedEvent, q Query) *QueryResult {
	switch q.Aggregation {
	case AggregationChangesOnly:
		kept := events[:0]
		for _, e := range events {
			if !e.HasPrevious || e.ChangedEventType() != EventTypeChange || !e.Value.Equal(e.PreviousValue) {
				kept = append(kept, e)
			}
		}
		return &QueryResult{Events: orderAndPage(kept, q)}
	case AggregationSummary:
		return &QueryResult{Summary: summarize(events)}
	case AggregationStatistics:
		return &QueryResult{Statistics: statisticize(events)}
	default:
		return &QueryResult{Events: orderAndPage(events, q)}
	}
}

func orderAndPage(events []CachedEvent, q Query) []CachedEvent {
	sorted := append([]CachedEvent(nil), events...)
	less := func(i, j int) bool {
		var a, b CachedEvent
		switch q.OrderBy {
		case OrderByControlName:
			if sorted[i].ControlName != sorted[j].ControlName {
				return sorted[i].ControlName < sorted[j].ControlName
			}
			a, b = sorted[i], sorted[j]
		case OrderByValue:
			if sorted[i].Value.IsNumeric() && sorted[j].Value.IsNumeric() && sorted[i].Value.Number != sorted[j].Value.Number {
				return sorted[i].Value.Number < sorted[j].Value.Number
			}
			a, b = sorted[i], sorted[j]
		default:
			a, b = sorted[i], sorted[j]
		}
		if a.TimestampMs != b.TimestampMs {
			return a.TimestampMs < b.TimestampMs
		}
		return a.SequenceNumber < b.SequenceNumber
	}
	if q.OrderDirection == OrderDesc {
		sort.Slice(sorted, func(i, j int) bool { return less(j, i) })
	} else {
		sort.Slice(sorted, less)
	}

	if q.Offset >= len(sorted) {
		return nil
	}
	end := q.Offset + q.Limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[q.Offset:end]
}

func summarize(events []CachedEvent) []ControlSummary {
	byControl := make(map[string]*ControlSummary)
	order := make([]string, 0)
	for _, e := range events {
		s, ok := byControl[e.ControlName]
		if !ok {
			s = &ControlSummary{ControlName: e.ControlName, FirstValue: e.Value, FirstTimestampMs: e.TimestampMs}
			byControl[e.ControlName] = s
			order = append(order, e.ControlName)
		}
		s.Count++
		s.LastValue = e.Value
		s.LastTimestampMs = e.TimestampMs
	}
	out := make([]ControlSummary, 0, len(order))
	sort.Strings(order)
	for _, name := range order {
		out = append(out, *byControl[name])
	}
	return out
}

func statisticize(events []CachedEvent) []ControlStatistics {
	byControl := make(map[string]*ControlStatistics)
	order := make([]string, 0)
	for _, e := range events {
		s, ok := byControl[e.ControlName]
		if !ok {
			s = &ControlStatistics{ControlName: e.ControlName}
			byControl[e.ControlName] = s
			order = append(order, e.ControlName)
		}
		s.Count++
		s.LastValue = e.Value
		s.LastTimestampMs = e.TimestampMs
		if e.Value.IsNumeric() {
			if !s.HasNumeric {
				s.HasNumeric = true
				s.Min = e.Value.Number
				s.Max = e.Value.Number
				s.Avg = e.Value.Number
			} else {
				n := float64(s.Count)
				s.Avg = s.Avg + (e.Value.Number-s.Avg)/n
				if e.Value.Number < s.Min {
					s.Min = e.Value.Number
				}
				if e.Value.Number > s.Max {
					s.Max = e.Value.Number
				}
			}
		}
	}
	out := make([]ControlStatistics, 0, len(order))
	sort.Strings(order)
	for _, name := range order {
		out = append(out, *byControl[name])
	}
	return out
}

// ConfigureGroup applies per-group overrides (§4.1). Overrides taking
// effect on an existing buffer (MaxEvents/MaxAgeMs) require recreating
// the buffer; existing events are copied into the new buffer, and when
// the new capacity is smaller than the event count the oldest are dropped.
func (m *Manager) ConfigureGroup(groupID string, overrides GroupOverrides) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.groupOverrides[groupID] = overrides
	if overrides.Priority != nil {
		m.groupPriority[groupID] = *overrides.Priority
	}

	buf, exists := m.buffers[groupID]
	if !exists || (overrides.MaxEvents == nil && overrides.MaxAgeMs == nil) {
		return
	}
	capacity := m.cfg.MaxEvents
	maxAge := m.cfg.MaxAgeMs
	if overrides.MaxEvents != nil {
		capacity = *overrides.MaxEvents
	}
	if overrides.MaxAgeMs != nil {
		maxAge = *overrides.MaxAgeMs
	}
	resized := NewBuffer(groupID, capacity, maxAge)
	for _, e := range buf.GetAll() {
		resized.Add(e)
	}
	m.globalBytes += resized.MemoryEstimateBytes() - buf.MemoryEstimateBytes()
	m.buffers[groupID] = resized
}

// EnableGroup re-enables ingest for a previously disabled group.
func (m *Manager) EnableGroup(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupEnabled[groupID] = true
}

// DisableGroup stops Ingest from accepting changes for groupID; existing
// buffered events are untouched.
func (m *Manager) DisableGroup(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupEnabled[groupID] = false
}

// ClearGroup empties groupID's buffer and last-value table, emitting
// groupCleared. Idempotent: a second call on an already-empty group
// returns false and emits nothing.
func (m *Manager) ClearGroup(groupID string) bool {
	m.mu.Lock()
	buf, ok := m.buffers[groupID]
	if !ok || buf.Size() == 0 {
		m.mu.Unlock()
		return false
	}
	m.globalBytes -= buf.MemoryEstimateBytes()
	buf.Clear()
	delete(m.lastValues, groupID)
	m.mu.Unlock()

	if m.spillover != nil {
		m.spillover.ClearGroup(groupID)
	}
	m.queryCache.InvalidateGroup(groupID)
	m.bus.Publish(Notification{Type: NotifyGroupCleared, GroupID: groupID})
	return true
}

// ClearAll clears every known group.
func (m *Manager) ClearAll() {
	m.mu.RLock()
	groups := make([]string, 0, len(m.buffers))
	for g := range m.buffers {
		groups = append(groups, g)
	}
	m.mu.RUnlock()
	for _, g := range groups {
		m.ClearGroup(g)
	}
}

// Statistics returns the current C8 statistics snapshot.
func (m *Manager) Statistics() Statistics {
	if m.spillover != nil {
		m.stats.RecordDiskUsage(m.spillover.UsageBytes())
	}
	return m.stats.Snapshot(nowMs())
}

// Health returns the current derived health status.
func (m *Manager) Health() Health {
	m.mu.RLock()
	used := m.globalBytes
	m.mu.RUnlock()
	limit := m.cfg.GlobalMemoryLimitMB * 1024 * 1024
	return m.stats.Health(nowMs(), used, limit)
}

// Shutdown stops all periodic background work and releases file handles.
// In-flight spillover writes are allowed to complete before returning.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) startBackgroundLoops() {
	m.wg.Add(1)
	go m.loop(m.cfg.MemoryCheckInterval, m.checkMemoryPressure)

	if m.cfg.Compression.Enabled {
		m.wg.Add(1)
		go m.loop(m.cfg.Compression.CheckInterval, m.runCompressionPass)
	}

	if m.spillover != nil {
		m.wg.Add(1)
		go m.loop(m.cfg.Spillover.CheckInterval, m.runSpilloverCleanup)
	}
}

func (m *Manager) loop(interval time.Duration, fn func()) {
	defer m.wg.Done()
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			fn()
		}
	}
}

func (m *Manager) runCompressionPass() {
	m.mu.RLock()
	groups := make([]string, 0, len(m.buffers))
	for g := range m.buffers {
		groups = append(groups, g)
	}
	m.mu.RUnlock()

	now := nowNs()
	for _, g := range groups {
		m.mu.Lock()
		buf := m.buffers[g]
		if buf == nil {
			m.mu.Unlock()
			continue
		}
		before := buf.MemoryEstimateBytes()
		res := m.compression.Run(buf, &m.cfg.Compression, now)
		res.GroupID = g
		after := buf.MemoryEstimateBytes()
		m.globalBytes += after - before
		m.mu.Unlock()

		if res.Before != res.After {
			m.stats.RecordCompression(res)
			m.bus.Publish(Notification{
				Type: NotifyCompression, GroupID: g,
				Before: res.Before, After: res.After, BytesReclaimed: res.BytesReclaimed,
			})
		}
	}
}

// runSpilloverCleanup is the periodic spillover tick (§4.4): it spills
// the oldest batch of every group once global usage crosses
// spillover.threshold_mb, independent of the §5 memory-pressure ladder,
// then unlinks spill files whose data has aged out of max_age_ms.
func (m *Manager) runSpilloverCleanup() {
	if m.spillover == nil {
		return
	}

	thresholdBytes := m.cfg.Spillover.ThresholdMB * 1024 * 1024
	if thresholdBytes > 0 && !m.spillover.Disabled() && m.currentGlobalBytes() > thresholdBytes {
		m.spillToDisk()
	}

	removed := m.spillover.Cleanup(nowMs(), m.cfg.MaxAgeMs)
	if removed > 0 {
		m.logger.Info("spillover cleanup removed expired files", "count", removed)
	}
	m.stats.RecordDiskUsage(m.spillover.UsageBytes())
}

// checkMemoryPressure implements the 4-step enforcement ladder of §5:
// notify (throttled to once per second per level, re-sent while the
// level persists) -> schedule spillover -> evict
// oldest events ordered by (priority asc, memory desc), capped at ~50%
// per group before moving on -> emergency eviction as a last resort.
func (m *Manager) checkMemoryPressure() {
	m.mu.RLock()
	limitBytes := m.cfg.GlobalMemoryLimitMB * 1024 * 1024
	used := m.globalBytes
	m.mu.RUnlock()

	if limitBytes <= 0 {
		return
	}
	percent := float64(used) / float64(limitBytes) * 100
	if percent < pressureHighPercent {
		return
	}

	level := "high"
	if percent >= pressureCriticalPercent {
		level = "critical"
	}
	m.bus.PublishThrottled("global:"+level, Notification{
		Type: NotifyMemoryPressure, Level: level, Percent: percent,
	})

	if m.spillover != nil && !m.spillover.Disabled() {
		m.spillToDisk()
		used = m.currentGlobalBytes()
		percent = float64(used) / float64(limitBytes) * 100
		if percent < pressureHighPercent {
			return
		}
	}

	m.evictByPriority(limitBytes)
	used = m.currentGlobalBytes()
	percent = float64(used) / float64(limitBytes) * 100
	if percent >= pressureCriticalPercent {
		m.emergencyEvict()
	}
}

func (m *Manager) currentGlobalBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalBytes
}

// spillToDisk writes one contiguous oldest batch per group to a spill
// file and removes it from memory. The batch is sized by
// spillover.max_file_size_mb via MaxBatchEventsBySize, not by event age:
// a group made entirely of events ingested moments ago is just as
// eligible as one with old events, matching §4.4's "oldest batch whose
// serialized size fits the file size budget" rule.
func (m *Manager) spillToDisk() {
	m.mu.RLock()
	groups := make([]string, 0, len(m.buffers))
	for g := range m.buffers {
		groups = append(groups, g)
	}
	m.mu.RUnlock()

	for _, g := range groups {
		m.mu.Lock()
		buf := m.buffers[g]
		if buf == nil || buf.Size() == 0 {
			m.mu.Unlock()
			continue
		}
		all := buf.GetAll()
		n := m.spillover.MaxBatchEventsBySize(all)
		if n <= 0 {
			// A single event already exceeds the file size budget; spill
			// it anyway rather than stalling forever under threshold.
			n = 1
		}
		removed := buf.RemoveOldest(n)
		var reclaimed int64
		for i := range removed {
			reclaimed += estimateEventBytes(&removed[i])
		}
		m.globalBytes -= reclaimed
		m.mu.Unlock()

		meta, err := m.spillover.WriteBatch(g, removed)
		if err != nil {
			m.stats.RecordError(nowMs(), "spillover-write", err.Error())
			m.bus.Publish(Notification{Type: NotifyError, Message: err.Error(), Context: "spillover-write", GroupID: g})
			continue
		}
		m.queryCache.InvalidateGroup(g)
		m.bus.Publish(Notification{
			Type: NotifyDiskSpillover, GroupID: g,
			EventCount: meta.EventCount, FilePath: meta.Path,
		})
	}
}

// evictByPriority drops events oldest-first, lowest-priority-group-first,
// capping each group at maxEvictFractionPerPass of its size before moving
// to the next group, until global usage is back under limitBytes.
func (m *Manager) evictByPriority(limitBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type candidate struct {
		groupID  string
		priority Priority
		bytes    int64
	}
	cands := make([]candidate, 0, len(m.buffers))
	for g, buf := range m.buffers {
		cands = append(cands, candidate{groupID: g, priority: m.groupPriority[g], bytes: buf.MemoryEstimateBytes()})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority < cands[j].priority
		}
		return cands[i].bytes > cands[j].bytes
	})

	for _, c := range cands {
		if m.globalBytes <= limitBytes {
			return
		}
		buf := m.buffers[c.groupID]
		evictCap := int(float64(buf.Size()) * maxEvictFractionPerPass)
		if evictCap <= 0 {
			continue
		}
		before := buf.MemoryEstimateBytes()
		buf.ForceEvict(evictCap)
		after := buf.MemoryEstimateBytes()
		m.globalBytes += after - before
	}
}

// emergencyEvict is the last-resort step: drop half of every group's
// buffer regardless of priority. Per §5 step 4 / §7 this is a
// MemoryCritical condition, surfaced as an error notification and
// counted toward the error rate the same as any other failure.
func (m *Manager) emergencyEvict() {
	m.mu.Lock()
	for _, buf := range m.buffers {
		evictCap := int(float64(buf.Size()) * maxEvictFractionPerPass)
		if evictCap <= 0 {
			continue
		}
		before := buf.MemoryEstimateBytes()
		buf.ForceEvict(evictCap)
		after := buf.MemoryEstimateBytes()
		m.globalBytes += after - before
	}
	globalBytes := m.globalBytes
	m.mu.Unlock()

	msg := "emergency eviction triggered: global memory usage remained critical after spillover and priority eviction"
	m.logger.Warn("emergency eviction triggered", "global_bytes", globalBytes)
	m.stats.RecordError(nowMs(), "memory-critical", msg)
	m.bus.Publish(Notification{Type: NotifyError, Message: msg, Context: "memory-critical"})
}
