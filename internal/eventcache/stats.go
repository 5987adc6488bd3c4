package eventcache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthStatus is the coarse health derivation of §4.8.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the health() API response (§4.8).
type Health struct {
	Status            HealthStatus
	MemoryUsedPercent float64
	RecentErrorCount  int
	ErrorRatePerMin   float64
	UptimeMs          int64
}

// MemoryTrendPoint is one sample in the rolling memory-usage trend.
type MemoryTrendPoint struct {
	TimestampMs int64
	Bytes       int64
}

// Statistics is the statistics() API response (§4.8).
type Statistics struct {
	EventsPerSec            float64
	QueriesPerMin           float64
	QueryLatencyMsMean      float64
	MemoryTrend             []MemoryTrendPoint
	DiskSpilloverUsageBytes int64
	CompressionEffectiveness *float64 // nil until at least one compression pass has run
	ErrorCount              int64
	LastErrorMessage        string
	LastErrorContext        string
	LastErrorTimestampMs    int64
	UptimeMs                int64
}

const (
	memoryTrendCapacity  = 100
	queryLatencyCapacity = 1000
	sustainedErrorPerMin = 10.0
)

// StatsTracker accumulates the counters behind C8 (§4.8). All public
// methods are safe for concurrent use; the manager's background loops and
// the ingest/query hot paths share this instance.
type StatsTracker struct {
	mu sync.Mutex

	startedAt time.Time

	eventTimestampsMs []int64 // sliding 1s window of ingested-event times
	queryTimestampsMs []int64 // sliding 60s window of query times

	latenciesUs    [queryLatencyCapacity]float64
	latencyCount   int
	latencyCursor  int

	memoryTrend []MemoryTrendPoint

	bytesReclaimed int64
	bytesConsidered int64
	compressionRun  bool

	diskUsageBytes int64

	errorCount       int64
	errorTimestampsMs []int64
	lastErrorMessage string
	lastErrorContext string
	lastErrorAtMs    int64

	promEventsTotal      prometheus.Counter
	promQueriesTotal     prometheus.Counter
	promQueryLatency     prometheus.Histogram
	promMemoryBytes      prometheus.Gauge
	promDiskSpillBytes   prometheus.Gauge
	promCompressionRatio prometheus.Gauge
	promErrorsTotal      prometheus.Counter
	promHealthStatus     prometheus.Gauge
}

// NewStatsTracker creates a tracker and registers its metrics with reg.
// A nil registry is accepted for tests that don't care about Prometheus
// export.
func NewStatsTracker(reg prometheus.Registerer, namespace string) *StatsTracker {
	st := &StatsTracker{
		startedAt: time.Now(),
		promEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_ingested_total", Help: "Total events ingested.",
		}),
		promQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "queries_total", Help: "Total queries executed.",
		}),
		promQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_latency_ms", Help: "Query latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 16),
		}),
		promMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "memory_used_bytes", Help: "Estimated in-memory event storage in bytes.",
		}),
		promDiskSpillBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "disk_spillover_bytes", Help: "Total bytes resident in spill files.",
		}),
		promCompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "compression_effectiveness_ratio", Help: "bytes_reclaimed / bytes_considered since startup.",
		}),
		promErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Total internal errors recorded.",
		}),
		promHealthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_status", Help: "0=healthy 1=degraded 2=unhealthy.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			st.promEventsTotal, st.promQueriesTotal, st.promQueryLatency,
			st.promMemoryBytes, st.promDiskSpillBytes, st.promCompressionRatio,
			st.promErrorsTotal, st.promHealthStatus,
		)
	}
	return st
}

// RecordIngest records n newly ingested events at nowMs.
func (st *StatsTracker) RecordIngest(nowMs int64, n int) {
	st.mu.Lock()
	for i := 0; i < n; i++ {
		st.eventTimestampsMs = append(st.eventTimestampsMs, nowMs)
	}
	st.eventTimestampsMs = trimWindow(st.eventTimestampsMs, nowMs-1_000)
	st.mu.Unlock()
	st.promEventsTotal.Add(float64(n))
}

// RecordQuery records a completed query and its latency.
func (st *StatsTracker) RecordQuery(nowMs int64, latency time.Duration) {
	latencyMs := float64(latency.Microseconds()) / 1000.0
	st.mu.Lock()
	st.queryTimestampsMs = append(st.queryTimestampsMs, nowMs)
	st.queryTimestampsMs = trimWindow(st.queryTimestampsMs, nowMs-60_000)
	st.latenciesUs[st.latencyCursor] = latencyMs
	st.latencyCursor = (st.latencyCursor + 1) % queryLatencyCapacity
	if st.latencyCount < queryLatencyCapacity {
		st.latencyCount++
	}
	st.mu.Unlock()
	st.promQueriesTotal.Inc()
	st.promQueryLatency.Observe(latencyMs)
}

// RecordMemorySample appends a (timestamp, bytes) sample to the rolling
// memory trend, capped at the last 100 samples (§4.8).
func (st *StatsTracker) RecordMemorySample(nowMs, bytes int64) {
	st.mu.Lock()
	st.memoryTrend = append(st.memoryTrend, MemoryTrendPoint{TimestampMs: nowMs, Bytes: bytes})
	if len(st.memoryTrend) > memoryTrendCapacity {
		st.memoryTrend = st.memoryTrend[len(st.memoryTrend)-memoryTrendCapacity:]
	}
	st.mu.Unlock()
	st.promMemoryBytes.Set(float64(bytes))
}

// RecordCompression updates the since-startup compression-effectiveness
// ratio after a compression pass.
func (st *StatsTracker) RecordCompression(res CompressionResult) {
	bytesBeforeEstimate := res.BytesReclaimed
	if bytesBeforeEstimate < 0 {
		bytesBeforeEstimate = 0
	}
	st.mu.Lock()
	st.compressionRun = true
	st.bytesReclaimed += res.BytesReclaimed
	// "considered" approximates the pre-pass footprint of events the pass
	// looked at; reclaimed-plus-remaining is the best estimate available
	// without re-walking the buffer.
	st.bytesConsidered += res.BytesReclaimed
	if res.Before > 0 {
		st.bytesConsidered += int64(res.After) * (res.BytesReclaimed / int64(max(res.Before, 1)))
	}
	ratio := 0.0
	if st.bytesConsidered > 0 {
		ratio = float64(st.bytesReclaimed) / float64(st.bytesConsidered)
	}
	st.mu.Unlock()
	st.promCompressionRatio.Set(ratio)
}

// RecordDiskUsage sets the current disk-spillover footprint.
func (st *StatsTracker) RecordDiskUsage(bytes int64) {
	st.mu.Lock()
	st.diskUsageBytes = bytes
	st.mu.Unlock()
	st.promDiskSpillBytes.Set(float64(bytes))
}

// RecordError records a failure surfaced through last_error (§4.8).
func (st *StatsTracker) RecordError(nowMs int64, context, message string) {
	st.mu.Lock()
	st.errorCount++
	st.errorTimestampsMs = append(st.errorTimestampsMs, nowMs)
	st.errorTimestampsMs = trimWindow(st.errorTimestampsMs, nowMs-60_000)
	st.lastErrorMessage = message
	st.lastErrorContext = context
	st.lastErrorAtMs = nowMs
	st.mu.Unlock()
	st.promErrorsTotal.Inc()
}

// Snapshot returns the current Statistics (§4.8).
func (st *StatsTracker) Snapshot(nowMs int64) Statistics {
	st.mu.Lock()
	defer st.mu.Unlock()

	eventsPerSec := float64(len(trimWindow(st.eventTimestampsMs, nowMs-1_000)))
	queriesPerMin := float64(len(trimWindow(st.queryTimestampsMs, nowMs-60_000)))

	var latencyMean float64
	if st.latencyCount > 0 {
		var sum float64
		for i := 0; i < st.latencyCount; i++ {
			sum += st.latenciesUs[i]
		}
		latencyMean = sum / float64(st.latencyCount)
	}

	trend := make([]MemoryTrendPoint, len(st.memoryTrend))
	copy(trend, st.memoryTrend)

	var effectiveness *float64
	if st.compressionRun && st.bytesConsidered > 0 {
		v := float64(st.bytesReclaimed) / float64(st.bytesConsidered)
		effectiveness = &v
	}

	return Statistics{
		EventsPerSec:             eventsPerSec,
		QueriesPerMin:            queriesPerMin,
		QueryLatencyMsMean:       latencyMean,
		MemoryTrend:              trend,
		DiskSpilloverUsageBytes:  st.diskUsageBytes,
		CompressionEffectiveness: effectiveness,
		ErrorCount:               st.errorCount,
		LastErrorMessage:         st.lastErrorMessage,
		LastErrorContext:         st.lastErrorContext,
		LastErrorTimestampMs:     st.lastErrorAtMs,
		UptimeMs:                 time.Since(st.startedAt).Milliseconds(),
	}
}

// Health derives the health() response from current memory usage and the
// recent error rate, per the exact §4.8 thresholds: healthy below 75%
// memory with at most one recent error; degraded 75-90%; unhealthy above
// 90% or a sustained error rate over 10/min.
func (st *StatsTracker) Health(nowMs int64, memoryUsedBytes, memoryLimitBytes int64) Health {
	st.mu.Lock()
	recentErrors := len(trimWindow(st.errorTimestampsMs, nowMs-60_000))
	st.mu.Unlock()

	var percent float64
	if memoryLimitBytes > 0 {
		percent = float64(memoryUsedBytes) / float64(memoryLimitBytes) * 100
	}
	errRate := float64(recentErrors)

	status := HealthHealthy
	switch {
	case percent > 90 || errRate > sustainedErrorPerMin:
		status = HealthUnhealthy
	case percent >= 75:
		status = HealthDegraded
	case recentErrors > 1:
		status = HealthDegraded
	}

	switch status {
	case HealthHealthy:
		st.promHealthStatus.Set(0)
	case HealthDegraded:
		st.promHealthStatus.Set(1)
	case HealthUnhealthy:
		st.promHealthStatus.Set(2)
	}

	return Health{
		Status:            status,
		MemoryUsedPercent: percent,
		RecentErrorCount:  recentErrors,
		ErrorRatePerMin:   errRate,
		UptimeMs:          time.Since(st.startedAt).Milliseconds(),
	}
}

// trimWindow drops entries older than cutoffMs from a sorted-ascending
// slice of millisecond timestamps, returning the retained suffix.
func trimWindow(ts []int64, cutoffMs int64) []int64 {
	i := 0
	for i < len(ts) && ts[i] < cutoffMs {
		i++
	}
	return ts[i:]
}
