package eventcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Environment = "test"
	mgr, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)
	return mgr
}

func TestManager_IngestAndQueryRaw(t *testing.T) {
	mgr := newTestManager(t)

	err := mgr.Ingest(ChangeBatch{
		GroupID:     "zoneA",
		TimestampNs: 1_000_000_000,
		TimestampMs: 1000,
		Changes:     []Change{{Name: "gain", Value: NumberValue(-10)}},
	})
	require.NoError(t, err)

	res, err := mgr.QuerySync(context.Background(), Query{
		HasGroupID: true, GroupID: "zoneA",
		HasStart: true, StartTimeMs: 0,
		HasEnd: true, EndTimeMs: 2000,
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Equal(t, "gain", res.Events[0].ControlName)
	require.Equal(t, int64(1), res.Events[0].SequenceNumber)
}

func TestManager_IngestTracksPreviousValueAndDelta(t *testing.T) {
	mgr := newTestManager(t)

	batch := func(ms int64, v float64) ChangeBatch {
		return ChangeBatch{GroupID: "zoneA", TimestampNs: ms * 1_000_000, TimestampMs: ms,
			Changes: []Change{{Name: "gain", Value: NumberValue(v)}}}
	}
	require.NoError(t, mgr.Ingest(batch(1000, -10)))
	require.NoError(t, mgr.Ingest(batch(2000, -5)))

	res, err := mgr.QuerySync(context.Background(), Query{
		HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000,
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	second := res.Events[1]
	require.True(t, second.HasPrevious)
	require.True(t, second.PreviousValue.Equal(NumberValue(-10)))
	require.True(t, second.HasDelta)
	require.Equal(t, 5.0, second.Delta)
	require.True(t, second.HasDuration)
	require.Equal(t, int64(1000), second.DurationMs)
}

func TestManager_IngestSilentlyDroppedForDisabledGroup(t *testing.T) {
	mgr := newTestManager(t)
	mgr.DisableGroup("zoneA")

	err := mgr.Ingest(ChangeBatch{
		GroupID: "zoneA", TimestampMs: 1000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}},
	})
	require.NoError(t, err)

	res, err := mgr.QuerySync(context.Background(), Query{HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000})
	require.NoError(t, err)
	require.Empty(t, res.Events)
}

func TestManager_QueryAggregationSummary(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1000, TimestampNs: 1_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}}}))
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 2000, TimestampNs: 2_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(2)}}}))

	res, err := mgr.QuerySync(context.Background(), Query{
		HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000,
		Aggregation: AggregationSummary,
	})
	require.NoError(t, err)
	require.Len(t, res.Summary, 1)
	require.Equal(t, 2, res.Summary[0].Count)
	require.True(t, res.Summary[0].LastValue.Equal(NumberValue(2)))
}

func TestManager_QueryAggregationStatistics(t *testing.T) {
	mgr := newTestManager(t)
	for i, v := range []float64{1, 5, 3} {
		require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: int64(1000 + i*100), TimestampNs: int64(1000+i*100) * 1_000_000,
			Changes: []Change{{Name: "level", Value: NumberValue(v)}}}))
	}

	res, err := mgr.QuerySync(context.Background(), Query{
		HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000,
		Aggregation: AggregationStatistics,
	})
	require.NoError(t, err)
	require.Len(t, res.Statistics, 1)
	stat := res.Statistics[0]
	require.True(t, stat.HasNumeric)
	require.Equal(t, 1.0, stat.Min)
	require.Equal(t, 5.0, stat.Max)
}

func TestManager_ConfigureGroupResizePreservesEvents(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1000, TimestampNs: 1_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}}}))

	newMax := 50
	mgr.ConfigureGroup("zoneA", GroupOverrides{MaxEvents: &newMax})

	res, err := mgr.QuerySync(context.Background(), Query{HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000})
	require.NoError(t, err)
	require.Len(t, res.Events, 1, "resizing a group must preserve its existing events")
}

func TestManager_ClearGroupIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1000, TimestampNs: 1_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}}}))

	require.True(t, mgr.ClearGroup("zoneA"))
	require.False(t, mgr.ClearGroup("zoneA"), "clearing an already-empty group must report false")
	require.False(t, mgr.ClearGroup("never-seen"), "clearing an unknown group must report false")
}

func TestManager_HealthReportsHealthyOnFreshManager(t *testing.T) {
	mgr := newTestManager(t)
	h := mgr.Health()
	require.Equal(t, HealthHealthy, h.Status)
}

func TestManager_StatisticsReflectsIngest(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1000, TimestampNs: 1_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}, {Name: "mute", Value: BoolValue(true)}}}))

	stats := mgr.Statistics()
	require.GreaterOrEqual(t, stats.EventsPerSec, 0.0)
}

func TestManager_QueryRejectsInvalidQuery(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.QuerySync(context.Background(), Query{Offset: -1})
	require.Error(t, err)
}

// Mandatory scenario analog: a freshly-ingested batch of events, all
// well inside the compression "medium" window, must still be spillable
// once global usage crosses spillover.threshold_mb — spillover is
// triggered by memory usage, not by event age.
func TestManager_SpilloverTriggersOnThresholdEvenForFreshEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = "test"
	cfg.Spillover.Enabled = true
	cfg.Spillover.Directory = t.TempDir()
	cfg.Spillover.ThresholdMB = 1
	cfg.Spillover.MaxFileSizeMB = 1
	mgr, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)

	var notified bool
	mgr.Subscribe(&recordingSubscriber{id: "watch"})
	mgr.Subscribe(funcSubscriber{id: "watch2", fn: func(n Notification) {
		if n.Type == NotifyDiskSpillover {
			notified = true
		}
	}})

	for i := 0; i < 8000; i++ {
		require.NoError(t, mgr.Ingest(ChangeBatch{
			GroupID: "zoneA", TimestampMs: int64(1000 + i), TimestampNs: int64(1000+i) * 1_000_000,
			Changes: []Change{{Name: "gain", Value: NumberValue(float64(i))}},
		}))
	}

	mgr.runSpilloverCleanup()

	require.True(t, notified, "expected at least one diskSpillover notification once usage crossed threshold_mb")
}

func TestManager_EmergencyEvictPublishesErrorAndRecordsStats(t *testing.T) {
	mgr := newTestManager(t)
	mgr.emergencyEvict()

	stats := mgr.Statistics()
	require.Equal(t, int64(1), stats.ErrorCount)
	require.Equal(t, "memory-critical", stats.LastErrorContext)

	h := mgr.Health()
	require.Equal(t, 1, h.RecentErrorCount)
}

func TestManager_EmergencyEvictPublishesErrorNotification(t *testing.T) {
	mgr := newTestManager(t)
	var got Notification
	mgr.Subscribe(funcSubscriber{id: "watch", fn: func(n Notification) { got = n }})

	mgr.emergencyEvict()

	require.Equal(t, NotifyError, got.Type)
	require.Equal(t, "memory-critical", got.Context)
}

// funcSubscriber adapts a plain function to the Subscriber interface for
// ad hoc assertions in tests that don't need recordingSubscriber's
// accumulation behavior.
type funcSubscriber struct {
	id string
	fn func(Notification)
}

func (f funcSubscriber) ID() string { return f.id }

func (f funcSubscriber) Send(n Notification) { f.fn(n) }

// TestManager_QueryCacheHitHonorsLimitAndOrder guards against §4.6: the
// cached value must be the fully materialized, ordered, limited result,
// not the pre-order/pre-page intermediate — otherwise a cache hit on a
// limit=1 query would return every matching event.
func TestManager_QueryCacheHitHonorsLimitAndOrder(t *testing.T) {
	mgr := newTestManager(t)
	for i, v := range []float64{3, 1, 2} {
		require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: int64(1000 + i*100), TimestampNs: int64(1000+i*100) * 1_000_000,
			Changes: []Change{{Name: "gain", Value: NumberValue(v)}}}))
	}

	q := Query{
		HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000,
		Limit: 1,
	}

	first, err := mgr.QuerySync(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first.Events, 1, "first (uncached) query must honor limit=1")

	second, err := mgr.QuerySync(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, second.Events, 1, "cache hit must still honor limit=1, not return the full merged set")
	require.Equal(t, first.Events[0].TimestampMs, second.Events[0].TimestampMs)
}

// TestManager_QueryCacheHitHonorsChangesOnly guards against a cached
// changes_only query degenerating to raw events on a cache hit.
func TestManager_QueryCacheHitHonorsChangesOnly(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1000, TimestampNs: 1_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}}}))
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1100, TimestampNs: 1_100_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(1)}}})) // unchanged value
	require.NoError(t, mgr.Ingest(ChangeBatch{GroupID: "zoneA", TimestampMs: 1200, TimestampNs: 1_200_000_000,
		Changes: []Change{{Name: "gain", Value: NumberValue(2)}}})) // changed value

	q := Query{
		HasGroupID: true, GroupID: "zoneA", HasStart: true, StartTimeMs: 0, HasEnd: true, EndTimeMs: 5000,
		Aggregation: AggregationChangesOnly,
	}

	first, err := mgr.QuerySync(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first.Events, 2, "changes_only should drop the unchanged middle event")

	second, err := mgr.QuerySync(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, second.Events, 2, "a cache hit must still apply changes_only filtering")
}
