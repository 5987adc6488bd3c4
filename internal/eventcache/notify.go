package eventcache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// NotificationType enumerates the pub/sub notifications exposed in §6.3.
type NotificationType string

const (
	NotifyEventsStored  NotificationType = "eventsStored"
	NotifyGroupCleared  NotificationType = "groupCleared"
	NotifyMemoryPressure NotificationType = "memoryPressure"
	NotifyCompression   NotificationType = "compression"
	NotifyDiskSpillover NotificationType = "diskSpillover"
	NotifyError         NotificationType = "error"
)

// Notification is a single published event, mirroring the payload shapes
// of §6.3. Fields irrelevant to Type are left zero.
type Notification struct {
	Type NotificationType
	ID   string
	At   time.Time

	GroupID     string
	Count       int
	TotalEvents int

	Level   string // memoryPressure: "high" | "critical"
	Percent float64

	Before, After  int
	BytesReclaimed int64

	EventCount int
	FilePath   string

	Message string
	Context string
}

// Subscriber receives published notifications. Send is called on the
// publishing goroutine, so a slow Send delays the publisher; the bus never
// disconnects a subscriber on its own.
type Subscriber interface {
	ID() string
	Send(Notification)
}

// Bus fans out notifications to subscribers, grounded on
// internal/realtime's EventBus but simplified to an in-process,
// synchronous-dispatch fan-out: Publish returns only after every
// subscriber's Send has returned.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	logger      *slog.Logger

	// limiters throttles repeat notifications per (type, key) so a
	// sustained condition (e.g. memory pressure) doesn't flood
	// subscribers. The limit is time-based (one per second per key); it
	// does not track whether the condition cleared and re-crossed.
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewBus creates an empty notification bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]Subscriber),
		logger:      logger.With("component", "eventcache_bus"),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Subscribe registers a subscriber.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[s.ID()] = s
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish delivers n to every subscriber. ID/At are assigned if unset.
func (b *Bus) Publish(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Send(n)
	}
}

// PublishThrottled publishes n at most once per second per key, using a
// token-bucket limiter keyed on (type, key); a condition that persists is
// re-published each second it is reported — grounded on
// internal/api/middleware.RateLimiter's per-client limiter map.
func (b *Bus) PublishThrottled(key string, n Notification) {
	limiterKey := string(n.Type) + "|" + key
	b.limitersMu.Lock()
	lim, ok := b.limiters[limiterKey]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 1)
		b.limiters[limiterKey] = lim
	}
	allow := lim.Allow()
	b.limitersMu.Unlock()

	if !allow {
		return
	}
	b.Publish(n)
}
