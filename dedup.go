package helpdesk

import (
	"context"
	"time"
)

// DefaultDedupTTL is how long an inbound event id is remembered.
const DefaultDedupTTL = 10 * time.Minute

// DedupGuard drops inbound events that were already seen.
// Providers deliver updates at least once, so a retried webhook must not be processed twice.
type DedupGuard struct {
	store KeyValueStore
	ttl   time.Duration
	log   Logger
}

// NewDedupGuard creates a new DedupGuard. Zero ttl means DefaultDedupTTL.
func NewDedupGuard(store KeyValueStore, ttl time.Duration, log Logger) *DedupGuard {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupGuard{
		store: store,
		ttl:   ttl,
		log:   orNoop(log),
	}
}

// Claim returns true exactly once for every event id within the TTL window.
// If the store fails, the event is processed anyway: losing a message is worse than a duplicate.
func (g *DedupGuard) Claim(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	ok, err := g.store.SetIfAbsent(ctx, updateKey(eventID), "1", g.ttl)
	if err != nil {
		g.log.Error("cannot claim event, processing anyway", "error", err, "event_id", eventID)
		return true
	}
	return ok
}
