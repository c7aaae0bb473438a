package oauth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
)

// BridgeStore holds pending redirect bridge entries keyed by OAuth state.
// Expired entries are swept lazily on Put; there is no background timer.
type BridgeStore struct {
	entries map[string]BridgeEntry
	ttl     time.Duration
	mu      sync.Mutex
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// now is swapped in tests
	now func() time.Time
}

// NewBridgeStore creates a store whose entries expire after ttl.
func NewBridgeStore(ttl time.Duration, logger *slog.Logger, metrics *instrumentation.Metrics) *BridgeStore {
	if ttl <= 0 {
		ttl = DefaultBridgeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeStore{
		entries: make(map[string]BridgeEntry),
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Put stores redirectURI under state, overwriting any previous entry.
func (s *BridgeStore) Put(ctx context.Context, state, redirectURI string) {
	s.PurgeExpired(ctx)

	s.mu.Lock()
	_, replaced := s.entries[state]
	s.entries[state] = BridgeEntry{
		State:            state,
		OriginalRedirect: redirectURI,
		CreatedAt:        s.now(),
	}
	s.mu.Unlock()

	if !replaced {
		s.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventStored)
	}
	s.logger.Debug("Stored redirect bridge entry",
		"state", state,
		"redirect_uri", redirectURI,
		"replaced", replaced)
}

// Take removes and returns the entry for state. A second Take of the same
// state, or a Take of an expired entry, returns ErrUnknownState.
func (s *BridgeStore) Take(ctx context.Context, state string) (BridgeEntry, error) {
	s.mu.Lock()
	entry, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return BridgeEntry{}, ErrUnknownState
	}
	if s.expired(entry, s.now()) {
		s.metrics.RecordBridgeExpired(ctx, 1)
		return BridgeEntry{}, ErrUnknownState
	}
	return entry, nil
}

// PurgeExpired removes every entry older than the TTL and returns how many
// were removed.
func (s *BridgeStore) PurgeExpired(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for state, entry := range s.entries {
		if s.expired(entry, now) {
			delete(s.entries, state)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.RecordBridgeExpired(ctx, removed)
		s.logger.Debug("Purged expired redirect bridge entries", "count", removed)
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (s *BridgeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TTL returns the entry lifetime.
func (s *BridgeStore) TTL() time.Duration {
	return s.ttl
}

func (s *BridgeStore) expired(entry BridgeEntry, now time.Time) bool {
	return now.Sub(entry.CreatedAt) > s.ttl
}
