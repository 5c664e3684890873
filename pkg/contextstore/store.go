package contextstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StoredContext is the parked body of one tool call, kept inside the
// trust boundary while only the request id crosses the queue.
type StoredContext struct {
	RequestID string                 `json:"requestId"`
	TenantID  string                 `json:"tenantId"`
	UserID    string                 `json:"userId"`
	Service   string                 `json:"service"`
	Operation string                 `json:"operation"`
	Body      map[string]interface{} `json:"body"`
	CreatedAt int64                  `json:"createdAt"`
}

type entry struct {
	ctx      *StoredContext
	consumed bool
}

// Store is an in-memory claim-check keyed by request id. Entries are
// consumed at most once; unconsumed entries expire after the TTL.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewStore creates an empty store with a 5 minute default TTL.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		ttl:     5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured entry TTL.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Store inserts ctx under its request id. The caller must generate a
// fresh id per call; reuse is a programming error.
func (s *Store) Store(ctx *StoredContext) (string, error) {
	if ctx == nil || ctx.RequestID == "" {
		return "", fmt.Errorf("context requires a request id")
	}
	if ctx.CreatedAt == 0 {
		ctx.CreatedAt = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[ctx.RequestID]; exists {
		return "", fmt.Errorf("context %s already stored", ctx.RequestID)
	}

	s.entries[ctx.RequestID] = &entry{ctx: ctx}
	return ctx.RequestID, nil
}

// FetchAndConsume returns the context and marks it consumed, exactly
// once per id. Subsequent calls return nil. The entry stays in the map
// after consumption so a duplicate fetch is distinguishable from an id
// that never existed.
func (s *Store) FetchAndConsume(requestID string) *StoredContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[requestID]
	if !exists || e.consumed {
		return nil
	}
	e.consumed = true
	return e.ctx
}

// Peek returns the context without changing its state.
func (s *Store) Peek(requestID string) *StoredContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[requestID]
	if !exists {
		return nil
	}
	return e.ctx
}

// Remove deletes the entry unconditionally. Idempotent.
func (s *Store) Remove(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, requestID)
}

// CleanupExpired deletes every entry older than the TTL and returns how
// many were removed. Consumed entries past the TTL are removed as well.
func (s *Store) CleanupExpired() int {
	cutoff := time.Now().UnixMilli() - s.ttl.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if e.ctx.CreatedAt < cutoff {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of entries currently held.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ConsumedCount returns how many held entries have been consumed.
func (s *Store) ConsumedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.consumed {
			n++
		}
	}
	return n
}

// Clear drops all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// RunSweeper invokes CleanupExpired on the given interval until the
// stop channel closes.
func (s *Store) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := s.CleanupExpired(); removed > 0 {
				slog.Info("Expired stored contexts removed", "count", removed)
			}
		}
	}
}
