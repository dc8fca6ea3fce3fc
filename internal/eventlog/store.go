// Package eventlog persists the append-only EmergencyEvent audit trail.
// Events are write-once; retention and deletion are an external archival
// concern, the Guardian only appends and replays.
package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelstack/guardian/internal/models"
)

// Store abstracts emergency-event persistence.
type Store interface {
	// Append records one transition event. Implementations must preserve
	// append order for replay.
	Append(ctx context.Context, event models.EmergencyEvent) error
	// Replay returns all events at or after since, in append order. A zero
	// since returns the full log.
	Replay(ctx context.Context, since time.Time) ([]models.EmergencyEvent, error)
	Close() error
}

// MemoryStore keeps the log in process memory. Used in tests and when no
// persistence path is configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []models.EmergencyEvent
}

// NewMemoryStore creates an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, event models.EmergencyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Replay implements Store.
func (s *MemoryStore) Replay(_ context.Context, since time.Time) ([]models.EmergencyEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.EmergencyEvent, 0, len(s.events))
	for _, ev := range s.events {
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
