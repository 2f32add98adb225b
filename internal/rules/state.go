package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StateStore tracks the mutable evaluation state of frequency rules: sliding
// event windows and cooldown markers. State survives rule reloads; a rule
// edit never resets an in-flight window.
type StateStore interface {
	// RecordAndCount appends an observation at ts to the window identified by
	// key, drops observations older than the window, and returns the
	// resulting count (including the new observation).
	RecordAndCount(ctx context.Context, key string, ts time.Time, window time.Duration) (int, error)

	// LastFired returns the time the rule last fired for this key, and
	// whether a cooldown marker exists.
	LastFired(ctx context.Context, key string) (time.Time, bool, error)

	// MarkFired records a firing at ts with the given time-to-live.
	MarkFired(ctx context.Context, key string, ts time.Time, ttl time.Duration) error

	// ActiveCooldowns returns the number of cooldown markers currently held.
	ActiveCooldowns(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// StateKey builds the composite key scoping frequency state to one rule and
// one partition.
func StateKey(ruleID, partition string) string {
	return fmt.Sprintf("%s|%s", ruleID, partition)
}

// MemoryState is the process-local StateStore. Windows are pruned lazily on
// access; cooldown markers expire on read.
type MemoryState struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	cooldowns map[string]cooldownEntry
}

type cooldownEntry struct {
	firedAt   time.Time
	expiresAt time.Time
}

// NewMemoryState creates an empty in-memory state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		windows:   make(map[string][]time.Time),
		cooldowns: make(map[string]cooldownEntry),
	}
}

// RecordAndCount appends ts to the keyed window and returns the count of
// observations at or after ts minus the window.
func (s *MemoryState) RecordAndCount(_ context.Context, key string, ts time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts.Add(-window)
	kept := s.windows[key][:0]
	for _, t := range s.windows[key] {
		// Inclusive boundary, same as the Redis backend's exclusive
		// ZRemRangeByScore cutoff.
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ts)
	s.windows[key] = kept

	return len(kept), nil
}

// LastFired returns the cooldown marker for the key, expiring it if stale.
func (s *MemoryState) LastFired(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cooldowns[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.cooldowns, key)
		return time.Time{}, false, nil
	}
	return entry.firedAt, true, nil
}

// MarkFired records a firing at ts that expires after ttl.
func (s *MemoryState) MarkFired(_ context.Context, key string, ts time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldowns[key] = cooldownEntry{
		firedAt:   ts,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// ActiveCooldowns returns the number of unexpired cooldown markers.
func (s *MemoryState) ActiveCooldowns(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for key, entry := range s.cooldowns {
		if now.After(entry.expiresAt) {
			delete(s.cooldowns, key)
			continue
		}
		count++
	}
	return count, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryState) Close() error {
	return nil
}
