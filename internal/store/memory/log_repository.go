// Package memory provides in-memory implementations of the store interfaces,
// used in memory storage mode and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"logwarden/internal/domain"
)

// LogRepository is an in-memory implementation of store.LogRepository.
type LogRepository struct {
	mu     sync.RWMutex
	events []*domain.LogEvent
}

// NewLogRepository creates a new in-memory log repository.
func NewLogRepository() *LogRepository {
	return &LogRepository{
		events: make([]*domain.LogEvent, 0),
	}
}

// InsertBatch appends a batch of log events.
func (r *LogRepository) InsertBatch(_ context.Context, events []*domain.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// List retrieves recent log events matching the filter, newest first.
func (r *LogRepository) List(_ context.Context, filter domain.LogFilter) ([]*domain.LogEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.LogEvent, 0)
	for _, e := range r.events {
		if filter.Service != "" && e.Service != filter.Service {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// Count returns the total number of stored events. Useful for tests.
func (r *LogRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
