package memory

import (
	"context"
	"sort"
	"sync"

	"logwarden/internal/domain"
)

// AnomalyRepository is an in-memory implementation of store.AnomalyRepository.
type AnomalyRepository struct {
	mu      sync.RWMutex
	records []*domain.AnomalyRecord
}

// NewAnomalyRepository creates a new in-memory anomaly repository.
func NewAnomalyRepository() *AnomalyRepository {
	return &AnomalyRepository{
		records: make([]*domain.AnomalyRecord, 0),
	}
}

// InsertBatch appends a batch of anomaly records.
func (r *AnomalyRepository) InsertBatch(_ context.Context, records []*domain.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

// List retrieves recent anomaly records matching the filter, newest first.
func (r *AnomalyRepository) List(_ context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.AnomalyRecord, 0)
	for _, rec := range r.records {
		if filter.Severity != "" && rec.Severity != filter.Severity {
			continue
		}
		if filter.RuleType != "" && rec.RuleType != filter.RuleType {
			continue
		}
		matched = append(matched, rec)
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

// Count returns the total number of stored records. Useful for tests.
func (r *AnomalyRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
