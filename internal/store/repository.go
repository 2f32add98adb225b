// Package store defines interfaces for data persistence.
// These abstractions allow swapping implementations (PostgreSQL, in-memory)
// without changing business logic.
package store

import (
	"context"

	"logwarden/internal/domain"
)

// LogRepository defines the interface for persistent log event storage.
// The backing table is append-only; duplicate rows from crash-recovery
// reprocessing are tolerated by the analytics downstream.
type LogRepository interface {
	// InsertBatch stores a batch of log events in one bulk write.
	InsertBatch(ctx context.Context, events []*domain.LogEvent) error

	// List retrieves recent log events matching the filter, newest first.
	List(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEvent, error)
}

// AnomalyRepository defines the interface for persistent anomaly records.
type AnomalyRepository interface {
	// InsertBatch stores a batch of anomaly records in one bulk write.
	InsertBatch(ctx context.Context, records []*domain.AnomalyRecord) error

	// List retrieves recent anomaly records matching the filter, newest first.
	List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyRecord, error)
}

// RuleRepository defines the interface for anomaly rule persistence.
type RuleRepository interface {
	// Create stores a new rule.
	Create(ctx context.Context, rule *domain.AnomalyRule) error

	// Update modifies an existing rule.
	Update(ctx context.Context, rule *domain.AnomalyRule) error

	// Delete removes a rule by ID.
	Delete(ctx context.Context, id string) error

	// GetByID retrieves a rule by its ID.
	GetByID(ctx context.Context, id string) (*domain.AnomalyRule, error)

	// List retrieves rules matching the filter.
	List(ctx context.Context, filter domain.RuleFilter) ([]*domain.AnomalyRule, error)
}
