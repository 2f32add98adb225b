package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"logwarden/internal/domain"
)

// LogRepository implements store.LogRepository using PostgreSQL.
type LogRepository struct {
	db *DB
}

// NewLogRepository creates a new PostgreSQL log repository.
func NewLogRepository(db *DB) *LogRepository {
	return &LogRepository{db: db}
}

// InsertBatch stores a batch of log events using the COPY protocol.
func (r *LogRepository) InsertBatch(ctx context.Context, events []*domain.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		params := e.Parameters
		if params == nil {
			params = []string{}
		}
		rows = append(rows, []interface{}{
			e.Timestamp,
			string(e.Level),
			e.Service,
			e.TemplateID,
			e.RawMessage,
			params,
		})
	}

	_, err := r.db.pool.CopyFrom(
		ctx,
		pgx.Identifier{"logs"},
		[]string{"timestamp", "level", "service", "template_id", "raw_message", "parameters"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy log events: %w", err)
	}

	return nil
}

// List retrieves recent log events matching the filter, newest first.
func (r *LogRepository) List(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEvent, error) {
	query := `
		SELECT timestamp, level, service, template_id, raw_message, parameters
		FROM logs
		WHERE 1=1`

	args := []interface{}{}
	argPos := 1

	if filter.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argPos)
		args = append(args, filter.Service)
		argPos++
	}
	if filter.Level != "" {
		query += fmt.Sprintf(" AND level = $%d", argPos)
		args = append(args, string(filter.Level))
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.LogEvent, 0)
	for rows.Next() {
		e := &domain.LogEvent{}
		var level string
		if err := rows.Scan(&e.Timestamp, &level, &e.Service, &e.TemplateID, &e.RawMessage, &e.Parameters); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		e.Level = domain.Level(level)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log rows: %w", err)
	}

	return events, nil
}
