package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"logwarden/internal/domain"
)

// AnomalyRepository implements store.AnomalyRepository using PostgreSQL.
type AnomalyRepository struct {
	db *DB
}

// NewAnomalyRepository creates a new PostgreSQL anomaly repository.
func NewAnomalyRepository(db *DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

// InsertBatch stores a batch of anomaly records using the COPY protocol.
func (r *AnomalyRepository) InsertBatch(ctx context.Context, records []*domain.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []interface{}{
			rec.ID,
			rec.Timestamp,
			rec.TemplateID,
			rec.RuleID,
			string(rec.RuleType),
			string(rec.Severity),
			rec.Score,
			rec.RawMessage,
			rec.Service,
			string(rec.Level),
		})
	}

	_, err := r.db.pool.CopyFrom(
		ctx,
		pgx.Identifier{"anomalies"},
		[]string{"id", "timestamp", "template_id", "rule_id", "rule_type", "severity", "score", "raw_message", "service", "level"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy anomaly records: %w", err)
	}

	return nil
}

// List retrieves recent anomaly records matching the filter, newest first.
func (r *AnomalyRepository) List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyRecord, error) {
	query := `
		SELECT id, timestamp, template_id, rule_id, rule_type, severity, score, raw_message, service, level
		FROM anomalies
		WHERE 1=1`

	args := []interface{}{}
	argPos := 1

	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argPos)
		args = append(args, string(filter.Severity))
		argPos++
	}
	if filter.RuleType != "" {
		query += fmt.Sprintf(" AND rule_type = $%d", argPos)
		args = append(args, string(filter.RuleType))
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
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.AnomalyRecord, 0)
	for rows.Next() {
		rec, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anomaly rows: %w", err)
	}

	return records, nil
}

func scanAnomaly(row pgx.Row) (*domain.AnomalyRecord, error) {
	rec := &domain.AnomalyRecord{}
	var ruleType, severity, level string

	err := row.Scan(
		&rec.ID,
		&rec.Timestamp,
		&rec.TemplateID,
		&rec.RuleID,
		&ruleType,
		&severity,
		&rec.Score,
		&rec.RawMessage,
		&rec.Service,
		&level,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
	}

	rec.RuleType = domain.RuleType(ruleType)
	rec.Severity = domain.Severity(severity)
	rec.Level = domain.Level(level)
	return rec, nil
}
