package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"logwarden/internal/domain"
)

// RuleRepository implements store.RuleRepository using PostgreSQL.
type RuleRepository struct {
	db *DB
}

// NewRuleRepository creates a new PostgreSQL rule repository.
func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, rule_type, level, keyword, template_id, time_window_minutes,
	threshold_count, cooldown_minutes, per_service, severity, score, description,
	is_active, created_at, updated_at`

// Create stores a new rule.
func (r *RuleRepository) Create(ctx context.Context, rule *domain.AnomalyRule) error {
	query := `
		INSERT INTO anomaly_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.pool.Exec(ctx, query,
		rule.ID,
		string(rule.Type),
		string(rule.Level),
		rule.Keyword,
		rule.TemplateID,
		rule.TimeWindowMinutes,
		rule.ThresholdCount,
		rule.CooldownMinutes,
		rule.PerService,
		string(rule.Severity),
		rule.Score,
		rule.Description,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Update modifies an existing rule.
func (r *RuleRepository) Update(ctx context.Context, rule *domain.AnomalyRule) error {
	query := `
		UPDATE anomaly_rules SET
			level = $2,
			keyword = $3,
			template_id = $4,
			time_window_minutes = $5,
			threshold_count = $6,
			cooldown_minutes = $7,
			per_service = $8,
			severity = $9,
			score = $10,
			description = $11,
			is_active = $12,
			updated_at = $13
		WHERE id = $1`

	tag, err := r.db.pool.Exec(ctx, query,
		rule.ID,
		string(rule.Level),
		rule.Keyword,
		rule.TemplateID,
		rule.TimeWindowMinutes,
		rule.ThresholdCount,
		rule.CooldownMinutes,
		rule.PerService,
		string(rule.Severity),
		rule.Score,
		rule.Description,
		rule.IsActive,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRuleNotFound
	}

	return nil
}

// Delete removes a rule by ID.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM anomaly_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRuleNotFound
	}

	return nil
}

// GetByID retrieves a rule by its ID.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.AnomalyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM anomaly_rules WHERE id = $1`

	rule, err := scanRule(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRuleNotFound
		}
		return nil, err
	}

	return rule, nil
}

// List retrieves rules matching the filter, newest first.
func (r *RuleRepository) List(ctx context.Context, filter domain.RuleFilter) ([]*domain.AnomalyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM anomaly_rules WHERE 1=1`

	args := []interface{}{}
	argPos := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND rule_type = $%d", argPos)
		args = append(args, string(filter.Type))
		argPos++
	}
	if filter.IsActive != nil {
		query += fmt.Sprintf(" AND is_active = $%d", argPos)
		args = append(args, *filter.IsActive)
		argPos++
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*domain.AnomalyRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rule rows: %w", err)
	}

	return rules, nil
}

func scanRule(row pgx.Row) (*domain.AnomalyRule, error) {
	rule := &domain.AnomalyRule{}
	var ruleType, level, severity string

	err := row.Scan(
		&rule.ID,
		&ruleType,
		&level,
		&rule.Keyword,
		&rule.TemplateID,
		&rule.TimeWindowMinutes,
		&rule.ThresholdCount,
		&rule.CooldownMinutes,
		&rule.PerService,
		&severity,
		&rule.Score,
		&rule.Description,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule row: %w", err)
	}

	rule.Type = domain.RuleType(ruleType)
	rule.Level = domain.Level(level)
	rule.Severity = domain.Severity(severity)
	return rule, nil
}
