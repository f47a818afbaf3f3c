package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"tidemail/internal/models"
)

// ErrRuleNotFound is returned when a rule cannot be found.
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore persists user-defined auto-processing rules. Position defines
// evaluation order.
type RuleStore struct {
	pool *pgxpool.Pool
}

// NewRuleStore creates a RuleStore backed by the given pool.
func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

// ListRules returns the user's rules in evaluation order.
func (s *RuleStore) ListRules(ctx context.Context, userID string) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, field, value, action, action_arg, position
		FROM rules
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var rule models.Rule
		err := rows.Scan(&rule.ID, &rule.UserID, &rule.Field, &rule.Value, &rule.Action, &rule.ActionArg, &rule.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	return rules, nil
}

// CreateRule inserts a rule at the end of the evaluation order and fills in
// its generated id and position.
func (s *RuleStore) CreateRule(ctx context.Context, rule *models.Rule) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rules (user_id, field, value, action, action_arg, position)
		VALUES (
			$1, $2, $3, $4, $5,
			COALESCE((SELECT MAX(position) + 1 FROM rules WHERE user_id = $1), 0)
		)
		RETURNING id, position
	`, rule.UserID, rule.Field, rule.Value, rule.Action, rule.ActionArg).Scan(&rule.ID, &rule.Position)

	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

// DeleteRule removes a rule.
func (s *RuleStore) DeleteRule(ctx context.Context, userID, ruleID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM rules WHERE user_id = $1 AND id = $2
	`, userID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}

	return nil
}
