package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tidemail/internal/models"
)

// ErrLabelNotFound is returned when a label cannot be found.
var ErrLabelNotFound = errors.New("label not found")

// LabelStore persists user labels. A label's name doubles as its IMAP keyword.
type LabelStore struct {
	pool *pgxpool.Pool
}

// NewLabelStore creates a LabelStore backed by the given pool.
func NewLabelStore(pool *pgxpool.Pool) *LabelStore {
	return &LabelStore{pool: pool}
}

// ListLabels returns all labels for the user.
func (s *LabelStore) ListLabels(ctx context.Context, userID string) ([]models.Label, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, color
		FROM labels
		WHERE user_id = $1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []models.Label
	for rows.Next() {
		var label models.Label
		if err := rows.Scan(&label.ID, &label.UserID, &label.Name, &label.Color); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	return labels, nil
}

// GetLabel returns one label by id.
func (s *LabelStore) GetLabel(ctx context.Context, userID, labelID string) (*models.Label, error) {
	var label models.Label

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, color
		FROM labels
		WHERE user_id = $1 AND id = $2
	`, userID, labelID).Scan(&label.ID, &label.UserID, &label.Name, &label.Color)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLabelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get label: %w", err)
	}

	return &label, nil
}

// CreateLabel inserts a label and fills in its generated id.
func (s *LabelStore) CreateLabel(ctx context.Context, label *models.Label) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO labels (user_id, name, color)
		VALUES ($1, $2, $3)
		RETURNING id
	`, label.UserID, label.Name, label.Color).Scan(&label.ID)

	if err != nil {
		return fmt.Errorf("failed to create label: %w", err)
	}

	return nil
}

// DeleteLabel removes a label.
func (s *LabelStore) DeleteLabel(ctx context.Context, userID, labelID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM labels WHERE user_id = $1 AND id = $2
	`, userID, labelID)
	if err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrLabelNotFound
	}

	return nil
}
