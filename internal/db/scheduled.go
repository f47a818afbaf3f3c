package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tidemail/internal/models"
)

// ErrScheduledSendNotFound is returned when a scheduled-send job cannot be found.
var ErrScheduledSendNotFound = errors.New("scheduled send not found")

// ScheduledSendStore persists deferred outbound messages. A job row exists
// from submission until the scheduler retires it; no history is kept.
type ScheduledSendStore struct {
	pool *pgxpool.Pool
}

// NewScheduledSendStore creates a ScheduledSendStore backed by the given pool.
func NewScheduledSendStore(pool *pgxpool.Pool) *ScheduledSendStore {
	return &ScheduledSendStore{pool: pool}
}

// CreateJob inserts a scheduled-send job and fills in its generated id. An
// empty destination folder is stored as NULL; the scheduler leaves the copy
// in place for such jobs.
func (s *ScheduledSendStore) CreateJob(ctx context.Context, job *models.ScheduledSend) error {
	var destFolderID *string
	if job.DestFolderID != "" {
		destFolderID = &job.DestFolderID
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_sends (
			user_id, encrypted_credentials, raw_message, envelope_from,
			recipients, message_id, due_at, dest_folder_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		job.UserID,
		job.EncryptedCredentials,
		job.RawMessage,
		job.EnvelopeFrom,
		job.Recipients,
		job.MessageID,
		job.DueAt,
		destFolderID,
	).Scan(&job.ID)

	if err != nil {
		return fmt.Errorf("failed to create scheduled send: %w", err)
	}

	return nil
}

// DueJobs returns all jobs whose due time has passed, oldest first.
func (s *ScheduledSendStore) DueJobs(ctx context.Context, now time.Time) ([]models.ScheduledSend, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, encrypted_credentials, raw_message, envelope_from,
			recipients, message_id, due_at, dest_folder_id, dispatched
		FROM scheduled_sends
		WHERE due_at <= $1
		ORDER BY due_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled sends: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScheduledSend
	for rows.Next() {
		var job models.ScheduledSend
		var destFolderID *string
		err := rows.Scan(
			&job.ID,
			&job.UserID,
			&job.EncryptedCredentials,
			&job.RawMessage,
			&job.EnvelopeFrom,
			&job.Recipients,
			&job.MessageID,
			&job.DueAt,
			&destFolderID,
			&job.Dispatched,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled send: %w", err)
		}
		if destFolderID != nil {
			job.DestFolderID = *destFolderID
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scheduled sends: %w", err)
	}

	return jobs, nil
}

// MarkJobDispatched records that the job's message went out over SMTP.
// Set before relocation so a failure between dispatch and deletion retries
// only the post-dispatch steps instead of sending twice.
func (s *ScheduledSendStore) MarkJobDispatched(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_sends SET dispatched = TRUE WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled send dispatched: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrScheduledSendNotFound
	}

	return nil
}

// DeleteJob retires a job row.
func (s *ScheduledSendStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scheduled_sends WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled send: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrScheduledSendNotFound
	}

	return nil
}
