package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tidemail/internal/models"
)

// ErrFolderNotFound is returned when a folder cannot be found.
var ErrFolderNotFound = errors.New("folder not found")

// FolderStore persists locally tracked folders.
type FolderStore struct {
	pool *pgxpool.Pool
}

// NewFolderStore creates a FolderStore backed by the given pool.
func NewFolderStore(pool *pgxpool.Pool) *FolderStore {
	return &FolderStore{pool: pool}
}

const folderColumns = `id, user_id, name, path, role, parent_id, origin, subscribed`

func scanFolder(row pgx.Row) (*models.Folder, error) {
	var folder models.Folder
	var role *string

	err := row.Scan(
		&folder.ID,
		&folder.UserID,
		&folder.Name,
		&folder.Path,
		&role,
		&folder.ParentID,
		&folder.Origin,
		&folder.Subscribed,
	)
	if err != nil {
		return nil, err
	}

	if role != nil {
		folder.Role = *role
	}

	return &folder, nil
}

// ListFolders returns all folders for the user, ordered by path for stable output.
func (s *FolderStore) ListFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE user_id = $1
		ORDER BY path
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []models.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, *folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read folders: %w", err)
	}

	return folders, nil
}

// GetFolder returns one folder by id.
func (s *FolderStore) GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error) {
	folder, err := scanFolder(s.pool.QueryRow(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE user_id = $1 AND id = $2
	`, userID, folderID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	return folder, nil
}

// GetFolderByRole returns the folder carrying the given special-use role.
func (s *FolderStore) GetFolderByRole(ctx context.Context, userID, role string) (*models.Folder, error) {
	folder, err := scanFolder(s.pool.QueryRow(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE user_id = $1 AND role = $2
	`, userID, role))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder by role: %w", err)
	}

	return folder, nil
}

// CreateFolder inserts a folder and fills in its generated id.
func (s *FolderStore) CreateFolder(ctx context.Context, folder *models.Folder) error {
	var role *string
	if folder.Role != "" {
		role = &folder.Role
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO folders (user_id, name, path, role, parent_id, origin, subscribed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		folder.UserID,
		folder.Name,
		folder.Path,
		role,
		folder.ParentID,
		folder.Origin,
		folder.Subscribed,
	).Scan(&folder.ID)

	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}

	return nil
}

// SetFolderRole links a folder to a special-use role.
func (s *FolderStore) SetFolderRole(ctx context.Context, userID, folderID, role string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE folders SET role = $3 WHERE user_id = $1 AND id = $2
	`, userID, folderID, role)
	if err != nil {
		return fmt.Errorf("failed to set folder role: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrFolderNotFound
	}

	return nil
}

// DeleteFolder removes a user-created folder record. Reconciliation never
// calls this; it exists for the folder management API.
func (s *FolderStore) DeleteFolder(ctx context.Context, userID, folderID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM folders WHERE user_id = $1 AND id = $2
	`, userID, folderID)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrFolderNotFound
	}

	return nil
}
