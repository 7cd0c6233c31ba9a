package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/google/uuid"
)

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT id, user_id, title, status, video_format, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	project := &models.Project{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&project.ID, &project.UserID, &project.Title, &project.Status,
		&project.VideoFormat, &project.CreatedAt, &project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// GetOwnedProject returns the project only when it belongs to userID.
// A project owned by someone else is reported as ErrNotFound.
func (db *DB) GetOwnedProject(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	project, err := db.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return project, nil
}

func (db *DB) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error {
	query := `UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	return nil
}
