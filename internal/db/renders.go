package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/google/uuid"
)

const renderColumns = `
	id, project_id, type, status, provider, provider_job_id, input_refs,
	output_path, duration_seconds, error_message, created_at, updated_at
`

func (db *DB) CreateRender(ctx context.Context, render *models.Render) error {
	query := `
		INSERT INTO renders (
			id, project_id, type, status, provider, provider_job_id, input_refs
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := db.QueryRowContext(
		ctx, query,
		render.ID, render.ProjectID, render.Type, render.Status,
		render.Provider, render.ProviderJobID, render.InputRefs,
	).Scan(&render.CreatedAt, &render.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create render: %w", err)
	}
	return nil
}

// ListRenders returns renders of one type for a project, oldest first.
// An empty status matches every status.
func (db *DB) ListRenders(ctx context.Context, projectID uuid.UUID, renderType models.RenderType, status models.RenderStatus) ([]models.Render, error) {
	var (
		rows *sql.Rows
		err  error
	)

	base := `SELECT ` + renderColumns + ` FROM renders WHERE project_id = $1 AND type = $2`
	if status != "" {
		rows, err = db.QueryContext(ctx, base+` AND status = $3 ORDER BY created_at`, projectID, renderType, status)
	} else {
		rows, err = db.QueryContext(ctx, base+` ORDER BY created_at`, projectID, renderType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query renders: %w", err)
	}
	defer rows.Close()

	var renders []models.Render
	for rows.Next() {
		render, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, *render)
	}

	return renders, rows.Err()
}

// LatestFinalRender returns the most recent final export (either format).
func (db *DB) LatestFinalRender(ctx context.Context, projectID uuid.UUID) (*models.Render, error) {
	query := `SELECT ` + renderColumns + `
		FROM renders
		WHERE project_id = $1 AND type IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	render, err := scanRender(db.QueryRowContext(ctx, query, projectID,
		models.RenderTypeFinalVertical, models.RenderTypeFinalHorizontal))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("final render for project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get final render: %w", err)
	}
	return render, nil
}

// CompleteRender marks a render done with its output location and duration.
func (db *DB) CompleteRender(ctx context.Context, id uuid.UUID, provider, outputPath string, durationSeconds float64) error {
	query := `
		UPDATE renders
		SET status = $1, provider = $2, output_path = $3, duration_seconds = $4,
		    error_message = NULL, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusDone, provider, outputPath, durationSeconds, id)
	if err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}
	return nil
}

func (db *DB) FailRender(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE renders
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusFailed, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark render failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRender(row rowScanner) (*models.Render, error) {
	r := &models.Render{}
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.Type, &r.Status, &r.Provider, &r.ProviderJobID,
		&r.InputRefs, &r.OutputPath, &r.DurationSeconds, &r.ErrorMessage,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}
