package db

import (
	"context"
	"fmt"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/google/uuid"
)

const sceneColumns = `id, project_id, asset_id, scene_order, include, motion_template`

// ListIncludedScenes returns the scenes flagged for inclusion, ordered by scene_order.
func (db *DB) ListIncludedScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error) {
	query := `SELECT ` + sceneColumns + `
		FROM storyboard_scenes
		WHERE project_id = $1 AND include = TRUE
		ORDER BY scene_order
	`
	return db.queryScenes(ctx, query, projectID)
}

// ListScenes returns every scene of the project regardless of the include flag.
func (db *DB) ListScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error) {
	query := `SELECT ` + sceneColumns + `
		FROM storyboard_scenes
		WHERE project_id = $1
		ORDER BY scene_order
	`
	return db.queryScenes(ctx, query, projectID)
}

func (db *DB) queryScenes(ctx context.Context, query string, args ...interface{}) ([]models.StoryboardScene, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer rows.Close()

	var scenes []models.StoryboardScene
	for rows.Next() {
		var s models.StoryboardScene
		var motion *string
		if err := rows.Scan(
			&s.ID, &s.ProjectID, &s.AssetID, &s.SceneOrder, &s.Include, &motion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		if motion != nil {
			s.MotionTemplate = *motion
		}
		scenes = append(scenes, s)
	}

	return scenes, rows.Err()
}
