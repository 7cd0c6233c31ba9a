package db

import (
	"context"
	"fmt"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// GetAssets loads the assets with the given ids keyed by id. Missing ids are
// simply absent from the result.
func (db *DB) GetAssets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Asset, error) {
	assets := make(map[uuid.UUID]models.Asset, len(ids))
	if len(ids) == 0 {
		return assets, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	rows, err := db.QueryContext(ctx, `SELECT id, storage_path FROM assets WHERE id = ANY($1::uuid[])`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.StoragePath); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets[a.ID] = a
	}

	return assets, rows.Err()
}
