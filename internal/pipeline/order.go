package pipeline

import (
	"sort"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/google/uuid"
)

// OrderedClip is a completed scene clip with its resolved storyboard position.
type OrderedClip struct {
	Render     models.Render
	SceneID    *uuid.UUID
	SceneOrder *int
}

// OrderClips sorts clips by the scene_order of the scene each one was
// generated from. Clips whose scene cannot be resolved go last, oldest first.
func OrderClips(clips []models.Render, scenes []models.StoryboardScene) []OrderedClip {
	orderByScene := make(map[uuid.UUID]int, len(scenes))
	for _, s := range scenes {
		orderByScene[s.ID] = s.SceneOrder
	}

	ordered := make([]OrderedClip, 0, len(clips))
	for _, r := range clips {
		oc := OrderedClip{Render: r}
		if sceneID, ok := r.SceneID(); ok {
			id := sceneID
			oc.SceneID = &id
			if order, ok := orderByScene[sceneID]; ok {
				oc.SceneOrder = intPtr(order)
			}
		}
		ordered = append(ordered, oc)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.SceneOrder != nil && b.SceneOrder != nil:
			return *a.SceneOrder < *b.SceneOrder
		case a.SceneOrder != nil:
			return true
		case b.SceneOrder != nil:
			return false
		default:
			return a.Render.CreatedAt.Before(b.Render.CreatedAt)
		}
	})

	return ordered
}
