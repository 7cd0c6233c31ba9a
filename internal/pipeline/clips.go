package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/bobarin/listingreel/internal/storage"
	"github.com/google/uuid"
)

// SubmitClips sends one image-to-video job per included scene. Failures are
// collected per scene; nothing is retried.
func (p *Pipeline) SubmitClips(ctx context.Context, userID, projectID uuid.UUID, req models.SubmitClipsRequest) (*models.SubmitClipsResponse, error) {
	project, err := p.store.GetOwnedProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	aspect := project.VideoFormat
	if req.AspectRatio != nil && *req.AspectRatio != "" {
		aspect = models.VideoFormat(*req.AspectRatio)
	}
	if aspect == "" {
		aspect = models.VideoFormatHorizontal
	}
	if !aspect.Valid() {
		return nil, ErrInvalidFormat
	}

	scenes, err := p.store.ListIncludedScenes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenes: %w", err)
	}
	if len(scenes) == 0 {
		return nil, ErrNoIncludedScenes
	}

	if err := p.store.UpdateProjectStatus(ctx, projectID, models.ProjectStatusClipsQueued); err != nil {
		return nil, err
	}

	assetIDs := make([]uuid.UUID, 0, len(scenes))
	for _, s := range scenes {
		assetIDs = append(assetIDs, s.AssetID)
	}
	assets, err := p.store.GetAssets(ctx, assetIDs)
	if err != nil {
		p.markProject(ctx, projectID, models.ProjectStatusFailed)
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}

	log.Printf("[Clips] Submitting %d scenes for project %s (provider=%s, aspect=%s)", len(scenes), projectID, p.video.Name(), aspect)

	resp := &models.SubmitClipsResponse{
		ProjectID: projectID,
		Submitted: []models.ClipSubmission{},
		Errors:    []models.SceneError{},
	}
	seenJobs := make(map[string]bool)

	for _, scene := range scenes {
		sub, err := p.submitScene(ctx, projectID, scene, assets, aspect, seenJobs)
		if err != nil {
			log.Printf("[Clips] Scene %d (%s) failed: %v", scene.SceneOrder, scene.ID, err)
			resp.Errors = append(resp.Errors, models.SceneError{
				SceneID:    scene.ID,
				SceneOrder: scene.SceneOrder,
				Error:      err.Error(),
			})
			continue
		}
		resp.Submitted = append(resp.Submitted, *sub)
	}

	resp.Status = models.ProjectStatusClipsGenerating
	if len(resp.Submitted) == 0 {
		resp.Status = models.ProjectStatusFailed
	}
	if err := p.store.UpdateProjectStatus(ctx, projectID, resp.Status); err != nil {
		return nil, err
	}

	log.Printf("[Clips] Project %s: %d submitted, %d failed", projectID, len(resp.Submitted), len(resp.Errors))

	if len(resp.Submitted) == 0 {
		return resp, ErrAllSubmissionsFailed
	}
	return resp, nil
}

func (p *Pipeline) submitScene(
	ctx context.Context,
	projectID uuid.UUID,
	scene models.StoryboardScene,
	assets map[uuid.UUID]models.Asset,
	aspect models.VideoFormat,
	seenJobs map[string]bool,
) (*models.ClipSubmission, error) {
	asset, ok := assets[scene.AssetID]
	if !ok {
		return nil, fmt.Errorf("asset %s not found", scene.AssetID)
	}

	imageURL, err := p.objects.SignedURL(ctx, p.opts.PhotosBucket, asset.StoragePath, p.opts.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign photo url: %w", err)
	}

	template := scene.MotionTemplate
	if template == "" {
		template = services.DefaultMotionTemplate
	}
	prompt := services.MotionPrompt(template)
	duration := p.video.ClipDuration(p.opts.ClipDurationSec)

	jobID, err := p.video.SubmitClip(ctx, services.ClipRequest{
		ImageURL:    imageURL,
		Prompt:      prompt,
		AspectRatio: string(aspect),
		DurationSec: duration,
	})
	if err != nil {
		return nil, err
	}
	if jobID == "" || seenJobs[jobID] {
		return nil, fmt.Errorf("provider returned unusable job id %q", jobID)
	}
	seenJobs[jobID] = true

	render := &models.Render{
		ID:            uuid.New(),
		ProjectID:     projectID,
		Type:          models.RenderTypeSceneClip,
		Status:        models.RenderStatusRunning,
		Provider:      p.video.Name(),
		ProviderJobID: strPtr(jobID),
		InputRefs: models.JSONB{
			"scene_id":         scene.ID.String(),
			"asset_id":         asset.ID.String(),
			"scene_order":      scene.SceneOrder,
			"motion_template":  template,
			"prompt":           prompt,
			"aspect_ratio":     string(aspect),
			"duration_seconds": duration,
		},
	}
	if err := p.store.CreateRender(ctx, render); err != nil {
		return nil, fmt.Errorf("job %s submitted but render row failed: %w", jobID, err)
	}

	return &models.ClipSubmission{
		SceneID:       scene.ID,
		SceneOrder:    scene.SceneOrder,
		RenderID:      render.ID,
		ProviderJobID: jobID,
	}, nil
}

// SyncClips polls the provider once for every running scene clip, stores
// finished videos in the clips bucket, and reports the state of all clips.
func (p *Pipeline) SyncClips(ctx context.Context, userID, projectID uuid.UUID) (*models.ClipStatusResponse, error) {
	if _, err := p.store.GetOwnedProject(ctx, projectID, userID); err != nil {
		return nil, err
	}

	renders, err := p.store.ListRenders(ctx, projectID, models.RenderTypeSceneClip, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load clips: %w", err)
	}

	for i := range renders {
		r := &renders[i]
		if r.Status.Terminal() || r.ProviderJobID == nil {
			continue
		}
		if err := p.syncClip(ctx, projectID, r); err != nil {
			log.Printf("[Clips] Sync of render %s failed: %v", r.ID, err)
		}
	}

	resp := &models.ClipStatusResponse{ProjectID: projectID, Clips: make([]models.ClipState, 0, len(renders))}
	for _, r := range renders {
		state := models.ClipState{Render: r}
		switch r.Status {
		case models.RenderStatusDone:
			resp.Done++
			if r.OutputPath != nil {
				state.VideoURL = strPtr(p.objects.PublicURL(p.opts.ClipsBucket, *r.OutputPath))
			}
		case models.RenderStatusFailed:
			resp.Failed++
		default:
			resp.Pending++
		}
		resp.Clips = append(resp.Clips, state)
	}

	if len(renders) > 0 && resp.Pending == 0 && resp.Done == 0 {
		p.markProject(ctx, projectID, models.ProjectStatusFailed)
	}

	return resp, nil
}

// syncClip advances one render in place.
func (p *Pipeline) syncClip(ctx context.Context, projectID uuid.UUID, r *models.Render) error {
	provider, ok := p.providers[r.Provider]
	if !ok {
		return fmt.Errorf("no provider %q configured", r.Provider)
	}

	result, err := provider.ClipStatus(ctx, *r.ProviderJobID)
	if err != nil {
		return err
	}

	switch result.State {
	case services.JobStatePending:
		return nil
	case services.JobStateFailed:
		msg := result.Error
		if msg == "" {
			msg = "provider reported failure"
		}
		if err := p.store.FailRender(ctx, r.ID, msg); err != nil {
			return err
		}
		r.Status = models.RenderStatusFailed
		r.ErrorMessage = strPtr(msg)
		return nil
	}

	data := result.VideoData
	if len(data) == 0 {
		data, err = p.objects.DownloadURL(ctx, result.VideoURL)
		if err != nil {
			return fmt.Errorf("failed to fetch provider video: %w", err)
		}
	}

	objectPath := storage.ObjectPath(projectID.String(), r.ID.String()+".mp4")
	if err := p.objects.Upload(ctx, p.opts.ClipsBucket, objectPath, data, "video/mp4"); err != nil {
		return err
	}

	duration := result.DurationSeconds
	if duration <= 0 {
		duration = inputDuration(r.InputRefs, float64(p.opts.ClipDurationSec))
	}

	if err := p.store.CompleteRender(ctx, r.ID, r.Provider, objectPath, duration); err != nil {
		return err
	}

	log.Printf("[Clips] Render %s done (%.1fs)", r.ID, duration)
	r.Status = models.RenderStatusDone
	r.OutputPath = strPtr(objectPath)
	r.DurationSeconds = &duration
	return nil
}

// inputDuration reads the requested duration recorded at submission.
func inputDuration(refs models.JSONB, fallback float64) float64 {
	switch v := refs["duration_seconds"].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return fallback
}

// markProject is a best-effort status write used on failure paths.
func (p *Pipeline) markProject(ctx context.Context, projectID uuid.UUID, status models.ProjectStatus) {
	if err := p.store.UpdateProjectStatus(ctx, projectID, status); err != nil {
		log.Printf("[Pipeline] Failed to set project %s to %s: %v", projectID, status, err)
	}
}
