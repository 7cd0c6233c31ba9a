package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/google/uuid"
)

// SubmitMusic queues a background track for the project.
func (p *Pipeline) SubmitMusic(ctx context.Context, userID, projectID uuid.UUID, req models.MusicRequest) (*models.MusicResponse, error) {
	if _, err := p.store.GetOwnedProject(ctx, projectID, userID); err != nil {
		return nil, err
	}

	prompt := services.GenrePrompt(req.Genre)
	duration := services.ClampMusicDuration(req.DurationSeconds)

	res, err := p.music.Submit(ctx, prompt, duration)
	if err != nil {
		return nil, err
	}

	if res.State == services.JobStateCompleted {
		return &models.MusicResponse{
			Status:          models.MusicStatusCompleted,
			JobID:           res.JobID,
			AudioURL:        res.AudioURL,
			DurationSeconds: duration,
		}, nil
	}

	if p.registry != nil {
		job := &cache.MusicJob{
			JobID:           res.JobID,
			ProjectID:       projectID,
			Prompt:          prompt,
			DurationSeconds: duration,
			RequestedAt:     p.now(),
		}
		if err := p.registry.RegisterMusicJob(ctx, job); err != nil {
			log.Printf("[Music] Failed to register job %s: %v", res.JobID, err)
		}
	}

	log.Printf("[Music] Job %s queued for project %s (%ds)", res.JobID, projectID, duration)

	return &models.MusicResponse{
		Status:          models.MusicStatusPending,
		JobID:           res.JobID,
		DurationSeconds: duration,
	}, nil
}

// MusicStatus checks a music job once. Provider errors and jobs pending past
// the music job TTL are reported as failed rather than as request errors.
func (p *Pipeline) MusicStatus(ctx context.Context, userID, projectID uuid.UUID, jobID string) (*models.MusicResponse, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	if _, err := p.store.GetOwnedProject(ctx, projectID, userID); err != nil {
		return nil, err
	}

	var (
		duration int
		expired  bool
	)
	if p.registry != nil {
		job, err := p.registry.GetMusicJob(ctx, jobID)
		switch {
		case errors.Is(err, cache.ErrJobNotFound):
			// submitted without a registry, or past the retention window
		case err != nil:
			log.Printf("[Music] Registry lookup for %s failed: %v", jobID, err)
		case job.ProjectID != projectID:
			return nil, fmt.Errorf("music job %s: %w", jobID, db.ErrNotFound)
		default:
			duration = job.DurationSeconds
			expired = job.Expired(p.now(), p.opts.MusicJobTTL)
		}
	}

	resp := &models.MusicResponse{JobID: jobID, DurationSeconds: duration}

	res, err := p.music.Status(ctx, jobID)
	if err != nil {
		log.Printf("[Music] Status check for %s failed: %v", jobID, err)
		resp.Status = models.MusicStatusFailed
		resp.Error = err.Error()
		return resp, nil
	}

	switch res.State {
	case services.JobStateCompleted:
		resp.Status = models.MusicStatusCompleted
		resp.AudioURL = res.AudioURL
	case services.JobStatePending:
		resp.Status = models.MusicStatusPending
		if expired {
			resp.Status = models.MusicStatusFailed
			resp.Error = fmt.Sprintf("music generation timed out after %s", p.opts.MusicJobTTL)
		}
	default:
		resp.Status = models.MusicStatusFailed
		resp.Error = res.Error
	}
	return resp, nil
}
