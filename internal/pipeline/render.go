package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// encodedExport is the result of a successful encoder run.
type encodedExport struct {
	objectPath string
	duration   float64
	sizeBytes  int64
}

// RenderFinal assembles the project's completed clips into one export. The
// encoder is tried first; when it is missing or any step of it fails the
// ordered clip list is stored as a playlist instead. On return the final
// render is never left running.
func (p *Pipeline) RenderFinal(ctx context.Context, userID, projectID uuid.UUID, req models.RenderRequest) (*models.RenderResponse, error) {
	project, err := p.store.GetOwnedProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	format := project.VideoFormat
	if req.Format != nil && *req.Format != "" {
		format = *req.Format
	}
	if format == "" {
		format = models.VideoFormatHorizontal
	}
	if !format.Valid() {
		return nil, ErrInvalidFormat
	}

	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, projectID, p.opts.RenderTimeout)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.RenderTimeout)
	defer cancel()

	clips, err := p.store.ListRenders(ctx, projectID, models.RenderTypeSceneClip, models.RenderStatusDone)
	if err != nil {
		p.failProject(ctx, projectID)
		return nil, fmt.Errorf("failed to load clips: %w", err)
	}
	if len(clips) == 0 {
		return nil, ErrNoCompletedClips
	}

	scenes, err := p.store.ListScenes(ctx, projectID)
	if err != nil {
		p.failProject(ctx, projectID)
		return nil, fmt.Errorf("failed to load scenes: %w", err)
	}
	ordered := OrderClips(clips, scenes)

	clipIDs := make([]string, len(ordered))
	for i, c := range ordered {
		clipIDs[i] = c.Render.ID.String()
	}

	final := &models.Render{
		ID:        uuid.New(),
		ProjectID: projectID,
		Type:      format.FinalRenderType(),
		Status:    models.RenderStatusRunning,
		Provider:  models.ProviderEncoder,
		InputRefs: models.JSONB{
			"format":          string(format),
			"clip_render_ids": clipIDs,
		},
	}
	if err := p.store.CreateRender(ctx, final); err != nil {
		p.failProject(ctx, projectID)
		return nil, err
	}

	log.Printf("[Render] Final render %s for project %s (%d clips, %s)", final.ID, projectID, len(ordered), format)

	resp := &models.RenderResponse{
		RenderID:  final.ID,
		ProjectID: projectID,
		Type:      final.Type,
	}

	finalized := false
	defer func() {
		if finalized {
			return
		}
		fctx, fcancel := detached(ctx)
		defer fcancel()
		log.Printf("[Render] Render %s aborted before completion, marking failed", final.ID)
		if err := p.store.FailRender(fctx, final.ID, "render aborted before completion"); err != nil {
			log.Printf("[Render] Failed to mark render %s failed: %v", final.ID, err)
		}
		p.markProject(fctx, projectID, models.ProjectStatusFailed)
	}()

	export, primaryErr := p.encodeExport(ctx, projectID, final.ID, ordered)

	// completion writes must land even when the budget expired mid-encode
	wctx, wcancel := detached(ctx)
	defer wcancel()

	if primaryErr == nil {
		if err := p.store.CompleteRender(wctx, final.ID, models.ProviderEncoder, export.objectPath, export.duration); err != nil {
			return nil, err
		}
		if err := p.store.UpdateProjectStatus(wctx, projectID, models.ProjectStatusComplete); err != nil {
			return nil, err
		}
		finalized = true

		resp.Status = models.RenderStatusDone
		resp.ProjectStatus = models.ProjectStatusComplete
		resp.Mode = models.RenderModeFile
		resp.DurationSeconds = export.duration
		resp.SizeBytes = export.sizeBytes
		resp.Size = humanize.Bytes(uint64(export.sizeBytes))
		if url, err := p.objects.SignedURL(wctx, p.opts.ExportsBucket, export.objectPath, p.opts.SignedURLTTL); err == nil {
			resp.OutputURL = &url
		} else {
			log.Printf("[Render] Failed to sign export url: %v", err)
		}
		return resp, nil
	}

	log.Printf("[Render] Encoder path failed for %s, falling back to playlist: %v", final.ID, primaryErr)
	resp.FallbackReason = primaryErr.Error()

	playlist, err := p.buildPlaylist(ordered)
	if err == nil {
		var output string
		output, err = playlist.EncodeOutput()
		if err == nil {
			if err := p.store.CompleteRender(wctx, final.ID, models.ProviderPlaylist, output, playlist.TotalDurationSeconds); err != nil {
				return nil, err
			}
			if err := p.store.UpdateProjectStatus(wctx, projectID, models.ProjectStatusComplete); err != nil {
				return nil, err
			}
			finalized = true

			resp.Status = models.RenderStatusDone
			resp.ProjectStatus = models.ProjectStatusComplete
			resp.Mode = models.RenderModePlaylist
			resp.Playlist = playlist
			resp.DurationSeconds = playlist.TotalDurationSeconds
			return resp, nil
		}
	}

	msg := fmt.Sprintf("playlist fallback failed: %v (encoder: %v)", err, primaryErr)
	if ferr := p.store.FailRender(wctx, final.ID, msg); ferr != nil {
		return nil, ferr
	}
	p.markProject(wctx, projectID, models.ProjectStatusFailed)
	finalized = true

	resp.Status = models.RenderStatusFailed
	resp.ProjectStatus = models.ProjectStatusFailed
	resp.Error = msg
	return resp, fmt.Errorf("%w: %s", ErrRenderFailed, msg)
}

// encodeExport downloads the ordered clips into a scratch directory, joins
// them with the encoder and uploads the result to the exports bucket.
func (p *Pipeline) encodeExport(ctx context.Context, projectID, renderID uuid.UUID, clips []OrderedClip) (*encodedExport, error) {
	if p.encoder == nil {
		return nil, errors.New("no encoder configured")
	}
	enc, err := p.encoder()
	if err != nil {
		return nil, err
	}

	for _, c := range clips {
		if c.Render.OutputPath == nil || *c.Render.OutputPath == "" {
			return nil, fmt.Errorf("clip %s has no output", c.Render.ID)
		}
	}

	dir, err := os.MkdirTemp(p.opts.ScratchDir, "render-"+renderID.String()+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.DownloadConcurrency)
	for i, c := range clips {
		g.Go(func() error {
			data, err := p.objects.Download(gctx, p.opts.ClipsBucket, *c.Render.OutputPath)
			if err != nil {
				return fmt.Errorf("failed to download clip %s: %w", c.Render.ID, err)
			}
			local := filepath.Join(dir, fmt.Sprintf("clip_%03d.mp4", i))
			if err := os.WriteFile(local, data, 0o644); err != nil {
				return fmt.Errorf("failed to write clip %s: %w", c.Render.ID, err)
			}
			paths[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	output := filepath.Join(dir, "final.mp4")

	encCtx, cancel := context.WithTimeout(ctx, p.opts.EncoderTimeout)
	defer cancel()

	if err := enc.ConcatenateClips(encCtx, paths, output); err != nil {
		return nil, err
	}

	info, err := os.Stat(output)
	if err != nil {
		return nil, fmt.Errorf("encoder output missing: %w", err)
	}
	if info.Size() == 0 {
		return nil, errors.New("encoder output is empty")
	}

	duration, err := enc.GetVideoDuration(encCtx, output)
	if err != nil {
		log.Printf("[Render] Probe failed, summing clip durations: %v", err)
		duration = sumDurations(clips)
	}

	objectPath := storage.ObjectPath(projectID.String(), renderID.String()+".mp4")
	if err := p.objects.UploadFile(ctx, p.opts.ExportsBucket, objectPath, output, "video/mp4"); err != nil {
		return nil, err
	}

	log.Printf("[Render] Uploaded export %s (%s, %.1fs)", objectPath, humanize.Bytes(uint64(info.Size())), duration)
	return &encodedExport{objectPath: objectPath, duration: duration, sizeBytes: info.Size()}, nil
}

// failProject marks the project failed after a fatal error that happened
// before the final render row existed.
func (p *Pipeline) failProject(ctx context.Context, projectID uuid.UUID) {
	fctx, cancel := detached(ctx)
	defer cancel()
	p.markProject(fctx, projectID, models.ProjectStatusFailed)
}

// buildPlaylist turns ordered clips into the playlist payload. Every clip must
// have a stored output.
func (p *Pipeline) buildPlaylist(clips []OrderedClip) (*models.Playlist, error) {
	items := make([]models.PlaylistClip, 0, len(clips))
	for _, c := range clips {
		if c.Render.OutputPath == nil || *c.Render.OutputPath == "" {
			return nil, fmt.Errorf("clip %s has no output to link", c.Render.ID)
		}
		item := models.PlaylistClip{
			RenderID:   c.Render.ID,
			SceneID:    c.SceneID,
			SceneOrder: c.SceneOrder,
			URL:        p.objects.PublicURL(p.opts.ClipsBucket, *c.Render.OutputPath),
		}
		if c.Render.DurationSeconds != nil {
			item.DurationSeconds = *c.Render.DurationSeconds
		}
		items = append(items, item)
	}
	return models.NewPlaylist(items), nil
}

func sumDurations(clips []OrderedClip) float64 {
	var total float64
	for _, c := range clips {
		if c.Render.DurationSeconds != nil {
			total += *c.Render.DurationSeconds
		}
	}
	return total
}

// LatestRender describes the most recent final export of the project.
func (p *Pipeline) LatestRender(ctx context.Context, userID, projectID uuid.UUID) (*models.RenderResponse, error) {
	project, err := p.store.GetOwnedProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	render, err := p.store.LatestFinalRender(ctx, projectID)
	if err != nil {
		return nil, err
	}

	resp := &models.RenderResponse{
		RenderID:      render.ID,
		ProjectID:     projectID,
		Type:          render.Type,
		Status:        render.Status,
		ProjectStatus: project.Status,
	}
	if render.DurationSeconds != nil {
		resp.DurationSeconds = *render.DurationSeconds
	}
	if render.ErrorMessage != nil {
		resp.Error = *render.ErrorMessage
	}
	if render.OutputPath == nil || render.Status != models.RenderStatusDone {
		return resp, nil
	}

	playlist, isPlaylist, err := models.ParsePlaylistOutput(*render.OutputPath)
	if isPlaylist {
		if err != nil {
			return nil, err
		}
		resp.Mode = models.RenderModePlaylist
		resp.Playlist = playlist
		return resp, nil
	}

	resp.Mode = models.RenderModeFile
	url, err := p.objects.SignedURL(ctx, p.opts.ExportsBucket, *render.OutputPath, p.opts.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign export url: %w", err)
	}
	resp.OutputURL = &url
	return resp, nil
}
