package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bobarin/listingreel/internal/auth"
	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Projects is the pipeline surface the handlers drive.
type Projects interface {
	SubmitClips(ctx context.Context, userID, projectID uuid.UUID, req models.SubmitClipsRequest) (*models.SubmitClipsResponse, error)
	SyncClips(ctx context.Context, userID, projectID uuid.UUID) (*models.ClipStatusResponse, error)
	SubmitMusic(ctx context.Context, userID, projectID uuid.UUID, req models.MusicRequest) (*models.MusicResponse, error)
	MusicStatus(ctx context.Context, userID, projectID uuid.UUID, jobID string) (*models.MusicResponse, error)
	RenderFinal(ctx context.Context, userID, projectID uuid.UUID, req models.RenderRequest) (*models.RenderResponse, error)
	LatestRender(ctx context.Context, userID, projectID uuid.UUID) (*models.RenderResponse, error)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	projects Projects
	checks   map[string]HealthCheck
}

func NewHandler(projects Projects, checks map[string]HealthCheck) *Handler {
	return &Handler{
		projects: projects,
		checks:   checks,
	}
}

// SubmitClips handles POST /api/projects/{id}/clips
func (h *Handler) SubmitClips(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req models.SubmitClipsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.projects.SubmitClips(r.Context(), userID, projectID, req)
	if err != nil {
		if errors.Is(err, pipeline.ErrAllSubmissionsFailed) && resp != nil {
			respondJSON(w, http.StatusBadGateway, resp)
			return
		}
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, resp)
}

// SyncClips handles GET /api/projects/{id}/clips
func (h *Handler) SyncClips(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.scope(w, r)
	if !ok {
		return
	}

	resp, err := h.projects.SyncClips(r.Context(), userID, projectID)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// SubmitMusic handles POST /api/projects/{id}/music
func (h *Handler) SubmitMusic(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req models.MusicRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.projects.SubmitMusic(r.Context(), userID, projectID, req)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	status := http.StatusAccepted
	if resp.Status == models.MusicStatusCompleted {
		status = http.StatusOK
	}
	respondJSON(w, status, resp)
}

// MusicStatus handles GET /api/projects/{id}/music?job_id=
func (h *Handler) MusicStatus(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.scope(w, r)
	if !ok {
		return
	}

	resp, err := h.projects.MusicStatus(r.Context(), userID, projectID, r.URL.Query().Get("job_id"))
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// RenderFinal handles POST /api/projects/{id}/render
func (h *Handler) RenderFinal(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req models.RenderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.projects.RenderFinal(r.Context(), userID, projectID, req)
	if err != nil {
		if errors.Is(err, pipeline.ErrRenderFailed) && resp != nil {
			respondJSON(w, http.StatusInternalServerError, resp)
			return
		}
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// LatestRender handles GET /api/projects/{id}/render
func (h *Handler) LatestRender(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.scope(w, r)
	if !ok {
		return
	}

	resp, err := h.projects.LatestRender(r.Context(), userID, projectID)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Health check. Every registered dependency is pinged; any failure is a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	body := map[string]string{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			body[name] = err.Error()
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}

	respondJSON(w, status, body)
}

// scope resolves the session user and the {id} project parameter.
func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return uuid.Nil, uuid.Nil, false
	}

	return userID, projectID, true
}

// decodeBody reads an optional JSON body; an empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondPipelineError maps pipeline and store errors onto HTTP statuses.
func respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, pipeline.ErrNoIncludedScenes),
		errors.Is(err, pipeline.ErrNoCompletedClips),
		errors.Is(err, pipeline.ErrInvalidFormat),
		errors.Is(err, pipeline.ErrMissingJobID):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cache.ErrLocked):
		respondError(w, http.StatusConflict, "A render is already running for this project")
	case errors.Is(err, pipeline.ErrAllSubmissionsFailed):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("[API] Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
