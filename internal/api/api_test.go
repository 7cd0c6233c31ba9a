package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bobarin/listingreel/internal/auth"
	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/pipeline"
	"github.com/google/uuid"
)

type stubAuth struct {
	user uuid.UUID
}

func (a stubAuth) Authenticate(r *http.Request) (uuid.UUID, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return uuid.Nil, auth.ErrUnauthorized
	}
	return a.user, nil
}

// stubProjects records calls and returns canned results.
type stubProjects struct {
	err error

	gotUser    uuid.UUID
	gotProject uuid.UUID
	gotJobID   string
	gotMusic   models.MusicRequest
	gotRender  models.RenderRequest

	clips  *models.SubmitClipsResponse
	music  *models.MusicResponse
	render *models.RenderResponse
}

func (s *stubProjects) SubmitClips(ctx context.Context, userID, projectID uuid.UUID, req models.SubmitClipsRequest) (*models.SubmitClipsResponse, error) {
	s.gotUser, s.gotProject = userID, projectID
	return s.clips, s.err
}

func (s *stubProjects) SyncClips(ctx context.Context, userID, projectID uuid.UUID) (*models.ClipStatusResponse, error) {
	s.gotUser, s.gotProject = userID, projectID
	if s.err != nil {
		return nil, s.err
	}
	return &models.ClipStatusResponse{ProjectID: projectID, Pending: 2}, nil
}

func (s *stubProjects) SubmitMusic(ctx context.Context, userID, projectID uuid.UUID, req models.MusicRequest) (*models.MusicResponse, error) {
	s.gotMusic = req
	return s.music, s.err
}

func (s *stubProjects) MusicStatus(ctx context.Context, userID, projectID uuid.UUID, jobID string) (*models.MusicResponse, error) {
	s.gotJobID = jobID
	if jobID == "" {
		return nil, pipeline.ErrMissingJobID
	}
	return s.music, s.err
}

func (s *stubProjects) RenderFinal(ctx context.Context, userID, projectID uuid.UUID, req models.RenderRequest) (*models.RenderResponse, error) {
	s.gotRender = req
	return s.render, s.err
}

func (s *stubProjects) LatestRender(ctx context.Context, userID, projectID uuid.UUID) (*models.RenderResponse, error) {
	return s.render, s.err
}

func newTestServer(t *testing.T, projects *stubProjects, checks map[string]HealthCheck) (*httptest.Server, uuid.UUID) {
	t.Helper()
	user := uuid.New()
	router := NewRouter(NewHandler(projects, checks), RouterConfig{Auth: stubAuth{user: user}})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, user
}

func do(t *testing.T, method, url, body string, authorized bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer good")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubProjects{}, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
	})

	resp := do(t, http.MethodGet, srv.URL+"/health", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["database"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	srv, _ := newTestServer(t, &stubProjects{}, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	resp := do(t, http.MethodGet, srv.URL+"/health", "", false)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRoutesRequireSession(t *testing.T) {
	projects := &stubProjects{}
	srv, _ := newTestServer(t, projects, nil)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/clips"},
		{http.MethodGet, "/clips"},
		{http.MethodPost, "/music"},
		{http.MethodGet, "/music"},
		{http.MethodPost, "/render"},
		{http.MethodGet, "/render"},
	}
	for _, rt := range routes {
		resp := do(t, rt.method, srv.URL+"/api/projects/"+uuid.NewString()+rt.path, "", false)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", rt.method, rt.path, resp.StatusCode)
		}
	}
	if projects.gotUser != uuid.Nil {
		t.Error("pipeline should not be reached without a session")
	}
}

func TestInvalidProjectID(t *testing.T) {
	srv, _ := newTestServer(t, &stubProjects{}, nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/projects/not-a-uuid/clips", "", true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitClipsPassesScope(t *testing.T) {
	projectID := uuid.New()
	projects := &stubProjects{clips: &models.SubmitClipsResponse{ProjectID: projectID, Status: models.ProjectStatusClipsGenerating}}
	srv, user := newTestServer(t, projects, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/projects/"+projectID.String()+"/clips", "", true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if projects.gotUser != user || projects.gotProject != projectID {
		t.Errorf("unexpected scope user=%s project=%s", projects.gotUser, projects.gotProject)
	}
}

func TestSubmitClipsAllFailedReturnsErrors(t *testing.T) {
	projects := &stubProjects{
		err: pipeline.ErrAllSubmissionsFailed,
		clips: &models.SubmitClipsResponse{
			Status: models.ProjectStatusFailed,
			Errors: []models.SceneError{{SceneOrder: 1, Error: "provider rejected image"}},
		},
	}
	srv, _ := newTestServer(t, projects, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/projects/"+uuid.NewString()+"/clips", "{}", true)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	var body models.SubmitClipsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Errors) != 1 || body.Errors[0].Error != "provider rejected image" {
		t.Errorf("expected per-scene errors in body, got %+v", body.Errors)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("project x: %w", db.ErrNotFound), http.StatusNotFound},
		{"no scenes", pipeline.ErrNoIncludedScenes, http.StatusBadRequest},
		{"no clips", pipeline.ErrNoCompletedClips, http.StatusBadRequest},
		{"bad format", pipeline.ErrInvalidFormat, http.StatusBadRequest},
		{"locked", cache.ErrLocked, http.StatusConflict},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubProjects{err: tt.err}, nil)
			resp := do(t, http.MethodPost, srv.URL+"/api/projects/"+uuid.NewString()+"/render", "", true)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRenderFailureReturnsBody(t *testing.T) {
	projects := &stubProjects{
		err:    fmt.Errorf("%w: clip has no output", pipeline.ErrRenderFailed),
		render: &models.RenderResponse{Status: models.RenderStatusFailed, Error: "clip has no output"},
	}
	srv, _ := newTestServer(t, projects, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/projects/"+uuid.NewString()+"/render", `{"format":"9:16"}`, true)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body models.RenderResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != models.RenderStatusFailed || body.Error == "" {
		t.Errorf("expected failed render in body, got %+v", body)
	}
	if projects.gotRender.Format == nil || *projects.gotRender.Format != models.VideoFormatVertical {
		t.Errorf("format not decoded: %v", projects.gotRender.Format)
	}
}

func TestRenderBadBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubProjects{}, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/projects/"+uuid.NewString()+"/render", `{"format":`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMusicRoutes(t *testing.T) {
	projects := &stubProjects{music: &models.MusicResponse{Status: models.MusicStatusPending, JobID: "req-1", DurationSeconds: 15}}
	srv, _ := newTestServer(t, projects, nil)
	base := srv.URL + "/api/projects/" + uuid.NewString() + "/music"

	resp := do(t, http.MethodPost, base, `{"genre":"jazz","duration_seconds":5}`, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for pending job, got %d", resp.StatusCode)
	}
	if projects.gotMusic.Genre != "jazz" || projects.gotMusic.DurationSeconds != 5 {
		t.Errorf("unexpected decoded request %+v", projects.gotMusic)
	}

	resp = do(t, http.MethodGet, base, "", true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without job_id, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, base+"?job_id=req-1", "", true)
	if resp.StatusCode != http.StatusOK || projects.gotJobID != "req-1" {
		t.Fatalf("expected 200 for req-1, got %d (%q)", resp.StatusCode, projects.gotJobID)
	}

	projects.music = &models.MusicResponse{Status: models.MusicStatusCompleted, AudioURL: "https://cdn/a.wav"}
	resp = do(t, http.MethodPost, base, "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for synchronous result, got %d", resp.StatusCode)
	}
}

func TestSyncClips(t *testing.T) {
	srv, _ := newTestServer(t, &stubProjects{}, nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/projects/"+uuid.NewString()+"/clips", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body models.ClipStatusResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Pending != 2 {
		t.Errorf("expected 2 pending, got %d", body.Pending)
	}
}

func TestAllowedOrigins(t *testing.T) {
	if got := allowedOrigins(""); len(got) != 1 || got[0] != "*" {
		t.Errorf("empty config should allow all, got %v", got)
	}
	got := allowedOrigins(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", got)
	}
}
