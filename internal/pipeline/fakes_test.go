package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// fakeStore
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu            sync.Mutex
	projects      map[uuid.UUID]*models.Project
	scenes        []models.StoryboardScene
	assets        map[uuid.UUID]models.Asset
	renders       []models.Render
	statusHistory []models.ProjectStatus
	completeErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[uuid.UUID]*models.Project),
		assets:   make(map[uuid.UUID]models.Asset),
	}
}

func (s *fakeStore) addProject(userID uuid.UUID, format models.VideoFormat) *models.Project {
	p := &models.Project{ID: uuid.New(), UserID: userID, Title: "12 Elm St", Status: models.ProjectStatusCreated, VideoFormat: format}
	s.projects[p.ID] = p
	return p
}

func (s *fakeStore) addScene(projectID uuid.UUID, order int, include bool, motion string) models.StoryboardScene {
	asset := models.Asset{ID: uuid.New(), StoragePath: fmt.Sprintf("%s/photo-%d.jpg", projectID, order)}
	s.assets[asset.ID] = asset
	scene := models.StoryboardScene{ID: uuid.New(), ProjectID: projectID, AssetID: asset.ID, SceneOrder: order, Include: include, MotionTemplate: motion}
	s.scenes = append(s.scenes, scene)
	return scene
}

// addDoneClip stores a completed scene clip. A nil scene leaves scene_id unset.
func (s *fakeStore) addDoneClip(projectID uuid.UUID, scene *models.StoryboardScene, created time.Time, duration float64) models.Render {
	refs := models.JSONB{}
	if scene != nil {
		refs["scene_id"] = scene.ID.String()
	}
	id := uuid.New()
	out := fmt.Sprintf("%s/%s.mp4", projectID, id)
	r := models.Render{
		ID: id, ProjectID: projectID, Type: models.RenderTypeSceneClip, Status: models.RenderStatusDone,
		Provider: "fal", ProviderJobID: strPtr("job-" + id.String()), InputRefs: refs,
		OutputPath: &out, DurationSeconds: &duration, CreatedAt: created,
	}
	s.renders = append(s.renders, r)
	return r
}

func (s *fakeStore) GetOwnedProject(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return nil, fmt.Errorf("project %s: %w", id, db.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id].Status = status
	s.statusHistory = append(s.statusHistory, status)
	return nil
}

func (s *fakeStore) ListIncludedScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error) {
	var out []models.StoryboardScene
	for _, sc := range s.scenes {
		if sc.ProjectID == projectID && sc.Include {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *fakeStore) ListScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error) {
	var out []models.StoryboardScene
	for _, sc := range s.scenes {
		if sc.ProjectID == projectID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *fakeStore) GetAssets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Asset, error) {
	out := make(map[uuid.UUID]models.Asset)
	for _, id := range ids {
		if a, ok := s.assets[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (s *fakeStore) CreateRender(ctx context.Context, render *models.Render) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	render.CreatedAt = time.Now()
	render.UpdatedAt = render.CreatedAt
	s.renders = append(s.renders, *render)
	return nil
}

func (s *fakeStore) ListRenders(ctx context.Context, projectID uuid.UUID, renderType models.RenderType, status models.RenderStatus) ([]models.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Render
	for _, r := range s.renders {
		if r.ProjectID == projectID && r.Type == renderType && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) LatestFinalRender(ctx context.Context, projectID uuid.UUID) (*models.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.renders) - 1; i >= 0; i-- {
		r := s.renders[i]
		if r.ProjectID == projectID && r.Type != models.RenderTypeSceneClip {
			return &r, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) CompleteRender(ctx context.Context, id uuid.UUID, provider, outputPath string, durationSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	r := s.find(id)
	r.Status = models.RenderStatusDone
	r.Provider = provider
	r.OutputPath = &outputPath
	r.DurationSeconds = &durationSeconds
	return nil
}

func (s *fakeStore) FailRender(ctx context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	r.Status = models.RenderStatusFailed
	r.ErrorMessage = &errorMessage
	return nil
}

func (s *fakeStore) find(id uuid.UUID) *models.Render {
	for i := range s.renders {
		if s.renders[i].ID == id {
			return &s.renders[i]
		}
	}
	panic("render not found: " + id.String())
}

func (s *fakeStore) rendersOfType(t models.RenderType) []models.Render {
	var out []models.Render
	for _, r := range s.renders {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// scenesDownStore fails every scene lookup.
type scenesDownStore struct {
	*fakeStore
	err error
}

func (s *scenesDownStore) ListScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error) {
	return nil, s.err
}

// ---------------------------------------------------------------------------
// fakeObjects
// ---------------------------------------------------------------------------

type fakeObjects struct {
	mu          sync.Mutex
	objects     map[string][]byte
	remote      map[string][]byte
	downloadErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte), remote: make(map[string][]byte)}
}

func (o *fakeObjects) key(bucket, objectPath string) string { return bucket + "/" + objectPath }

func (o *fakeObjects) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[o.key(bucket, objectPath)] = data
	return nil
}

func (o *fakeObjects) UploadFile(ctx context.Context, bucket, objectPath, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return o.Upload(ctx, bucket, objectPath, data, contentType)
}

func (o *fakeObjects) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.downloadErr != nil {
		return nil, o.downloadErr
	}
	data, ok := o.objects[o.key(bucket, objectPath)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectPath)
	}
	return data, nil
}

func (o *fakeObjects) DownloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.remote[rawURL]
	if !ok {
		return nil, fmt.Errorf("url %s not found", rawURL)
	}
	return data, nil
}

func (o *fakeObjects) SignedURL(ctx context.Context, bucket, objectPath string, expiresIn int) (string, error) {
	return "https://signed/" + bucket + "/" + objectPath, nil
}

func (o *fakeObjects) PublicURL(bucket, objectPath string) string {
	return "https://public/" + bucket + "/" + objectPath
}

// ---------------------------------------------------------------------------
// fakeVideo
// ---------------------------------------------------------------------------

type fakeVideo struct {
	mu       sync.Mutex
	name     string
	n        int
	failURLs map[string]bool
	requests []services.ClipRequest
	results  map[string]*services.ClipResult
}

func newFakeVideo() *fakeVideo {
	return &fakeVideo{name: "fal", failURLs: map[string]bool{}, results: map[string]*services.ClipResult{}}
}

func (v *fakeVideo) Name() string { return v.name }

func (v *fakeVideo) ClipDuration(requested int) int {
	if requested > 5 {
		return 10
	}
	return 5
}

func (v *fakeVideo) SubmitClip(ctx context.Context, req services.ClipRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	if v.failURLs[req.ImageURL] {
		return "", errors.New("provider rejected image")
	}
	v.n++
	return fmt.Sprintf("job-%d", v.n), nil
}

func (v *fakeVideo) ClipStatus(ctx context.Context, jobID string) (*services.ClipResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if res, ok := v.results[jobID]; ok {
		return res, nil
	}
	return &services.ClipResult{State: services.JobStatePending}, nil
}

// ---------------------------------------------------------------------------
// fakeMusic / fakeRegistry
// ---------------------------------------------------------------------------

type fakeMusic struct {
	lastDuration int
	lastPrompt   string
	sync         bool
	status       *services.MusicResult
	statusErr    error
}

func (m *fakeMusic) Submit(ctx context.Context, prompt string, durationSec int) (*services.MusicResult, error) {
	m.lastPrompt = prompt
	m.lastDuration = durationSec
	if m.sync {
		return &services.MusicResult{State: services.JobStateCompleted, AudioURL: "https://audio/now.wav"}, nil
	}
	return &services.MusicResult{State: services.JobStatePending, JobID: "music-1"}, nil
}

func (m *fakeMusic) Status(ctx context.Context, jobID string) (*services.MusicResult, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.status != nil {
		return m.status, nil
	}
	return &services.MusicResult{State: services.JobStatePending, JobID: jobID}, nil
}

type fakeRegistry struct {
	jobs map[string]*cache.MusicJob
}

func (r *fakeRegistry) RegisterMusicJob(ctx context.Context, job *cache.MusicJob) error {
	r.jobs[job.JobID] = job
	return nil
}

func (r *fakeRegistry) GetMusicJob(ctx context.Context, jobID string) (*cache.MusicJob, error) {
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, cache.ErrJobNotFound
	}
	return job, nil
}

// ---------------------------------------------------------------------------
// fakeEncoder / fakeLocker
// ---------------------------------------------------------------------------

// fakeEncoder joins the input files' contents with "|" so tests can check order.
// With hang set it blocks until its context is done.
type fakeEncoder struct {
	concatErr error
	probeErr  error
	hang      bool
	inputs    []string
}

func (e *fakeEncoder) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if e.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if e.concatErr != nil {
		return e.concatErr
	}
	var parts []string
	for _, p := range clipPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		parts = append(parts, string(data))
	}
	e.inputs = clipPaths
	return os.WriteFile(outputPath, []byte(strings.Join(parts, "|")), 0o644)
}

func (e *fakeEncoder) GetVideoDuration(ctx context.Context, videoPath string) (float64, error) {
	if e.probeErr != nil {
		return 0, e.probeErr
	}
	return 12.5, nil
}

type fakeLocker struct {
	held map[uuid.UUID]bool
}

func (l *fakeLocker) Acquire(ctx context.Context, projectID uuid.UUID, ttl time.Duration) (func(), error) {
	if l.held[projectID] {
		return nil, cache.ErrLocked
	}
	l.held[projectID] = true
	return func() { delete(l.held, projectID) }, nil
}
