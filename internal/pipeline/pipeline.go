package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/google/uuid"
)

var (
	ErrNoIncludedScenes     = errors.New("project has no included scenes")
	ErrNoCompletedClips     = errors.New("project has no completed clips")
	ErrInvalidFormat        = errors.New("format must be 16:9 or 9:16")
	ErrMissingJobID         = errors.New("job_id is required")
	ErrAllSubmissionsFailed = errors.New("no clip job could be submitted")
	ErrRenderFailed         = errors.New("final render failed")
)

// Store is the slice of the database the pipeline needs.
type Store interface {
	GetOwnedProject(ctx context.Context, id, userID uuid.UUID) (*models.Project, error)
	UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error
	ListIncludedScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error)
	ListScenes(ctx context.Context, projectID uuid.UUID) ([]models.StoryboardScene, error)
	GetAssets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Asset, error)
	CreateRender(ctx context.Context, render *models.Render) error
	ListRenders(ctx context.Context, projectID uuid.UUID, renderType models.RenderType, status models.RenderStatus) ([]models.Render, error)
	LatestFinalRender(ctx context.Context, projectID uuid.UUID) (*models.Render, error)
	CompleteRender(ctx context.Context, id uuid.UUID, provider, outputPath string, durationSeconds float64) error
	FailRender(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// ObjectStore is the bucket storage used for photos, clips and exports.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error
	UploadFile(ctx context.Context, bucket, objectPath, localPath, contentType string) error
	Download(ctx context.Context, bucket, objectPath string) ([]byte, error)
	DownloadURL(ctx context.Context, rawURL string) ([]byte, error)
	SignedURL(ctx context.Context, bucket, objectPath string, expiresIn int) (string, error)
	PublicURL(bucket, objectPath string) string
}

type MusicProvider interface {
	Submit(ctx context.Context, prompt string, durationSec int) (*services.MusicResult, error)
	Status(ctx context.Context, jobID string) (*services.MusicResult, error)
}

type MusicRegistry interface {
	RegisterMusicJob(ctx context.Context, job *cache.MusicJob) error
	GetMusicJob(ctx context.Context, jobID string) (*cache.MusicJob, error)
}

// Locker guards one final render per project at a time.
type Locker interface {
	Acquire(ctx context.Context, projectID uuid.UUID, ttl time.Duration) (func(), error)
}

type Encoder interface {
	ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error
	GetVideoDuration(ctx context.Context, videoPath string) (float64, error)
}

// EncoderFactory resolves the encoder at render time. It returns
// services.ErrEncoderUnavailable when no binary exists.
type EncoderFactory func() (Encoder, error)

type Deps struct {
	Store   Store
	Objects ObjectStore
	Video   services.VideoProvider
	// Pollers are additional providers consulted when syncing renders that
	// were submitted under a previous VIDEO_PROVIDER setting.
	Pollers  []services.VideoProvider
	Music    MusicProvider
	Registry MusicRegistry // optional
	Locker   Locker        // optional
	Encoder  EncoderFactory
}

type Options struct {
	PhotosBucket        string
	ClipsBucket         string
	ExportsBucket       string
	SignedURLTTL        int
	ClipDurationSec     int
	MusicJobTTL         time.Duration
	RenderTimeout       time.Duration
	EncoderTimeout      time.Duration
	ScratchDir          string
	DownloadConcurrency int
}

// Pipeline runs the request-scoped orchestration behind the project routes.
type Pipeline struct {
	store     Store
	objects   ObjectStore
	video     services.VideoProvider
	providers map[string]services.VideoProvider
	music     MusicProvider
	registry  MusicRegistry
	locker    Locker
	encoder   EncoderFactory
	opts      Options
	now       func() time.Time
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 4
	}
	if opts.ClipDurationSec <= 0 {
		opts.ClipDurationSec = 5
	}

	providers := make(map[string]services.VideoProvider)
	for _, p := range deps.Pollers {
		if p != nil {
			providers[p.Name()] = p
		}
	}
	if deps.Video != nil {
		providers[deps.Video.Name()] = deps.Video
	}

	return &Pipeline{
		store:     deps.Store,
		objects:   deps.Objects,
		video:     deps.Video,
		providers: providers,
		music:     deps.Music,
		registry:  deps.Registry,
		locker:    deps.Locker,
		encoder:   deps.Encoder,
		opts:      opts,
		now:       time.Now,
	}
}

// detached returns a short-lived context that survives cancellation of ctx,
// used for bookkeeping writes after a deadline has passed.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
}

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}
