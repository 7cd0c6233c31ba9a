package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type ProjectStatus string

const (
	ProjectStatusCreated         ProjectStatus = "created"
	ProjectStatusClipsQueued     ProjectStatus = "clips_queued"
	ProjectStatusClipsGenerating ProjectStatus = "clips_generating"
	ProjectStatusComplete        ProjectStatus = "complete"
	ProjectStatusFailed          ProjectStatus = "failed"
)

type VideoFormat string

const (
	VideoFormatHorizontal VideoFormat = "16:9"
	VideoFormatVertical   VideoFormat = "9:16"
)

// Valid reports whether f is one of the two supported aspect ratios.
func (f VideoFormat) Valid() bool {
	return f == VideoFormatHorizontal || f == VideoFormatVertical
}

// FinalRenderType maps a video format to the render type of its final export.
func (f VideoFormat) FinalRenderType() RenderType {
	if f == VideoFormatHorizontal {
		return RenderTypeFinalHorizontal
	}
	return RenderTypeFinalVertical
}

type RenderType string

const (
	RenderTypeSceneClip       RenderType = "scene_clip"
	RenderTypeFinalVertical   RenderType = "final_vertical"
	RenderTypeFinalHorizontal RenderType = "final_horizontal"
)

type RenderStatus string

const (
	RenderStatusQueued  RenderStatus = "queued"
	RenderStatusRunning RenderStatus = "running"
	RenderStatusDone    RenderStatus = "done"
	RenderStatusFailed  RenderStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s RenderStatus) Terminal() bool {
	return s == RenderStatusDone || s == RenderStatusFailed
}

const (
	ProviderFal      = "fal"
	ProviderKling    = "kling"
	ProviderVeo      = "veo"
	ProviderEncoder  = "ffmpeg"
	ProviderPlaylist = "playlist"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return json.Unmarshal(raw, j)
}

// String returns the string value stored under key, or "" when absent.
func (j JSONB) String(key string) string {
	if j == nil {
		return ""
	}
	if s, ok := j[key].(string); ok {
		return s
	}
	return ""
}

// Models

type Project struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	Title       string        `json:"title"`
	Status      ProjectStatus `json:"status"`
	VideoFormat VideoFormat   `json:"video_format"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type StoryboardScene struct {
	ID             uuid.UUID `json:"id"`
	ProjectID      uuid.UUID `json:"project_id"`
	AssetID        uuid.UUID `json:"asset_id"`
	SceneOrder     int       `json:"scene_order"`
	Include        bool      `json:"include"`
	MotionTemplate string    `json:"motion_template"`
}

type Asset struct {
	ID          uuid.UUID `json:"id"`
	StoragePath string    `json:"storage_path"`
}

type Render struct {
	ID              uuid.UUID    `json:"id"`
	ProjectID       uuid.UUID    `json:"project_id"`
	Type            RenderType   `json:"type"`
	Status          RenderStatus `json:"status"`
	Provider        string       `json:"provider"`
	ProviderJobID   *string      `json:"provider_job_id,omitempty"`
	InputRefs       JSONB        `json:"input_refs,omitempty"`
	OutputPath      *string      `json:"output_path,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	ErrorMessage    *string      `json:"error_message,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SceneID returns the originating scene recorded in the render's input refs.
func (r Render) SceneID() (uuid.UUID, bool) {
	raw := r.InputRefs.String("scene_id")
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// DTOs for API requests and responses

type SubmitClipsRequest struct {
	AspectRatio *string `json:"aspect_ratio,omitempty"`
}

type ClipSubmission struct {
	SceneID       uuid.UUID `json:"scene_id"`
	SceneOrder    int       `json:"scene_order"`
	RenderID      uuid.UUID `json:"render_id"`
	ProviderJobID string    `json:"provider_job_id"`
}

type SceneError struct {
	SceneID    uuid.UUID `json:"scene_id"`
	SceneOrder int       `json:"scene_order"`
	Error      string    `json:"error"`
}

type SubmitClipsResponse struct {
	ProjectID uuid.UUID        `json:"project_id"`
	Status    ProjectStatus    `json:"status"`
	Submitted []ClipSubmission `json:"submitted"`
	Errors    []SceneError     `json:"errors"`
}

type ClipState struct {
	Render
	VideoURL *string `json:"video_url,omitempty"`
}

type ClipStatusResponse struct {
	ProjectID uuid.UUID   `json:"project_id"`
	Clips     []ClipState `json:"clips"`
	Pending   int         `json:"pending"`
	Done      int         `json:"done"`
	Failed    int         `json:"failed"`
}

type MusicRequest struct {
	Genre           string `json:"genre"`
	DurationSeconds int    `json:"duration_seconds"`
}

type MusicStatus string

const (
	MusicStatusPending   MusicStatus = "pending"
	MusicStatusCompleted MusicStatus = "completed"
	MusicStatusFailed    MusicStatus = "failed"
)

type MusicResponse struct {
	Status          MusicStatus `json:"status"`
	JobID           string      `json:"job_id,omitempty"`
	AudioURL        string      `json:"audio_url,omitempty"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
	Error           string      `json:"error,omitempty"`
}

type RenderRequest struct {
	Format *VideoFormat `json:"format,omitempty"`
}

type RenderMode string

const (
	RenderModeFile     RenderMode = "file"
	RenderModePlaylist RenderMode = "playlist"
)

type RenderResponse struct {
	RenderID        uuid.UUID     `json:"render_id"`
	ProjectID       uuid.UUID     `json:"project_id"`
	Type            RenderType    `json:"type"`
	Status          RenderStatus  `json:"status"`
	ProjectStatus   ProjectStatus `json:"project_status"`
	Mode            RenderMode    `json:"mode,omitempty"`
	OutputURL       *string       `json:"output_url,omitempty"`
	Playlist        *Playlist     `json:"playlist,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
	SizeBytes       int64         `json:"size_bytes,omitempty"`
	Size            string        `json:"size,omitempty"`
	FallbackReason  string        `json:"fallback_reason,omitempty"`
	Error           string        `json:"error,omitempty"`
}
