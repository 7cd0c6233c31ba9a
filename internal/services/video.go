package services

import (
	"context"
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// VideoProvider: common interface for image-to-video providers
// fal, Kling and Veo all expose a submit / status / result triplet; the
// pipeline stores the returned job id on the render row and polls later.
// ---------------------------------------------------------------------------

// JobState is the provider-neutral state of an asynchronous generation job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// ClipRequest describes one image-to-video submission.
type ClipRequest struct {
	ImageURL    string // time-limited signed URL of the listing photo
	Prompt      string
	AspectRatio string // "16:9" or "9:16"
	DurationSec int
}

// ClipResult is the outcome of a status query.
// Exactly one of VideoURL / VideoData is set when State is completed.
type ClipResult struct {
	State           JobState
	VideoURL        string
	VideoData       []byte
	DurationSeconds float64
	Error           string
}

// VideoProvider is implemented by every image-to-video backend.
type VideoProvider interface {
	Name() string
	// ClipDuration is the clip length in seconds the provider will actually
	// produce for a requested length.
	ClipDuration(requested int) int
	SubmitClip(ctx context.Context, req ClipRequest) (string, error)
	ClipStatus(ctx context.Context, jobID string) (*ClipResult, error)
}

// ---------------------------------------------------------------------------
// Motion templates: static prompt table keyed by storyboard motion_template
// ---------------------------------------------------------------------------

const DefaultMotionTemplate = "slow_push_in"

const motionSuffix = "Photorealistic real-estate footage, steady gimbal camera, natural daylight, " +
	"no people, no text overlays, architecture stays straight and undistorted."

var motionPrompts = map[string]string{
	"slow_push_in":    "Slow, smooth dolly push-in toward the center of the room, revealing depth and detail.",
	"slow_pull_out":   "Slow dolly pull-back that gradually reveals the full space.",
	"pan_left":        "Gentle horizontal pan from right to left across the space.",
	"pan_right":       "Gentle horizontal pan from left to right across the space.",
	"tilt_up":         "Slow upward tilt from the floor line to the ceiling, emphasizing height.",
	"orbit":           "Subtle orbit around the focal point of the room with slight parallax.",
	"drone_rise":      "Aerial drone shot rising slowly above the property, revealing the surroundings.",
	"static_parallax": "Nearly static camera with soft parallax, light gently shifting across surfaces.",
}

// MotionPrompt returns the generation prompt for a motion template.
// Unknown or empty templates fall back to DefaultMotionTemplate.
func MotionPrompt(template string) string {
	base, ok := motionPrompts[template]
	if !ok {
		base = motionPrompts[DefaultMotionTemplate]
	}
	return fmt.Sprintf("%s %s", base, motionSuffix)
}

// MotionTemplates lists the known template keys, sorted.
func MotionTemplates() []string {
	keys := make([]string, 0, len(motionPrompts))
	for k := range motionPrompts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
