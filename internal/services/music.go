package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// ---------------------------------------------------------------------------
// Background music through the fal queue
// ---------------------------------------------------------------------------

const (
	MinMusicDuration     = 15
	MaxMusicDuration     = 120
	DefaultMusicDuration = 30

	DefaultMusicGenre = "ambient"
)

var genrePrompts = map[string]string{
	"ambient":   "Calm ambient background music with soft pads and gentle piano, warm and spacious, no vocals.",
	"acoustic":  "Light acoustic guitar music, bright and welcoming, relaxed tempo, no vocals.",
	"cinematic": "Cinematic orchestral underscore with slow strings and subtle swells, elegant and aspirational, no vocals.",
	"corporate": "Upbeat modern corporate background track, clean synths and light percussion, no vocals.",
	"jazz":      "Smooth lounge jazz with brushed drums, upright bass and mellow keys, no vocals.",
	"lofi":      "Chill lo-fi hip hop beat with vinyl texture and soft chords, no vocals.",
	"luxury":    "Sophisticated luxury ambience, deep piano chords and airy strings, slow and refined, no vocals.",
	"upbeat":    "Energetic feel-good pop instrumental with claps and bright synths, no vocals.",
}

// GenrePrompt maps a genre keyword to its descriptive prompt.
func GenrePrompt(genre string) string {
	if p, ok := genrePrompts[strings.ToLower(strings.TrimSpace(genre))]; ok {
		return p
	}
	return genrePrompts[DefaultMusicGenre]
}

// ClampMusicDuration normalises a requested track length. Zero or negative
// means "unset" and becomes DefaultMusicDuration before clamping.
func ClampMusicDuration(sec int) int {
	if sec <= 0 {
		sec = DefaultMusicDuration
	}
	if sec < MinMusicDuration {
		return MinMusicDuration
	}
	if sec > MaxMusicDuration {
		return MaxMusicDuration
	}
	return sec
}

// MusicResult is a provider-neutral music job outcome.
type MusicResult struct {
	State    JobState
	JobID    string
	AudioURL string
	Error    string
}

type MusicService struct {
	client *FalClient
	model  string
}

func NewMusicService(client *FalClient, model string) *MusicService {
	return &MusicService{client: client, model: model}
}

type musicInput struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
}

// Submit queues a track. If the provider answered with the finished output
// the result is already completed.
func (s *MusicService) Submit(ctx context.Context, prompt string, durationSec int) (*MusicResult, error) {
	sub, err := s.client.Submit(ctx, s.model, musicInput{Prompt: prompt, Duration: durationSec})
	if err != nil {
		return nil, fmt.Errorf("failed to submit music job: %w", err)
	}

	if url, ok := ExtractAudioURL(sub.Raw); ok {
		log.Printf("[Music] Provider answered synchronously")
		return &MusicResult{State: JobStateCompleted, JobID: sub.RequestID, AudioURL: url}, nil
	}

	if sub.RequestID == "" {
		return nil, fmt.Errorf("music provider returned neither a request id nor audio")
	}

	return &MusicResult{State: JobStatePending, JobID: sub.RequestID}, nil
}

// Status checks a queued track once.
func (s *MusicService) Status(ctx context.Context, jobID string) (*MusicResult, error) {
	status, err := s.client.Status(ctx, s.model, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query music status: %w", err)
	}

	switch status {
	case falStatusInQueue, falStatusInProgress:
		return &MusicResult{State: JobStatePending, JobID: jobID}, nil
	case falStatusCompleted:
	case "FAILED", "ERROR":
		return &MusicResult{State: JobStateFailed, JobID: jobID, Error: "music generation failed"}, nil
	default:
		return &MusicResult{State: JobStateFailed, JobID: jobID, Error: fmt.Sprintf("unknown music job status %q", status)}, nil
	}

	raw, err := s.client.Result(ctx, s.model, jobID)
	if err != nil {
		if perr, ok := err.(*ProviderError); ok && perr.StatusCode < 500 {
			return &MusicResult{State: JobStateFailed, JobID: jobID, Error: perr.Error()}, nil
		}
		return nil, fmt.Errorf("failed to fetch music result: %w", err)
	}

	url, ok := ExtractAudioURL(raw)
	if !ok {
		return &MusicResult{State: JobStateFailed, JobID: jobID, Error: "music result has no audio url"}, nil
	}
	return &MusicResult{State: JobStateCompleted, JobID: jobID, AudioURL: url}, nil
}

// ExtractAudioURL digs the audio link out of the many response shapes music
// models use: audio_file.url, audio.url, audio as a string or list,
// audio_url, url, optionally nested under output / data / result.
func ExtractAudioURL(raw []byte) (string, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return audioURLFrom(v, 0)
}

func audioURLFrom(v interface{}, depth int) (string, bool) {
	if depth > 3 {
		return "", false
	}

	switch t := v.(type) {
	case string:
		if isHTTPURL(t) {
			return t, true
		}
	case []interface{}:
		for _, item := range t {
			if url, ok := audioURLFrom(item, depth+1); ok {
				return url, true
			}
		}
	case map[string]interface{}:
		for _, key := range []string{"audio_file", "audio", "audio_url", "url"} {
			if val, ok := t[key]; ok {
				if url, ok := audioURLFrom(val, depth+1); ok {
					return url, true
				}
			}
		}
		for _, key := range []string{"output", "data", "result"} {
			if val, ok := t[key]; ok {
				if url, ok := audioURLFrom(val, depth+1); ok {
					return url, true
				}
			}
		}
	}
	return "", false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
