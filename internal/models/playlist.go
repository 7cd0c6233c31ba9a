package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PlaylistMarker prefixes a render output_path that holds an ordered clip list
// instead of a storage path. Players detect it and play segments back-to-back.
const PlaylistMarker = "playlist:"

const playlistVersion = 1

type PlaylistClip struct {
	RenderID        uuid.UUID  `json:"render_id"`
	SceneID         *uuid.UUID `json:"scene_id,omitempty"`
	SceneOrder      *int       `json:"scene_order,omitempty"`
	URL             string     `json:"url"`
	DurationSeconds float64    `json:"duration_seconds"`
}

type Playlist struct {
	Version              int            `json:"version"`
	Clips                []PlaylistClip `json:"clips"`
	TotalDurationSeconds float64        `json:"total_duration_seconds"`
}

// NewPlaylist builds a playlist from ordered clips and totals their durations.
func NewPlaylist(clips []PlaylistClip) *Playlist {
	p := &Playlist{Version: playlistVersion, Clips: clips}
	for _, c := range clips {
		p.TotalDurationSeconds += c.DurationSeconds
	}
	return p
}

// EncodeOutput serializes the playlist into the marker-prefixed output_path form.
func (p *Playlist) EncodeOutput() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal playlist: %w", err)
	}
	return PlaylistMarker + string(data), nil
}

// IsPlaylistOutput reports whether an output_path carries a playlist payload.
func IsPlaylistOutput(output string) bool {
	return strings.HasPrefix(output, PlaylistMarker)
}

// ParsePlaylistOutput decodes a marker-prefixed output_path.
// The boolean is false when output is a plain storage path.
func ParsePlaylistOutput(output string) (*Playlist, bool, error) {
	if !IsPlaylistOutput(output) {
		return nil, false, nil
	}
	var p Playlist
	if err := json.Unmarshal([]byte(strings.TrimPrefix(output, PlaylistMarker)), &p); err != nil {
		return nil, true, fmt.Errorf("failed to parse playlist: %w", err)
	}
	return &p, true, nil
}
