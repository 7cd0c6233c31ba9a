package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/listingreel/internal/models"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo image-to-video via the Google Gen AI SDK
// GenerateVideos starts a long-running operation; its name is the job id.
// Status re-reads the operation by name and downloads the video on completion.
// ---------------------------------------------------------------------------

const defaultVeoModel = "veo-3.1-generate-preview"

// VeoService generates listing clips with Veo. The listing photo is fetched
// from its signed URL and passed as the first frame.
type VeoService struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ VideoProvider = (*VeoService)(nil)

// NewVeoService creates a new Veo video generation service.
// apiKey: the Gemini API key (same key works for both Gemini and Veo)
// model: the Veo model to use (empty string defaults to veo-3.1-generate-preview)
func NewVeoService(apiKey, model string) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *VeoService) Name() string { return models.ProviderVeo }

// ClipDuration maps a requested length onto the 4s / 6s / 8s lengths Veo accepts.
func (s *VeoService) ClipDuration(requested int) int {
	switch {
	case requested <= 4:
		return 4
	case requested <= 6:
		return 6
	default:
		return 8
	}
}

func (s *VeoService) client(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// buildVeoPrompt appends Veo-specific direction to the motion prompt.
func buildVeoPrompt(motionPrompt string) string {
	return motionPrompt + "\n\nKeep the exact look of the input photo: same furniture, colors and lighting. " +
		"Motion must be slow and physically plausible. No generated audio. Silent video only."
}

func (s *VeoService) SubmitClip(ctx context.Context, req ClipRequest) (string, error) {
	imageData, mimeType, err := s.fetchImage(ctx, req.ImageURL)
	if err != nil {
		return "", err
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	firstFrame := &genai.Image{
		ImageBytes: imageData,
		MIMEType:   mimeType,
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}
	duration := int32(s.ClipDuration(req.DurationSec))
	config := &genai.GenerateVideosConfig{
		AspectRatio:     aspect,
		NumberOfVideos:  1,
		DurationSeconds: &duration,
	}

	log.Printf("[Veo] Starting video generation (model=%s, aspect=%s, imageSize=%d bytes)", s.model, aspect, len(imageData))

	operation, err := client.Models.GenerateVideos(ctx, s.model, buildVeoPrompt(req.Prompt), firstFrame, config)
	if err != nil {
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}
	if operation.Name == "" {
		return "", fmt.Errorf("veo returned an operation without a name")
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)
	return operation.Name, nil
}

func (s *VeoService) ClipStatus(ctx context.Context, jobID string) (*ClipResult, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	operation, err := client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: jobID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to poll operation %s: %w", jobID, err)
	}

	if !operation.Done {
		return &ClipResult{State: JobStatePending}, nil
	}

	// Operation-level errors (invalid request, quota exceeded)
	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return &ClipResult{State: JobStateFailed, Error: fmt.Sprintf("video generation failed: %s", errJSON)}, nil
	}

	if operation.Response == nil {
		return &ClipResult{State: JobStateFailed, Error: "no response in completed operation"}, nil
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return &ClipResult{State: JobStateFailed, Error: "video blocked by safety filters: " + reasons}, nil
	}

	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return &ClipResult{State: JobStateFailed, Error: "no videos in response"}, nil
	}

	video := operation.Response.GeneratedVideos[0].Video
	videoBytes, err := client.Files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return &ClipResult{State: JobStateFailed, Error: "downloaded video is empty"}, nil
	}

	log.Printf("[Veo] Video ready for %s (%d bytes)", jobID, len(videoBytes))
	return &ClipResult{State: JobStateCompleted, VideoData: videoBytes}, nil
}

func (s *VeoService) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("source image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read source image: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
