package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/listingreel/internal/models"
)

// ---------------------------------------------------------------------------
// fal queue API client
// Submit → {request_id}; GET .../requests/{id}/status; GET .../requests/{id}.
// Shared by the image-to-video provider and music generation.
// ---------------------------------------------------------------------------

const falQueueBaseURL = "https://queue.fal.run"

// fal queue statuses
const (
	falStatusInQueue    = "IN_QUEUE"
	falStatusInProgress = "IN_PROGRESS"
	falStatusCompleted  = "COMPLETED"
)

// ProviderError carries an HTTP status from an upstream provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

type FalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewFalClient(apiKey string) *FalClient {
	return NewFalClientWithBaseURL(apiKey, falQueueBaseURL)
}

func NewFalClientWithBaseURL(apiKey, baseURL string) *FalClient {
	return &FalClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// falSubmitResponse is the queue acknowledgement. Some endpoints answer
// synchronously, in which case the raw body holds the final output instead.
type falSubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// FalSubmission is what Submit hands back to callers.
type FalSubmission struct {
	RequestID string
	Raw       json.RawMessage
}

type falStatusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Submit enqueues a request for the given model.
func (c *FalClient) Submit(ctx context.Context, model string, input interface{}) (*FalSubmission, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fal input: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+model, payload)
	if err != nil {
		return nil, err
	}

	var ack falSubmitResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("failed to parse fal submit response: %w (body: %s)", err, truncateString(string(body), 200))
	}

	log.Printf("[fal] Submitted %s (request_id=%s, status=%s)", model, ack.RequestID, ack.Status)

	return &FalSubmission{RequestID: ack.RequestID, Raw: body}, nil
}

// Status returns the queue status string for a request.
func (c *FalClient) Status(ctx context.Context, model, requestID string) (string, error) {
	url := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, falAppID(model), requestID)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	var st falStatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return "", fmt.Errorf("failed to parse fal status: %w (body: %s)", err, truncateString(string(body), 200))
	}
	return strings.ToUpper(st.Status), nil
}

// Result fetches the output of a completed request.
func (c *FalClient) Result(ctx context.Context, model, requestID string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, falAppID(model), requestID)
	return c.do(ctx, http.MethodGet, url, nil)
}

func (c *FalClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fal response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return nil, &ProviderError{Provider: "fal", StatusCode: resp.StatusCode, Body: truncateString(string(body), 500)}
	}

	return body, nil
}

// falAppID trims a model path to its owner/app prefix, which is what the
// queue's requests/ endpoints are keyed by.
func falAppID(model string) string {
	parts := strings.Split(strings.Trim(model, "/"), "/")
	if len(parts) <= 2 {
		return strings.Join(parts, "/")
	}
	return parts[0] + "/" + parts[1]
}

// ---------------------------------------------------------------------------
// FalVideoService: image-to-video through the fal queue
// ---------------------------------------------------------------------------

type FalVideoService struct {
	client *FalClient
	model  string
}

var _ VideoProvider = (*FalVideoService)(nil)

func NewFalVideoService(client *FalClient, model string) *FalVideoService {
	return &FalVideoService{client: client, model: model}
}

func (s *FalVideoService) Name() string { return models.ProviderFal }

func (s *FalVideoService) ClipDuration(requested int) int { return clampClipDuration(requested) }

type falVideoInput struct {
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url"`
	Duration    string `json:"duration"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type falVideoOutput struct {
	Video *struct {
		URL string `json:"url"`
	} `json:"video,omitempty"`
	Videos []struct {
		URL string `json:"url"`
	} `json:"videos,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (s *FalVideoService) SubmitClip(ctx context.Context, req ClipRequest) (string, error) {
	input := falVideoInput{
		Prompt:      req.Prompt,
		ImageURL:    req.ImageURL,
		Duration:    strconv.Itoa(clampClipDuration(req.DurationSec)),
		AspectRatio: req.AspectRatio,
	}

	sub, err := s.client.Submit(ctx, s.model, input)
	if err != nil {
		return "", fmt.Errorf("failed to submit fal video job: %w", err)
	}
	if sub.RequestID == "" {
		return "", fmt.Errorf("no request_id in fal response: %s", truncateString(string(sub.Raw), 200))
	}
	return sub.RequestID, nil
}

func (s *FalVideoService) ClipStatus(ctx context.Context, jobID string) (*ClipResult, error) {
	status, err := s.client.Status(ctx, s.model, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fal status: %w", err)
	}

	switch status {
	case falStatusInQueue, falStatusInProgress:
		return &ClipResult{State: JobStatePending}, nil
	case falStatusCompleted:
	default:
		return &ClipResult{State: JobStateFailed, Error: fmt.Sprintf("fal job ended with status %s", status)}, nil
	}

	raw, err := s.client.Result(ctx, s.model, jobID)
	if err != nil {
		// fal reports generation errors (validation, safety) on the result call
		if perr, ok := err.(*ProviderError); ok && perr.StatusCode < 500 {
			return &ClipResult{State: JobStateFailed, Error: perr.Error()}, nil
		}
		return nil, fmt.Errorf("failed to fetch fal result: %w", err)
	}

	var out falVideoOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse fal video result: %w", err)
	}

	url := ""
	if out.Video != nil {
		url = out.Video.URL
	} else if len(out.Videos) > 0 {
		url = out.Videos[0].URL
	}
	if url == "" {
		return &ClipResult{State: JobStateFailed, Error: "fal result has no video url"}, nil
	}

	return &ClipResult{State: JobStateCompleted, VideoURL: url, DurationSeconds: out.Duration}, nil
}

// clampClipDuration maps a requested length onto the 5s / 10s clip lengths
// the image-to-video models accept.
func clampClipDuration(sec int) int {
	if sec > 5 {
		return 10
	}
	return 5
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
