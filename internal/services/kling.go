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
	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Kling image-to-video
// Each request carries a short-lived HS256 token signed with the secret key
// (iss = access key). Submit returns a task id; status is polled by task id.
// ---------------------------------------------------------------------------

const (
	klingBaseURL  = "https://api-singapore.klingai.com"
	klingTokenTTL = 30 * time.Minute
)

type KlingService struct {
	accessKey  string
	secretKey  string
	model      string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

var _ VideoProvider = (*KlingService)(nil)

func NewKlingService(accessKey, secretKey, model string) *KlingService {
	return NewKlingServiceWithBaseURL(accessKey, secretKey, model, klingBaseURL)
}

func NewKlingServiceWithBaseURL(accessKey, secretKey, model, baseURL string) *KlingService {
	return &KlingService{
		accessKey:  accessKey,
		secretKey:  secretKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

func (s *KlingService) Name() string { return models.ProviderKling }

func (s *KlingService) ClipDuration(requested int) int { return clampClipDuration(requested) }

type klingSubmitRequest struct {
	ModelName   string `json:"model_name"`
	Image       string `json:"image"`
	Prompt      string `json:"prompt"`
	Duration    string `json:"duration"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Mode        string `json:"mode"`
}

// klingEnvelope wraps every Kling response; code 0 means success.
type klingEnvelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type klingTask struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Videos []struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Duration string `json:"duration"`
		} `json:"videos"`
	} `json:"task_result"`
}

// token signs a fresh API token.
func (s *KlingService) token() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(klingTokenTTL)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

func (s *KlingService) SubmitClip(ctx context.Context, req ClipRequest) (string, error) {
	body := klingSubmitRequest{
		ModelName:   s.model,
		Image:       req.ImageURL,
		Prompt:      req.Prompt,
		Duration:    strconv.Itoa(clampClipDuration(req.DurationSec)),
		AspectRatio: req.AspectRatio,
		Mode:        "std",
	}

	var task klingTask
	if err := s.call(ctx, http.MethodPost, "/v1/videos/image2video", body, &task); err != nil {
		return "", fmt.Errorf("failed to submit kling task: %w", err)
	}
	if task.TaskID == "" {
		return "", fmt.Errorf("no task_id in kling response")
	}

	log.Printf("[Kling] Task submitted: %s (status=%s)", task.TaskID, task.TaskStatus)
	return task.TaskID, nil
}

func (s *KlingService) ClipStatus(ctx context.Context, jobID string) (*ClipResult, error) {
	var task klingTask
	if err := s.call(ctx, http.MethodGet, "/v1/videos/image2video/"+jobID, nil, &task); err != nil {
		return nil, fmt.Errorf("failed to query kling task: %w", err)
	}

	switch task.TaskStatus {
	case "submitted", "processing":
		return &ClipResult{State: JobStatePending}, nil
	case "succeed":
		if len(task.TaskResult.Videos) == 0 || task.TaskResult.Videos[0].URL == "" {
			return &ClipResult{State: JobStateFailed, Error: "kling task succeeded without a video"}, nil
		}
		v := task.TaskResult.Videos[0]
		dur, _ := strconv.ParseFloat(v.Duration, 64)
		return &ClipResult{State: JobStateCompleted, VideoURL: v.URL, DurationSeconds: dur}, nil
	case "failed":
		msg := task.TaskStatusMsg
		if msg == "" {
			msg = "kling task failed"
		}
		return &ClipResult{State: JobStateFailed, Error: msg}, nil
	default:
		return &ClipResult{State: JobStateFailed, Error: fmt.Sprintf("unknown kling task status %q", task.TaskStatus)}, nil
	}
}

func (s *KlingService) call(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := s.token()
	if err != nil {
		return fmt.Errorf("failed to sign kling token: %w", err)
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kling request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read kling response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: "kling", StatusCode: resp.StatusCode, Body: truncateString(string(raw), 500)}
	}

	var env klingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to parse kling response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("kling error %d: %s", env.Code, env.Message)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse kling task: %w", err)
	}
	return nil
}
