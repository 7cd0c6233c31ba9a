package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	renderLockPrefix = "lock:render:"
	musicJobPrefix   = "music:job:"

	// records outlive the job timeout so late polls still see "timed out"
	musicJobRetention = 24 * time.Hour
)

var (
	// ErrLocked is returned when another render of the project holds the lock.
	ErrLocked = errors.New("render already in progress")

	// ErrJobNotFound is returned when no registry entry exists for a job id.
	ErrJobNotFound = errors.New("music job not found")
)

// releaseScript deletes the lock only when it still carries our token, so an
// expired lock re-acquired by another invocation is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	client *redis.Client
}

// MusicJob is the registry entry written when a track is submitted.
type MusicJob struct {
	JobID           string    `json:"job_id"`
	ProjectID       uuid.UUID `json:"project_id"`
	Prompt          string    `json:"prompt"`
	DurationSeconds int       `json:"duration_seconds"`
	RequestedAt     time.Time `json:"requested_at"`
}

// Expired reports whether the job has been pending longer than ttl.
func (j MusicJob) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(j.RequestedAt) > ttl
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func renderLockKey(projectID uuid.UUID) string {
	return renderLockPrefix + projectID.String()
}

func musicJobKey(jobID string) string {
	return musicJobPrefix + jobID
}

// Acquire takes the per-project render lock for ttl. The returned release
// func is safe to call more than once.
func (c *Cache) Acquire(ctx context.Context, projectID uuid.UUID, ttl time.Duration) (func(), error) {
	key := renderLockKey(projectID)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire render lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, c.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
				log.Printf("[Cache] Failed to release render lock %s: %v", key, err)
			}
		})
	}, nil
}

// RegisterMusicJob stores a submitted music job.
func (c *Cache) RegisterMusicJob(ctx context.Context, job *MusicJob) error {
	data, err := encodeMusicJob(job)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, musicJobKey(job.JobID), data, musicJobRetention).Err()
}

// GetMusicJob loads a registry entry. Unknown ids return ErrJobNotFound.
func (c *Cache) GetMusicJob(ctx context.Context, jobID string) (*MusicJob, error) {
	data, err := c.client.Get(ctx, musicJobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get music job: %w", err)
	}
	return decodeMusicJob(data)
}

func encodeMusicJob(job *MusicJob) ([]byte, error) {
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal music job: %w", err)
	}
	return data, nil
}

func decodeMusicJob(data []byte) (*MusicJob, error) {
	var job MusicJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal music job: %w", err)
	}
	return &job, nil
}
