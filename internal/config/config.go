package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (optional: render lock + music job registry)
	RedisURL string

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseAnonKey    string
	SupabaseJWTSecret  string // When set, session tokens are verified locally instead of via /auth/v1/user
	SessionCookieName  string

	// Storage buckets
	PhotosBucket  string
	ClipsBucket   string
	ExportsBucket string
	SignedURLTTL  int // seconds

	// Video generation
	VideoProvider   string // fal | kling | veo
	FalKey          string
	FalVideoModel   string
	FalMusicModel   string
	KlingAccessKey  string
	KlingSecretKey  string
	KlingModel      string
	GeminiKey       string
	VeoModel        string
	ClipDurationSec int

	// Music
	MusicJobTTL time.Duration

	// Final render
	FFmpegPath     string // Bundled encoder path; empty = sidecar or PATH lookup
	ScratchDir     string
	RenderTimeout  time.Duration
	EncoderTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read collects the environment without validating it.
func Read() *Config {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	return &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "sb-access-token"),
		PhotosBucket:       getEnv("PHOTOS_BUCKET", "listing-photos"),
		ClipsBucket:        getEnv("CLIPS_BUCKET", "scene-clips"),
		ExportsBucket:      getEnv("EXPORTS_BUCKET", "final-exports"),
		SignedURLTTL:       getEnvInt("SIGNED_URL_TTL_SECONDS", 3600),
		VideoProvider:      strings.ToLower(getEnv("VIDEO_PROVIDER", "fal")),
		FalKey:             getEnv("FAL_KEY", ""),
		FalVideoModel:      getEnv("FAL_VIDEO_MODEL", "fal-ai/kling-video/v1.6/standard/image-to-video"),
		FalMusicModel:      getEnv("FAL_MUSIC_MODEL", "cassetteai/music-generator"),
		KlingAccessKey:     getEnv("KLING_ACCESS_KEY", ""),
		KlingSecretKey:     getEnv("KLING_SECRET_KEY", ""),
		KlingModel:         getEnv("KLING_MODEL", "kling-v1-6"),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		VeoModel:           getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		ClipDurationSec:    getEnvInt("CLIP_DURATION_SECONDS", 5),
		MusicJobTTL:        getEnvSeconds("MUSIC_JOB_TTL_SECONDS", 10*time.Minute),
		FFmpegPath:         getEnv("FFMPEG_PATH", ""),
		ScratchDir:         getEnv("SCRATCH_DIR", os.TempDir()),
		RenderTimeout:      getEnvSeconds("RENDER_TIMEOUT_SECONDS", 280*time.Second),
		EncoderTimeout:     getEnvSeconds("ENCODER_TIMEOUT_SECONDS", 120*time.Second),
	}
}

// Validate checks required fields and the provider-specific credentials.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	switch c.VideoProvider {
	case "fal":
		if c.FalKey == "" {
			return fmt.Errorf("FAL_KEY is required when VIDEO_PROVIDER=fal")
		}
	case "kling":
		if c.KlingAccessKey == "" || c.KlingSecretKey == "" {
			return fmt.Errorf("KLING_ACCESS_KEY and KLING_SECRET_KEY are required when VIDEO_PROVIDER=kling")
		}
	case "veo":
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when VIDEO_PROVIDER=veo")
		}
	default:
		return fmt.Errorf("unknown VIDEO_PROVIDER %q (allowed: fal, kling, veo)", c.VideoProvider)
	}

	// Music always goes through the fal queue
	if c.FalKey == "" {
		return fmt.Errorf("FAL_KEY is required for music generation")
	}

	if c.EncoderTimeout <= 0 || c.RenderTimeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT_SECONDS and ENCODER_TIMEOUT_SECONDS must be positive")
	}
	if c.EncoderTimeout > c.RenderTimeout {
		return fmt.Errorf("ENCODER_TIMEOUT_SECONDS must not exceed RENDER_TIMEOUT_SECONDS")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
