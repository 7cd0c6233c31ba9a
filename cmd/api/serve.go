package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/listingreel/internal/api"
	"github.com/bobarin/listingreel/internal/auth"
	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/config"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/pipeline"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/bobarin/listingreel/internal/storage"
)

func runServe(ctx context.Context) error {
	log.Println("Starting ListingReel API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	log.Println("Initialized Supabase storage")

	video, pollers, err := buildVideoProviders(cfg)
	if err != nil {
		return err
	}
	log.Printf("Video provider: %s (%d pollers)", video.Name(), len(pollers))

	fal := services.NewFalClient(cfg.FalKey)

	deps := pipeline.Deps{
		Store:   database,
		Objects: stor,
		Video:   video,
		Pollers: pollers,
		Music:   services.NewMusicService(fal, cfg.FalMusicModel),
		Encoder: newEncoderFactory(cfg.FFmpegPath),
	}

	checks := map[string]api.HealthCheck{
		"database": database.PingContext,
	}

	// Redis is optional: without it renders are locked per host and music
	// jobs are not tracked.
	if cfg.RedisURL != "" {
		c, err := cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer c.Close()
		deps.Locker = c
		deps.Registry = c
		checks["redis"] = c.Ping
		log.Println("Connected to Redis (render lock + music registry)")
	} else {
		locker, err := cache.NewFileLocker(filepath.Join(cfg.ScratchDir, "listingreel-locks"))
		if err != nil {
			return fmt.Errorf("failed to create render lock dir: %w", err)
		}
		deps.Locker = locker
		log.Println("WARNING: No REDIS_URL set, using host-local render locks")
	}

	if loc, err := services.ResolveEncoder(cfg.FFmpegPath); err == nil {
		log.Printf("Encoder: %s (%s)", loc.Path, loc.Source)
	} else {
		log.Printf("WARNING: %v, final renders will use playlists", err)
	}

	p := pipeline.New(deps, pipeline.Options{
		PhotosBucket:    cfg.PhotosBucket,
		ClipsBucket:     cfg.ClipsBucket,
		ExportsBucket:   cfg.ExportsBucket,
		SignedURLTTL:    cfg.SignedURLTTL,
		ClipDurationSec: cfg.ClipDurationSec,
		MusicJobTTL:     cfg.MusicJobTTL,
		RenderTimeout:   cfg.RenderTimeout,
		EncoderTimeout:  cfg.EncoderTimeout,
		ScratchDir:      cfg.ScratchDir,
	})

	verifier := auth.NewVerifier(auth.Config{
		SupabaseURL: cfg.SupabaseURL,
		AnonKey:     cfg.SupabaseAnonKey,
		JWTSecret:   cfg.SupabaseJWTSecret,
		CookieName:  cfg.SessionCookieName,
	})
	if cfg.SupabaseJWTSecret != "" {
		log.Println("Session tokens verified locally")
	} else {
		log.Println("Session tokens verified against Supabase auth")
	}

	handler := api.NewHandler(p, checks)
	router := api.NewRouter(handler, api.RouterConfig{
		Auth:               verifier,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	// Start HTTP server. Writes must outlive a full render.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RenderTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Println("Shutting down server...")

	// In-flight renders get their full budget to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RenderTimeout+30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exited")
	return nil
}
