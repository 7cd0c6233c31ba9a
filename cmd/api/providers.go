package main

import (
	"fmt"

	"github.com/bobarin/listingreel/internal/config"
	"github.com/bobarin/listingreel/internal/pipeline"
	"github.com/bobarin/listingreel/internal/services"
)

// buildVideoProviders returns the provider new clips are submitted to, plus
// every other configured provider so renders submitted before a
// VIDEO_PROVIDER switch can still be synced.
func buildVideoProviders(cfg *config.Config) (services.VideoProvider, []services.VideoProvider, error) {
	available := map[string]services.VideoProvider{}
	if cfg.FalKey != "" {
		available["fal"] = services.NewFalVideoService(services.NewFalClient(cfg.FalKey), cfg.FalVideoModel)
	}
	if cfg.KlingAccessKey != "" && cfg.KlingSecretKey != "" {
		available["kling"] = services.NewKlingService(cfg.KlingAccessKey, cfg.KlingSecretKey, cfg.KlingModel)
	}
	if cfg.GeminiKey != "" {
		available["veo"] = services.NewVeoService(cfg.GeminiKey, cfg.VeoModel)
	}

	active, ok := available[cfg.VideoProvider]
	if !ok {
		return nil, nil, fmt.Errorf("video provider %q is not configured", cfg.VideoProvider)
	}

	var pollers []services.VideoProvider
	for _, name := range []string{"fal", "kling", "veo"} {
		if p, ok := available[name]; ok && name != cfg.VideoProvider {
			pollers = append(pollers, p)
		}
	}
	return active, pollers, nil
}

// newEncoderFactory resolves ffmpeg on every render so a binary installed
// after startup is picked up without a restart.
func newEncoderFactory(bundled string) pipeline.EncoderFactory {
	return func() (pipeline.Encoder, error) {
		loc, err := services.ResolveEncoder(bundled)
		if err != nil {
			return nil, err
		}
		return services.NewFFmpegService(loc), nil
	}
}
