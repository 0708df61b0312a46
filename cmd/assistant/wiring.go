package main

import (
	"fmt"
	"log/slog"

	"vision-tutor/config"
	"vision-tutor/internal/application"
	"vision-tutor/internal/infra"
	"vision-tutor/internal/infra/anthropic"
	"vision-tutor/internal/infra/audio"
	"vision-tutor/internal/infra/elevenlabs"
	"vision-tutor/internal/infra/gemini"
	"vision-tutor/internal/infra/imaging"
	"vision-tutor/internal/infra/openai"
	"vision-tutor/internal/infra/pushover"
)

// buildAssistant wires the configured providers into the pipeline.
func buildAssistant(cfg *config.Config, observer application.Observer, logger *slog.Logger) (*application.Assistant, error) {
	retry := infra.RetryConfig{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   2.0,
	}

	stt, err := openAICompatible(cfg, cfg.Models.STTProvider)
	if err != nil {
		return nil, fmt.Errorf("speech-to-text: %w", err)
	}

	var vision application.VisionReasoner
	switch cfg.Models.VisionProvider {
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("vision: providers.anthropic.api_key is required")
		}
		baseURL := cfg.Providers.Anthropic.BaseURL
		if baseURL == "" {
			vision = anthropic.NewClaudeClient(cfg.Providers.Anthropic.APIKey, cfg.Models.VisionModel, cfg.Models.MaxTokens, retry)
		} else {
			vision = anthropic.NewClaudeClientWithURL(cfg.Providers.Anthropic.APIKey, cfg.Models.VisionModel, cfg.Models.MaxTokens, baseURL, retry)
		}
	case "gemini":
		if cfg.Providers.Gemini.APIKey == "" {
			return nil, fmt.Errorf("vision: providers.gemini.api_key is required")
		}
		baseURL := cfg.Providers.Gemini.BaseURL
		if baseURL == "" {
			vision = gemini.NewClient(cfg.Providers.Gemini.APIKey, cfg.Models.VisionModel, cfg.Models.MaxTokens, retry)
		} else {
			vision = gemini.NewClientWithURL(cfg.Providers.Gemini.APIKey, cfg.Models.VisionModel, cfg.Models.MaxTokens, baseURL, retry)
		}
	default:
		client, err := openAICompatible(cfg, cfg.Models.VisionProvider)
		if err != nil {
			return nil, fmt.Errorf("vision: %w", err)
		}
		vision = client
	}

	var tts application.Speaker
	switch cfg.Models.TTSProvider {
	case "elevenlabs":
		if cfg.Providers.ElevenLabs.APIKey == "" {
			return nil, fmt.Errorf("speech: providers.elevenlabs.api_key is required")
		}
		baseURL := cfg.Providers.ElevenLabs.BaseURL
		if baseURL == "" {
			tts = elevenlabs.NewClient(cfg.Providers.ElevenLabs.APIKey, cfg.Models.TTSVoice, cfg.Models.TTSModel, retry)
		} else {
			tts = elevenlabs.NewClientWithURL(cfg.Providers.ElevenLabs.APIKey, cfg.Models.TTSVoice, cfg.Models.TTSModel, baseURL, retry)
		}
	case "openai":
		client, err := openAICompatible(cfg, "openai")
		if err != nil {
			return nil, fmt.Errorf("speech: %w", err)
		}
		tts = client
	default:
		logger.Warn("text-to-speech disabled", "tts_provider", cfg.Models.TTSProvider)
	}

	images := imaging.NewEncoder(imaging.Config{
		MaxDimension: cfg.Image.MaxDimension,
		MaxPixels:    cfg.Image.MaxPixels,
		JPEGQuality:  cfg.Image.JPEGQuality,
	})

	logger.Debug("providers configured",
		"stt", cfg.Models.STTProvider,
		"vision", cfg.Models.VisionProvider,
		"tts", cfg.Models.TTSProvider,
	)

	return application.NewAssistant(
		audio.NewValidator(cfg.Audio.MaxBytes),
		stt,
		images,
		vision,
		tts,
		observer,
		application.Options{
			SystemPrompt: cfg.Prompt.System,
			OutputDir:    cfg.Server.OutputDir,
		},
		logger,
	), nil
}

// validatorOnly builds an assistant for commands that never leave the
// validation gate, so no API keys are needed.
func validatorOnly(cfg *config.Config, logger *slog.Logger) *application.Assistant {
	return application.NewAssistant(
		audio.NewValidator(cfg.Audio.MaxBytes),
		nil, nil, nil, nil, nil,
		application.Options{OutputDir: cfg.Server.OutputDir},
		logger,
	)
}

func openAICompatible(cfg *config.Config, provider string) (*openai.Client, error) {
	provCfg := cfg.Providers.Groq
	defaultURL := openai.GroqBaseURL
	if provider == "openai" {
		provCfg = cfg.Providers.OpenAI
		defaultURL = openai.OpenAIBaseURL
	}
	if provCfg.BaseURL == "" {
		provCfg.BaseURL = defaultURL
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("providers.%s.api_key is required", provider)
	}

	return openai.NewClient(openai.Options{
		APIKey:      provCfg.APIKey,
		BaseURL:     provCfg.BaseURL,
		STTModel:    cfg.Models.STTModel,
		VisionModel: cfg.Models.VisionModel,
		TTSModel:    cfg.Models.TTSModel,
		TTSVoice:    cfg.Models.TTSVoice,
		Language:    cfg.Audio.Language,
		MaxTokens:   cfg.Models.MaxTokens,
		Timeout:     cfg.Server.RequestTimeout,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
}

func inboxOptions(cfg *config.Config) audio.InboxOptions {
	opts := audio.InboxOptions{
		Interval: cfg.Audio.PollInterval,
		Settle:   cfg.Audio.PollInterval,
	}
	if cfg.Notify.Pushover.Enabled {
		opts.Notifier = pushover.NewClient(cfg.Notify.Pushover.Token, cfg.Notify.Pushover.UserKey)
	}
	return opts
}
