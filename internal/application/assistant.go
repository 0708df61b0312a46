package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"vision-tutor/internal/domain"
)

type Options struct {
	SystemPrompt string
	OutputDir    string
}

// Assistant runs one voice + image question through transcription, vision
// analysis and speech synthesis. Stages run sequentially and the first failure
// aborts the request.
type Assistant struct {
	validator AudioValidator
	stt       Transcriber
	images    ImageEncoder
	vision    VisionReasoner
	tts       Speaker
	observer  Observer
	opts      Options
	logger    *slog.Logger
}

// NewAssistant wires the pipeline. A nil tts disables speech synthesis.
func NewAssistant(
	validator AudioValidator,
	stt Transcriber,
	images ImageEncoder,
	vision VisionReasoner,
	tts Speaker,
	observer Observer,
	opts Options,
	logger *slog.Logger,
) *Assistant {
	if observer == nil {
		observer = NoopObserver{}
	}
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	return &Assistant{
		validator: validator,
		stt:       stt,
		images:    images,
		vision:    vision,
		tts:       tts,
		observer:  observer,
		opts:      opts,
		logger:    logger,
	}
}

// Validate checks an audio file without calling any external service.
func (a *Assistant) Validate(path string) (domain.AudioInfo, error) {
	info, err := a.validator.Validate(path)
	if err != nil {
		a.reject(path, err)
		return domain.AudioInfo{}, err
	}
	return info, nil
}

func (a *Assistant) Ask(ctx context.Context, q domain.Query) (*domain.Answer, error) {
	gate, err := a.validator.TranscriptionEligible(q.AudioPath)
	if err != nil {
		a.reject(q.AudioPath, err)
		return nil, err
	}

	a.logger.Info("audio accepted", "path", gate.Path, "format", gate.Format, "bytes", gate.SizeBytes)

	var transcript string
	err = a.stage(domain.StageTranscribe, func() error {
		text, err := a.stt.Transcribe(ctx, gate.Path)
		if err != nil {
			return err
		}
		transcript = strings.TrimSpace(text)
		if transcript == "" {
			return fmt.Errorf("empty transcription")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("transcribed", "text", transcript)

	analysis, err := a.analyze(ctx, transcript, q.ImagePath)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{Transcript: transcript, Analysis: analysis}
	if a.tts == nil {
		a.logger.Debug("speech disabled, returning text only")
		return answer, nil
	}

	if err := os.MkdirAll(a.opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	answer.AudioPath = filepath.Join(a.opts.OutputDir, uuid.NewString()+".mp3")

	err = a.stage(domain.StageSynthesize, func() error {
		return a.tts.Speak(ctx, analysis, answer.AudioPath)
	})
	if err != nil {
		if rmErr := os.Remove(answer.AudioPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.logger.Warn("removing partial speech file", "path", answer.AudioPath, "error", rmErr)
		}
		return nil, err
	}

	a.logger.Info("answer ready", "audio", answer.AudioPath)
	return answer, nil
}

func (a *Assistant) analyze(ctx context.Context, transcript, imagePath string) (string, error) {
	if imagePath == "" {
		a.logger.Info("no image provided, skipping analysis")
		return domain.NoImageAnalysis, nil
	}

	var image domain.EncodedImage
	err := a.stage(domain.StageEncodeImage, func() error {
		var err error
		image, err = a.images.Encode(imagePath)
		return err
	})
	if err != nil {
		return "", err
	}

	a.logger.Debug("image encoded",
		"mime", image.MimeType,
		"width", image.Width,
		"height", image.Height,
		"resized", image.Resized,
	)

	var analysis string
	err = a.stage(domain.StageAnalyze, func() error {
		text, err := a.vision.Analyze(ctx, a.prompt(transcript), image)
		if err != nil {
			return err
		}
		analysis = strings.TrimSpace(text)
		return nil
	})
	if err != nil {
		return "", err
	}

	return analysis, nil
}

func (a *Assistant) prompt(transcript string) string {
	if a.opts.SystemPrompt == "" {
		return transcript
	}
	return strings.TrimSpace(a.opts.SystemPrompt) + "\n\n" + transcript
}

func (a *Assistant) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	a.observer.ObserveStage(name, elapsed, err)

	if err != nil {
		a.logger.Error("stage failed", "stage", name, "duration", elapsed, "error", err)
		return &domain.ServiceError{Stage: name, Err: err}
	}
	a.logger.Debug("stage done", "stage", name, "duration", elapsed)
	return nil
}

func (a *Assistant) reject(path string, err error) {
	if kind, ok := domain.KindOf(err); ok {
		a.observer.ObserveRejection(kind)
	}
	a.logger.Warn("audio rejected", "path", path, "error", err)
}
