//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Recorder stub when portaudio is not available
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(sampleRate int, logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

func (m *Recorder) Record(_ context.Context, _ time.Duration, _ string) error {
	return fmt.Errorf("microphone not available: rebuild with -tags portaudio")
}
