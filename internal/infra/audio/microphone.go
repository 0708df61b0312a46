//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

type Recorder struct {
	sampleRate int
	logger     *slog.Logger
}

func NewRecorder(sampleRate int, logger *slog.Logger) *Recorder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Recorder{sampleRate: sampleRate, logger: logger}
}

// Record captures mono 16-bit audio from the default input device for d, or
// until ctx is cancelled, and writes it to path as WAV.
func (m *Recorder) Record(ctx context.Context, d time.Duration, path string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), framesPerBuffer, buffer)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	defer stream.Stop()

	m.logger.Info("recording", "duration", d, "sampleRate", m.sampleRate)

	want := int(d.Seconds() * float64(m.sampleRate))
	samples := make([]int16, 0, want)

	for len(samples) < want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			return fmt.Errorf("reading from stream: %w", err)
		}
		samples = append(samples, buffer...)
	}

	if len(samples) > want {
		samples = samples[:want]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating recording dir: %w", err)
	}
	if err := os.WriteFile(path, EncodeWAV(samples, m.sampleRate), 0644); err != nil {
		return fmt.Errorf("writing recording: %w", err)
	}

	m.logger.Info("recording saved", "path", path, "samples", len(samples))
	return nil
}
