package openai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go/v3"
)

// Transcribe uploads the audio file to the transcriptions endpoint. The file
// name is sent along so the service can infer the container format.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, filepath.Base(audioPath), contentType(audioPath)),
		Model: openai.AudioModel(c.opts.STTModel),
	}
	if lang := strings.TrimSpace(c.opts.Language); lang != "" {
		params.Language = openai.String(lang)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}

	return cleanTranscription(resp.Text), nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

func cleanTranscription(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
