package application

import "context"

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, text, outPath string) error
}
