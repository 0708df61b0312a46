package application

import (
	"context"

	"vision-tutor/internal/domain"
)

type VisionReasoner interface {
	Analyze(ctx context.Context, prompt string, image domain.EncodedImage) (string, error)
}

type ImageEncoder interface {
	Encode(path string) (domain.EncodedImage, error)
}
