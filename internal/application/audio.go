package application

import "vision-tutor/internal/domain"

type AudioValidator interface {
	Validate(path string) (domain.AudioInfo, error)
	TranscriptionEligible(path string) (domain.TranscriptionGate, error)
}
