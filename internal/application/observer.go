package application

import (
	"time"

	"vision-tutor/internal/domain"
)

// Observer receives timing and outcome of pipeline stages.
type Observer interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveRejection(kind domain.ErrorKind)
}

type NoopObserver struct{}

func (NoopObserver) ObserveStage(string, time.Duration, error) {}
func (NoopObserver) ObserveRejection(domain.ErrorKind)         {}
