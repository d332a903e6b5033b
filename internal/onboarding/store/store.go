// Package store persists onboarding runs for auditability and retry
// tracking.
package store

import (
	"context"

	"github.com/google/uuid"

	"onboarder/internal/onboarding/models"
)

// Store persists run records. Swap with concrete storage without touching
// the service.
type Store interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	// RunsByEmail returns the runs for one account email, newest first.
	RunsByEmail(ctx context.Context, email string) ([]*models.Run, error)
}
