package projects

import (
	"context"
	"time"
)

// Repository persists projects and their status history. UpdateStatus is a
// compare-and-set on the current status: it returns ErrInvalidTransition
// when the stored status no longer equals from, and ErrNotFound when the
// project does not exist. UpdateDescriptors follows the same contract.
type Repository interface {
	Create(ctx context.Context, project *Project) error
	GetByID(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, filter Filter) ([]Project, error)
	UpdateStatus(ctx context.Context, id string, from Status, update StatusUpdate) (*Project, error)
	UpdateDescriptors(ctx context.Context, id string, from Status, update DescriptorUpdate) (*Project, error)
	UpdateEvidence(ctx context.Context, id, digest, txRef string, at time.Time) error

	AppendHistory(ctx context.Context, change *StatusChange) error
	ListHistory(ctx context.Context, projectID string) ([]StatusChange, error)
}
