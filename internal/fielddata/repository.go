package fielddata

import (
	"context"
	"time"
)

// Repository persists field data. MarkValidated only applies while the
// entry is still unvalidated and reports whether it did.
type Repository interface {
	Create(ctx context.Context, fd *FieldData) error
	GetByID(ctx context.Context, id string) (*FieldData, error)
	List(ctx context.Context, filter Filter) ([]FieldData, error)
	UpdateEvidence(ctx context.Context, id string, evidence Evidence, at time.Time) error
	MarkValidated(ctx context.Context, id, validatorID string, at time.Time) (bool, error)
}
