package attestation

import (
	"context"
	"time"
)

// Repository is the append-only attestation store. Reconcile applies the
// outcome only while the record is pending and reports whether it did;
// it returns ErrNotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	Reconcile(ctx context.Context, id string, outcome Outcome, at time.Time) (bool, error)
}
