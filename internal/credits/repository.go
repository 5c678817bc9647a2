package credits

import "context"

// Repository persists credits. Transition applies update only while the
// stored status is one of from; otherwise it returns ErrInvalidTransition
// and leaves the credit unmodified. List reads one consistent result set.
type Repository interface {
	Create(ctx context.Context, credit *Credit) error
	GetByID(ctx context.Context, id string) (*Credit, error)
	List(ctx context.Context, filter Filter) ([]Credit, error)
	Transition(ctx context.Context, id string, from []Status, update Update) (*Credit, error)
}
