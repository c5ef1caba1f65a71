package approval

import "context"

type Repository interface {
	Create(ctx context.Context, a *Approval) error
	Get(ctx context.Context, id string) (*Approval, error)
	ListPending(ctx context.Context) ([]*Approval, error)
	Update(ctx context.Context, a *Approval) error
}
