package workflow

import "context"

type Repository interface {
	Create(ctx context.Context, d *Definition) error
	Get(ctx context.Context, id string) (*Definition, error)
	List(ctx context.Context, projectID string, limit, offset int) ([]*Definition, int, error)
	Update(ctx context.Context, d *Definition) error
	Delete(ctx context.Context, id string) error
}
