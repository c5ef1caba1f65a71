package notification

import "context"

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	ListForApproval(ctx context.Context, approvalID string) ([]*Record, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, s *Subscription) error
	List(ctx context.Context) ([]*Subscription, error)
	ListForUser(ctx context.Context, userID string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
}
