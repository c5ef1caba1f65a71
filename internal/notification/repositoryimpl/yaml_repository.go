package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/threadweave/threadweave/internal/notification"
	"github.com/threadweave/threadweave/pkg/cerr"
	"github.com/threadweave/threadweave/pkg/storage"
)

const (
	recordsPrefix       = "notifications"
	subscriptionsPrefix = "subscriptions"
)

type YAMLRecordRepository struct {
	storage storage.Storage
}

func NewYAMLRecordRepository(s storage.Storage) *YAMLRecordRepository {
	return &YAMLRecordRepository{storage: s}
}

func recordPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", recordsPrefix, id)
}

func (r *YAMLRecordRepository) Create(ctx context.Context, rec *notification.Record) error {
	return r.write(ctx, rec)
}

func (r *YAMLRecordRepository) Update(ctx context.Context, rec *notification.Record) error {
	exists, err := r.storage.Exists(ctx, recordPath(rec.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("notification record", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "notification record not found", nil)
	}
	return r.write(ctx, rec)
}

func (r *YAMLRecordRepository) ListForApproval(ctx context.Context, approvalID string) ([]*notification.Record, error) {
	paths, err := r.storage.List(ctx, recordsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("notification records", err)
	}
	var records []*notification.Record
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var rec notification.Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.ApprovalID == approvalID {
			records = append(records, &rec)
		}
	}
	return records, nil
}

func (r *YAMLRecordRepository) write(ctx context.Context, rec *notification.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal notification record: %w", err))
	}
	if err := r.storage.Write(ctx, recordPath(rec.ID), data); err != nil {
		return cerr.WrapStorageWriteError("notification record", err)
	}
	return nil
}

type YAMLSubscriptionRepository struct {
	storage storage.Storage
}

func NewYAMLSubscriptionRepository(s storage.Storage) *YAMLSubscriptionRepository {
	return &YAMLSubscriptionRepository{storage: s}
}

func subscriptionPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", subscriptionsPrefix, id)
}

func (r *YAMLSubscriptionRepository) Create(ctx context.Context, sub *notification.Subscription) error {
	data, err := yaml.Marshal(sub)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal subscription: %w", err))
	}
	if err := r.storage.Write(ctx, subscriptionPath(sub.ID), data); err != nil {
		return cerr.WrapStorageWriteError("subscription", err)
	}
	return nil
}

func (r *YAMLSubscriptionRepository) List(ctx context.Context) ([]*notification.Subscription, error) {
	return r.list(ctx, "")
}

func (r *YAMLSubscriptionRepository) ListForUser(ctx context.Context, userID string) ([]*notification.Subscription, error) {
	return r.list(ctx, userID)
}

func (r *YAMLSubscriptionRepository) list(ctx context.Context, userID string) ([]*notification.Subscription, error) {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("subscriptions", err)
	}
	var subs []*notification.Subscription
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var sub notification.Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			continue
		}
		if userID != "" && sub.UserID != userID {
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

func (r *YAMLSubscriptionRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, subscriptionPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("subscription", err)
	}
	return nil
}
