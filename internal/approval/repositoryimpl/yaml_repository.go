package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/threadweave/threadweave/internal/approval"
	"github.com/threadweave/threadweave/pkg/cerr"
	"github.com/threadweave/threadweave/pkg/storage"
)

const approvalsPrefix = "approvals"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", approvalsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, a *approval.Approval) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("approval", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "approval already exists", nil)
	}
	return r.write(ctx, a)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*approval.Approval, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("approval", err)
	}
	var a approval.Approval
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to unmarshal approval: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) ListPending(ctx context.Context) ([]*approval.Approval, error) {
	paths, err := r.storage.List(ctx, approvalsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("approvals", err)
	}
	var pending []*approval.Approval
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a approval.Approval
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		if a.Status == approval.StatusPending {
			pending = append(pending, &a)
		}
	}
	return pending, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *approval.Approval) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("approval", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "approval not found", nil)
	}
	return r.write(ctx, a)
}

func (r *YAMLRepository) write(ctx context.Context, a *approval.Approval) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal approval: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("approval", err)
	}
	return nil
}
