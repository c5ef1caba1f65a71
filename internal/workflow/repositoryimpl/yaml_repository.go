package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/threadweave/threadweave/internal/workflow"
	"github.com/threadweave/threadweave/pkg/cerr"
	"github.com/threadweave/threadweave/pkg/storage"
)

const definitionsPrefix = "workflows"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", definitionsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, d *workflow.Definition) error {
	if err := d.ValidateShape(); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "invalid workflow definition", err)
	}
	exists, err := r.storage.Exists(ctx, path(d.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("workflow definition", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "workflow definition already exists", nil)
	}
	return r.write(ctx, d)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*workflow.Definition, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("workflow definition", err)
	}
	var d workflow.Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to unmarshal workflow definition: %w", err))
	}
	return &d, nil
}

func (r *YAMLRepository) List(ctx context.Context, projectID string, limit, offset int) ([]*workflow.Definition, int, error) {
	paths, err := r.storage.List(ctx, definitionsPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("workflow definitions", err)
	}

	sort.Strings(paths)

	var all []*workflow.Definition
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var d workflow.Definition
		if err := yaml.Unmarshal(data, &d); err != nil {
			continue
		}
		if projectID != "" && d.Metadata.ProjectID != projectID {
			continue
		}
		all = append(all, &d)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, d *workflow.Definition) error {
	if err := d.ValidateShape(); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "invalid workflow definition", err)
	}
	exists, err := r.storage.Exists(ctx, path(d.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("workflow definition", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "workflow definition not found", nil)
	}
	return r.write(ctx, d)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("workflow definition", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, d *workflow.Definition) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal workflow definition: %w", err))
	}
	if err := r.storage.Write(ctx, path(d.ID), data); err != nil {
		return cerr.WrapStorageWriteError("workflow definition", err)
	}
	return nil
}
