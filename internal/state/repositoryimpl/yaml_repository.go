package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/threadweave/threadweave/internal/state"
	"github.com/threadweave/threadweave/pkg/cerr"
	"github.com/threadweave/threadweave/pkg/storage"
)

const threadsPrefix = "threads"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(threadID string) string {
	return fmt.Sprintf("%s/%s/state.yaml", threadsPrefix, threadID)
}

func (r *YAMLRepository) Load(ctx context.Context, threadID string) (*state.ExecutionState, error) {
	data, err := r.storage.Read(ctx, path(threadID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("execution state", err)
	}
	var s state.ExecutionState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to unmarshal execution state: %w", err))
	}
	return &s, nil
}

func (r *YAMLRepository) Save(ctx context.Context, s *state.ExecutionState) error {
	if s.ThreadID == "" {
		return cerr.NewError(cerr.InvalidArgument, "execution state has no thread id", nil)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal execution state: %w", err))
	}
	if err := r.storage.Write(ctx, path(s.ThreadID), data); err != nil {
		return cerr.WrapStorageWriteError("execution state", err)
	}
	return nil
}

func (r *YAMLRepository) Delete(ctx context.Context, threadID string) error {
	if err := r.storage.Delete(ctx, path(threadID)); err != nil {
		return cerr.WrapStorageDeleteError("execution state", err)
	}
	return nil
}
