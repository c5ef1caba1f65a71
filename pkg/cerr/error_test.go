package cerr

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadweave/threadweave/pkg/storage"
)

func TestError_Message(t *testing.T) {
	err := NewError(NotFound, "thread not found", nil)
	assert.Equal(t, "[NotFound] thread not found", err.Error())

	wrapped := NewError(Internal, "storage error", errors.New("disk full"))
	assert.Equal(t, "[Internal] storage error: disk full", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("root cause")
	err := NewError(Internal, "wrapper", underlying)
	assert.ErrorIs(t, err, underlying)
}

func TestError_StackOnlyForErrorLevel(t *testing.T) {
	assert.NotEmpty(t, NewError(Internal, "boom", nil).Stack)
	assert.Empty(t, NewError(NotFound, "missing", nil).Stack)
	assert.Empty(t, NewError(InvalidArgument, "bad input", nil).Stack)
}

func TestCode_LogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, Internal.LogLevel())
	assert.Equal(t, slog.LevelError, Unknown.LogLevel())
	assert.Equal(t, slog.LevelWarn, NotFound.LogLevel())
	assert.Equal(t, slog.LevelWarn, InvalidArgument.LogLevel())
}

func TestWrapStorageReadError(t *testing.T) {
	notFound := fmt.Errorf("threads/t1: %w", storage.ErrNotFound)
	err := WrapStorageReadError("execution state", notFound)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, NotFound, ce.Code)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	other := WrapStorageReadError("execution state", errors.New("io error"))
	require.ErrorAs(t, other, &ce)
	assert.Equal(t, Internal, ce.Code)
}
