package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAttributes(t *testing.T) {
	ctx := ContextWithSlog(context.Background())

	AddThread(ctx, "thread-1")
	AddStep(ctx, "step-a")
	AddAttribute(ctx, "custom", 42)

	assert.Equal(t, "thread-1", GetAttribute[string](ctx, ThreadAttributeKey))
	assert.Equal(t, "step-a", GetAttribute[string](ctx, StepAttributeKey))
	assert.Equal(t, 42, GetAttribute[int](ctx, "custom"))

	// wrong type or missing key yields the zero value
	assert.Equal(t, "", GetAttribute[string](ctx, "custom"))
	assert.Equal(t, 0, GetAttribute[int](ctx, "nope"))
}

func TestContextAttributes_NoBag(t *testing.T) {
	ctx := context.Background()
	AddThread(ctx, "ignored") // no-op without the bag
	assert.Nil(t, GetAttributes(ctx))
	assert.Equal(t, "", GetAttribute[string](ctx, ThreadAttributeKey))
}

func TestAttributesHandler_MergesContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := ContextWithSlog(context.Background())
	AddThread(ctx, "thread-1")
	AddStep(ctx, "step-a")

	logger.InfoContext(ctx, "step started")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "step started", record["msg"])
	assert.Equal(t, "thread-1", record[ThreadAttributeKey])
	assert.Equal(t, "step-a", record[StepAttributeKey])
}

func TestAttributesHandler_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no bag attached")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "no bag attached", record["msg"])
	_, hasThread := record[ThreadAttributeKey]
	assert.False(t, hasThread)
}
