package panicerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafe(t *testing.T) {
	assert.NoError(t, Safe(func() error { return nil })())

	boom := errors.New("boom")
	assert.ErrorIs(t, Safe(func() error { return boom })(), boom)

	err := Safe(func() error { panic("oops") })()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}

func TestSafeContext(t *testing.T) {
	var got context.Context
	err := SafeContext(func(ctx context.Context) error {
		got = ctx
		return nil
	})(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)

	err = SafeContext(func(context.Context) error { panic("worker blew up") })(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker blew up")
}
