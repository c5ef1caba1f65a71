package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe converts a panic inside fn into a returned error. A fn error
// takes precedence over a recovered panic.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}

// SafeContext is Safe for context-taking functions. Worker goroutines
// run under it so a panicking agent call or sweeper cannot take down
// the daemon.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn(ctx)
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}
