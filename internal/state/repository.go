package state

import "context"

// Repository is the persistence contract the orchestrator checkpoints
// through. Save is at-least-once: a crash between a step completing and
// a successful save re-runs that one step on resume; a crash after a
// successful save resumes cleanly.
type Repository interface {
	// Load returns the stored state for a thread, or a NotFound error
	// if the thread has never been checkpointed.
	Load(ctx context.Context, threadID string) (*ExecutionState, error)
	Save(ctx context.Context, s *ExecutionState) error
	Delete(ctx context.Context, threadID string) error
}
