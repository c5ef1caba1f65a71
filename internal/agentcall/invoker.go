package agentcall

import (
	"context"

	"github.com/threadweave/threadweave/internal/workflow"
)

// Result is what an external agent produced for one step.
type Result struct {
	Output    string
	SessionID string
}

// Invoker delegates a resolved task to an external agent. A non-empty
// priorSessionID resumes the agent's previous conversation for the step,
// so a restarted process picks up context instead of starting cold.
type Invoker interface {
	Invoke(ctx context.Context, ref workflow.AgentRef, task string, priorSessionID string) (*Result, error)
}
