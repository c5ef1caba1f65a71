package workflow

import (
	"fmt"
	"time"

	"github.com/threadweave/threadweave/internal/condition"
)

// StepKind distinguishes executable task steps, parallel groups, and
// conditional routing nodes.
type StepKind string

const (
	KindTask        StepKind = "task"
	KindParallel    StepKind = "parallel"
	KindConditional StepKind = "conditional"
)

// AgentRef selects the external agent a step is delegated to, either by
// role or by a specific agent identity. Both fields optional; resolution
// happens in the invoker.
type AgentRef struct {
	Role    string `yaml:"role,omitempty" json:"role,omitempty"`
	AgentID string `yaml:"agent_id,omitempty" json:"agentId,omitempty"`
}

// StepConfig carries per-step execution tuning.
//
// ContinueOnError does not loosen dependency satisfaction: a dependent of
// a continue-on-error step still waits for exact success. It marks the
// failure as tolerated without changing scheduling, which already
// confines a failure to the failed step's own dependents.
type StepConfig struct {
	TimeoutMS       int64 `yaml:"timeout_ms,omitempty" json:"timeoutMs,omitempty"`
	Retries         int   `yaml:"retries,omitempty" json:"retries,omitempty"`
	ContinueOnError bool  `yaml:"continue_on_error,omitempty" json:"continueOnError,omitempty"`
	ParallelLimit   int   `yaml:"parallel_limit,omitempty" json:"parallelLimit,omitempty"`
}

// Step is one unit of delegated work. Task is a template string that may
// embed {stepId.output}, {stepId.status} and {stepId.response} tokens,
// resolved against prior step results at execution time.
type Step struct {
	ID        string             `yaml:"id" json:"id"`
	Kind      StepKind           `yaml:"kind" json:"kind"`
	AgentRef  AgentRef           `yaml:"agent_ref,omitempty" json:"agentRef,omitempty"`
	Task      string             `yaml:"task" json:"task"`
	Deps      []string           `yaml:"deps,omitempty" json:"deps,omitempty"`
	Config    *StepConfig        `yaml:"config,omitempty" json:"config,omitempty"`
	Condition *condition.Payload `yaml:"condition,omitempty" json:"condition,omitempty"`
	// RequiresApproval gates the step behind a human decision.
	RequiresApproval bool   `yaml:"requires_approval,omitempty" json:"requiresApproval,omitempty"`
	ApprovalPrompt   string `yaml:"approval_prompt,omitempty" json:"approvalPrompt,omitempty"`
	RiskLevel        string `yaml:"risk_level,omitempty" json:"riskLevel,omitempty"`
}

type Metadata struct {
	CreatedBy string    `yaml:"created_by,omitempty" json:"createdBy,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty" json:"createdAt,omitempty"`
	Version   string    `yaml:"version,omitempty" json:"version,omitempty"`
	Tags      []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	ProjectID string    `yaml:"project_id,omitempty" json:"projectId,omitempty"`
}

// Definition is a named, ordered step graph.
type Definition struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Steps    []Step   `yaml:"steps" json:"steps"`
	Metadata Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Step returns the step with the given id, or nil.
func (d *Definition) Step(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// ValidateShape checks structural invariants that don't require graph
// traversal: non-empty unique ids and known kinds. Dependency reference
// and cycle checks live in the graph package.
func (d *Definition) ValidateShape() error {
	seen := make(map[string]struct{}, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("step %d: missing id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("step %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
		switch s.Kind {
		case KindTask, KindParallel, KindConditional:
		case "":
			// kind defaults to task on the wire
			s.Kind = KindTask
		default:
			return fmt.Errorf("step %q: unknown kind %q", s.ID, s.Kind)
		}
	}
	return nil
}
