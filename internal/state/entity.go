package state

// Status is the internal status of a single step result.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusBlocked     Status = "blocked"
	StatusAborted     Status = "aborted"
	StatusSkipped     Status = "skipped"
	StatusNotExecuted Status = "not_executed"
)

// WorkflowStatus is the aggregate status of a whole thread.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowPartial   WorkflowStatus = "partial"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowAborted   WorkflowStatus = "aborted"
)

// StepResult records the outcome of one step execution. A failed result
// with an empty response means the step never actually ran; PublicStatus
// reports it as not_executed so diagnostics can tell the two apart.
type StepResult struct {
	Status     Status `yaml:"status" json:"status"`
	Response   string `yaml:"response,omitempty" json:"response,omitempty"`
	DurationMS int64  `yaml:"duration_ms,omitempty" json:"durationMs,omitempty"`
	Error      string `yaml:"error,omitempty" json:"error,omitempty"`
}

// ExecutionState is the full mutable state of one workflow thread. It is
// created when a thread starts (fresh or loaded for resume), mutated only
// by the orchestrator after step transitions, and persisted at every
// transition.
type ExecutionState struct {
	ThreadID      string                `yaml:"thread_id" json:"threadId"`
	WorkflowID    string                `yaml:"workflow_id,omitempty" json:"workflowId,omitempty"`
	ProjectID     string                `yaml:"project_id,omitempty" json:"projectId,omitempty"`
	StepResults   map[string]StepResult `yaml:"step_results" json:"stepResults"`
	StepOutputs   map[string]string     `yaml:"step_outputs" json:"stepOutputs"`
	SessionIDs    map[string]string     `yaml:"session_ids" json:"sessionIds"`
	OverallStatus WorkflowStatus        `yaml:"overall_status" json:"overallStatus"`
}

// NewExecutionState returns an empty running state for a thread.
func NewExecutionState(threadID string) *ExecutionState {
	return &ExecutionState{
		ThreadID:      threadID,
		StepResults:   make(map[string]StepResult),
		StepOutputs:   make(map[string]string),
		SessionIDs:    make(map[string]string),
		OverallStatus: WorkflowRunning,
	}
}

// RecordResult stores a step result and denormalizes its response into
// StepOutputs for template substitution.
func (s *ExecutionState) RecordResult(stepID string, result StepResult) {
	if s.StepResults == nil {
		s.StepResults = make(map[string]StepResult)
	}
	if s.StepOutputs == nil {
		s.StepOutputs = make(map[string]string)
	}
	s.StepResults[stepID] = result
	s.StepOutputs[stepID] = result.Response
}

// Summary aggregates step counts for the execution response.
type Summary struct {
	Total      int   `yaml:"total" json:"total"`
	Successful int   `yaml:"successful" json:"successful"`
	Failed     int   `yaml:"failed" json:"failed"`
	Blocked    int   `yaml:"blocked" json:"blocked"`
	DurationMS int64 `yaml:"duration_ms" json:"durationMs"`
}
