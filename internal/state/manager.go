package state

import (
	"github.com/threadweave/threadweave/internal/workflow"
)

// OverallStatus derives the aggregate workflow status from step results.
// Abort dominates everything: a single aborted step makes the whole
// thread aborted no matter how much else succeeded.
func OverallStatus(stepResults map[string]StepResult) WorkflowStatus {
	for _, r := range stepResults {
		if r.Status == StatusAborted {
			return WorkflowAborted
		}
	}

	allSuccess := len(stepResults) > 0
	anyFailed := false
	anyBlocked := false
	for _, r := range stepResults {
		switch r.Status {
		case StatusSuccess:
		case StatusFailed:
			allSuccess = false
			anyFailed = true
		case StatusBlocked:
			allSuccess = false
			anyBlocked = true
		default:
			allSuccess = false
		}
	}

	switch {
	case allSuccess:
		return WorkflowCompleted
	case anyFailed:
		return WorkflowFailed
	case anyBlocked:
		return WorkflowPartial
	default:
		return WorkflowPartial
	}
}

// Summarize counts step outcomes for the execution response.
func Summarize(stepResults map[string]StepResult, totalDurationMS int64) Summary {
	s := Summary{
		Total:      len(stepResults),
		DurationMS: totalDurationMS,
	}
	for _, r := range stepResults {
		switch r.Status {
		case StatusSuccess:
			s.Successful++
		case StatusFailed:
			s.Failed++
		case StatusBlocked:
			s.Blocked++
		}
	}
	return s
}

// PublicStatus maps an internal step result to its caller-facing status.
// A failed result with an empty response is reported as not_executed:
// the step was scheduled but the agent never actually ran it.
func PublicStatus(result *StepResult) Status {
	if result == nil {
		return StatusNotExecuted
	}
	if result.Status == StatusFailed && result.Response == "" {
		return StatusNotExecuted
	}
	return result.Status
}

// SatisfactionResult reports whether a step's dependencies permit it to
// run, and if not, the first dependency that blocked it.
type SatisfactionResult struct {
	Satisfied        bool
	FailedDependency string
}

// DependenciesSatisfied checks every dependency of step. A dependency
// that is itself a conditional-kind step counts as satisfied (branch
// routing is resolved upstream); any other dependency must have an exact
// success result. Failed, blocked or missing results leave the step
// unsatisfied.
func DependenciesSatisfied(step *workflow.Step, stepResults map[string]StepResult, def *workflow.Definition) SatisfactionResult {
	for _, depID := range step.Deps {
		dep := def.Step(depID)
		if dep != nil && dep.Kind == workflow.KindConditional {
			continue
		}
		result, ok := stepResults[depID]
		if !ok || result.Status != StatusSuccess {
			return SatisfactionResult{Satisfied: false, FailedDependency: depID}
		}
	}
	return SatisfactionResult{Satisfied: true}
}
