package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/threadweave/threadweave/internal/workflow"
)

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		results  map[string]StepResult
		expected WorkflowStatus
	}{
		{
			name: "all success",
			results: map[string]StepResult{
				"a": {Status: StatusSuccess},
				"b": {Status: StatusSuccess},
			},
			expected: WorkflowCompleted,
		},
		{
			name: "any failed",
			results: map[string]StepResult{
				"a": {Status: StatusSuccess},
				"b": {Status: StatusFailed},
			},
			expected: WorkflowFailed,
		},
		{
			name: "any blocked",
			results: map[string]StepResult{
				"a": {Status: StatusSuccess},
				"b": {Status: StatusBlocked},
			},
			expected: WorkflowPartial,
		},
		{
			name: "skipped step is not completion",
			results: map[string]StepResult{
				"a": {Status: StatusSuccess},
				"b": {Status: StatusSkipped},
			},
			expected: WorkflowPartial,
		},
		{
			name:     "empty result set",
			results:  map[string]StepResult{},
			expected: WorkflowPartial,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OverallStatus(tt.results))
		})
	}
}

func TestOverallStatus_AbortDominates(t *testing.T) {
	// one aborted step overrides any amount of success and failure
	results := map[string]StepResult{
		"a": {Status: StatusSuccess},
		"b": {Status: StatusSuccess},
		"c": {Status: StatusFailed},
		"d": {Status: StatusAborted},
	}
	assert.Equal(t, WorkflowAborted, OverallStatus(results))

	results = map[string]StepResult{
		"a": {Status: StatusAborted},
	}
	assert.Equal(t, WorkflowAborted, OverallStatus(results))
}

func TestPublicStatus(t *testing.T) {
	assert.Equal(t, StatusNotExecuted, PublicStatus(nil))

	// failed with an empty response means the agent never ran the step
	assert.Equal(t, StatusNotExecuted, PublicStatus(&StepResult{Status: StatusFailed}))

	assert.Equal(t, StatusFailed, PublicStatus(&StepResult{Status: StatusFailed, Response: "partial output"}))
	assert.Equal(t, StatusSuccess, PublicStatus(&StepResult{Status: StatusSuccess, Response: "done"}))
	assert.Equal(t, StatusAborted, PublicStatus(&StepResult{Status: StatusAborted}))
}

func TestDependenciesSatisfied(t *testing.T) {
	d := &workflow.Definition{
		ID: "wf",
		Steps: []workflow.Step{
			{ID: "a"},
			{ID: "gate", Kind: workflow.KindConditional},
			{ID: "b", Deps: []string{"a"}},
			{ID: "c", Deps: []string{"gate"}},
			{ID: "d", Deps: []string{"a", "b"}},
		},
	}

	t.Run("missing dependency result", func(t *testing.T) {
		sat := DependenciesSatisfied(d.Step("b"), map[string]StepResult{}, d)
		assert.False(t, sat.Satisfied)
		assert.Equal(t, "a", sat.FailedDependency)
	})

	t.Run("success required exactly", func(t *testing.T) {
		for _, status := range []Status{StatusFailed, StatusBlocked, StatusAborted, StatusSkipped} {
			sat := DependenciesSatisfied(d.Step("b"), map[string]StepResult{"a": {Status: status}}, d)
			assert.False(t, sat.Satisfied, "status %s must not satisfy", status)
		}
		sat := DependenciesSatisfied(d.Step("b"), map[string]StepResult{"a": {Status: StatusSuccess}}, d)
		assert.True(t, sat.Satisfied)
	})

	t.Run("conditional dependency passes through", func(t *testing.T) {
		sat := DependenciesSatisfied(d.Step("c"), map[string]StepResult{}, d)
		assert.True(t, sat.Satisfied)
	})

	t.Run("first failing dependency reported", func(t *testing.T) {
		sat := DependenciesSatisfied(d.Step("d"), map[string]StepResult{"a": {Status: StatusSuccess}}, d)
		assert.False(t, sat.Satisfied)
		assert.Equal(t, "b", sat.FailedDependency)
	})
}

func TestRecordResult(t *testing.T) {
	st := NewExecutionState("thread-1")
	st.RecordResult("a", StepResult{Status: StatusSuccess, Response: "output-a"})

	assert.Equal(t, StatusSuccess, st.StepResults["a"].Status)
	assert.Equal(t, "output-a", st.StepOutputs["a"])
}

func TestSummarize(t *testing.T) {
	s := Summarize(map[string]StepResult{
		"a": {Status: StatusSuccess},
		"b": {Status: StatusSuccess},
		"c": {Status: StatusFailed},
		"d": {Status: StatusBlocked},
	}, 1234)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Blocked)
	assert.Equal(t, int64(1234), s.DurationMS)
}
