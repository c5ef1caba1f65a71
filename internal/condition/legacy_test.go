package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateLegacy(t *testing.T) {
	e := NewEvaluator()
	data := StepData{
		Outputs:  map[string]string{"step1": "ok", "count": "5"},
		Statuses: map[string]string{"step1": "success"},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"strict equality true", `{step1.output} === "ok"`, true},
		{"strict equality false", `{step1.output} === "ng"`, false},
		{"loose equality", `{step1.output} == "ok"`, true},
		{"inequality", `{step1.output} !== "ng"`, true},
		{"status field", `{step1.status} == "success"`, true},
		{"logical and", `{step1.output} == "ok" && {step1.status} == "success"`, true},
		{"logical or", `{step1.output} == "ng" || {step1.status} == "success"`, true},
		{"negation", `!({step1.output} == "ng")`, true},
		{"numeric comparison via loose equality", `{count.output} == 5`, true},
		{"parenthesized", `({step1.output} == "ok") && ({count.output} == 5)`, true},
		{"boolean literals", `true && !false`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := e.EvaluateLegacy(tt.expr, data)
			assert.Empty(t, outcome.Err)
			assert.Equal(t, tt.expected, outcome.Result)
		})
	}
}

func TestEvaluateLegacy_Errors(t *testing.T) {
	e := NewEvaluator()
	data := StepData{Outputs: map[string]string{"step1": "ok"}}

	tests := []struct {
		name string
		expr string
	}{
		{"empty expression", "   "},
		{"disallowed character", `{step1.output} == "ok"; dropTables()`},
		{"function call shape", `eval({step1.output})`},
		{"missing step", `{nope.output} == "ok"`},
		{"non-boolean result", `"just a string"`},
		{"unbalanced parens", `({step1.output} == "ok"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := e.EvaluateLegacy(tt.expr, data)
			assert.False(t, outcome.Result)
			assert.NotEmpty(t, outcome.Err)
		})
	}
}

func TestEvaluateLegacy_QuotingIsSafe(t *testing.T) {
	e := NewEvaluator()
	// an output containing quotes and operators must be treated as a
	// literal, not spliced into the expression
	data := StepData{Outputs: map[string]string{"step1": `" || true || "`}}

	outcome := e.EvaluateLegacy(`{step1.output} == "ok"`, data)
	assert.Empty(t, outcome.Err)
	assert.False(t, outcome.Result)
}
