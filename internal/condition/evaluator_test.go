package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticStr(s string) *Value {
	return &Value{Source: SourceStatic, DataType: TypeString, Value: s}
}

func staticNum(n float64) *Value {
	return &Value{Source: SourceStatic, DataType: TypeNumber, Value: n}
}

func templateVal(stepID string, field Field) Value {
	return Value{Source: SourceTemplate, StepID: stepID, Field: field}
}

func boolRule(result bool) Rule {
	left := "no"
	if result {
		left = "yes"
	}
	return Rule{
		Left:      Value{Source: SourceStatic, DataType: TypeString, Value: left},
		Operation: OpEquals,
		Right:     staticStr("yes"),
		DataType:  TypeString,
	}
}

func TestEvaluateGroup_Combinators(t *testing.T) {
	e := NewEvaluator()
	data := StepData{}

	tests := []struct {
		name     string
		group    Group
		expected bool
	}{
		{
			name:     "AND over true true",
			group:    Group{Combinator: CombinatorAnd, Rules: []Rule{boolRule(true), boolRule(true)}},
			expected: true,
		},
		{
			name:     "AND over true false",
			group:    Group{Combinator: CombinatorAnd, Rules: []Rule{boolRule(true), boolRule(false)}},
			expected: false,
		},
		{
			name:     "OR over false false",
			group:    Group{Combinator: CombinatorOr, Rules: []Rule{boolRule(false), boolRule(false)}},
			expected: false,
		},
		{
			name:     "OR over false true",
			group:    Group{Combinator: CombinatorOr, Rules: []Rule{boolRule(false), boolRule(true)}},
			expected: true,
		},
		{
			name:     "empty group is false",
			group:    Group{Combinator: CombinatorAnd},
			expected: false,
		},
		{
			name: "nested groups",
			group: Group{
				Combinator: CombinatorOr,
				Groups: []Group{
					{Combinator: CombinatorAnd, Rules: []Rule{boolRule(false)}},
					{Combinator: CombinatorAnd, Rules: []Rule{boolRule(true), boolRule(true)}},
				},
			},
			expected: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := e.EvaluateGroup(&tt.group, data)
			assert.Equal(t, tt.expected, outcome.Result)
			assert.Empty(t, outcome.Err)
		})
	}
}

func TestEvaluateRule_TemplateResolution(t *testing.T) {
	e := NewEvaluator()
	data := StepData{
		Outputs:  map[string]string{"build": "ok"},
		Statuses: map[string]string{"build": "success"},
	}

	rule := Rule{
		Left:      templateVal("build", FieldStatus),
		Operation: OpEquals,
		Right:     staticStr("success"),
		DataType:  TypeString,
	}
	outcome := e.evaluateRule(&rule, data)
	assert.True(t, outcome.Result)

	rule.Left = templateVal("build", FieldOutput)
	rule.Right = staticStr("ok")
	outcome = e.evaluateRule(&rule, data)
	assert.True(t, outcome.Result)
}

func TestEvaluateRule_MissingStepDowngrades(t *testing.T) {
	e := NewEvaluator()

	// a comparison against a missing step resolves to false with an
	// attached error, never a hard failure
	rule := Rule{
		Left:      templateVal("nope", FieldOutput),
		Operation: OpEquals,
		Right:     staticStr("x"),
		DataType:  TypeString,
	}
	outcome := e.evaluateRule(&rule, StepData{})
	assert.False(t, outcome.Result)
	assert.NotEmpty(t, outcome.Err)
}

func TestEvaluateRule_ExistenceOps(t *testing.T) {
	e := NewEvaluator()
	data := StepData{Outputs: map[string]string{"a": "value", "empty": ""}}

	tests := []struct {
		name     string
		stepID   string
		op       Operation
		expected bool
	}{
		{"exists on present", "a", OpExists, true},
		{"exists on missing", "nope", OpExists, false},
		{"notExists on missing", "nope", OpNotExists, true},
		{"notExists on present", "a", OpNotExists, false},
		{"isEmpty on empty", "empty", OpIsEmpty, true},
		{"isEmpty on present", "a", OpIsEmpty, false},
		{"isNotEmpty on present", "a", OpIsNotEmpty, true},
		{"isNotEmpty on missing", "nope", OpIsNotEmpty, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := Rule{
				Left:      templateVal(tt.stepID, FieldOutput),
				Operation: tt.op,
				DataType:  TypeString,
			}
			outcome := e.evaluateRule(&rule, data)
			assert.Equal(t, tt.expected, outcome.Result)
			assert.Empty(t, outcome.Err)
		})
	}
}

func TestEvaluateRule_StringOps(t *testing.T) {
	e := NewEvaluator()
	data := StepData{Outputs: map[string]string{"a": "hello world"}}

	tests := []struct {
		op       Operation
		right    string
		expected bool
	}{
		{OpContains, "lo wo", true},
		{OpContains, "xyz", false},
		{OpNotContains, "xyz", true},
		{OpStartsWith, "hello", true},
		{OpEndsWith, "world", true},
		{OpMatchesRegex, `^hello\s+\w+$`, true},
		{OpMatchesRegex, `^\d+$`, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op)+" "+tt.right, func(t *testing.T) {
			rule := Rule{
				Left:      templateVal("a", FieldOutput),
				Operation: tt.op,
				Right:     staticStr(tt.right),
				DataType:  TypeString,
			}
			assert.Equal(t, tt.expected, e.evaluateRule(&rule, data).Result)
		})
	}
}

func TestEvaluateRule_InvalidRegexIsFalse(t *testing.T) {
	e := NewEvaluator()
	rule := Rule{
		Left:      Value{Source: SourceStatic, DataType: TypeString, Value: "anything"},
		Operation: OpMatchesRegex,
		Right:     staticStr("(unclosed"),
		DataType:  TypeString,
	}
	// the invalid pattern evaluates to false without erroring
	outcome := e.evaluateRule(&rule, StepData{})
	assert.False(t, outcome.Result)
	assert.Empty(t, outcome.Err)
}

func TestEvaluateRule_NumberOps(t *testing.T) {
	e := NewEvaluator()
	data := StepData{Outputs: map[string]string{"count": "42"}}

	tests := []struct {
		op       Operation
		right    float64
		expected bool
	}{
		{OpEquals, 42, true},
		{OpNotEquals, 41, true},
		{OpGreaterThan, 41, true},
		{OpGreaterThan, 42, false},
		{OpGreaterThanOrEqual, 42, true},
		{OpLessThan, 43, true},
		{OpLessThanOrEqual, 41, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			rule := Rule{
				Left:      templateVal("count", FieldOutput),
				Operation: tt.op,
				Right:     staticNum(tt.right),
				DataType:  TypeNumber,
			}
			assert.Equal(t, tt.expected, e.evaluateRule(&rule, data).Result)
		})
	}
}

func TestEvaluateRule_TypeMismatchDowngrades(t *testing.T) {
	e := NewEvaluator()
	data := StepData{Outputs: map[string]string{"a": "not a number"}}

	rule := Rule{
		Left:      templateVal("a", FieldOutput),
		Operation: OpGreaterThan,
		Right:     staticNum(1),
		DataType:  TypeNumber,
	}
	outcome := e.evaluateRule(&rule, data)
	assert.False(t, outcome.Result)
	assert.NotEmpty(t, outcome.Err)
}

func TestEvaluate_Discriminator(t *testing.T) {
	e := NewEvaluator()
	data := StepData{Outputs: map[string]string{"step1": "ok"}}

	t.Run("v2 selects structured", func(t *testing.T) {
		p := &Payload{
			Version: "2.0",
			RootGroup: &Group{
				Combinator: CombinatorAnd,
				Rules: []Rule{{
					Left:      templateVal("step1", FieldOutput),
					Operation: OpEquals,
					Right:     staticStr("ok"),
					DataType:  TypeString,
				}},
			},
		}
		assert.True(t, e.Evaluate(p, data).Result)
	})

	t.Run("expression without version selects legacy", func(t *testing.T) {
		p := &Payload{Expression: `{step1.output} === "ok"`}
		assert.True(t, e.Evaluate(p, data).Result)
	})

	t.Run("expression with version 1.0 selects legacy", func(t *testing.T) {
		p := &Payload{Version: "1.0", Expression: `{step1.output} === "ng"`}
		outcome := e.Evaluate(p, data)
		assert.False(t, outcome.Result)
		assert.Empty(t, outcome.Err)
	})

	t.Run("neither mode is an error outcome", func(t *testing.T) {
		outcome := e.Evaluate(&Payload{}, data)
		assert.False(t, outcome.Result)
		assert.NotEmpty(t, outcome.Err)
	})

	t.Run("nil payload", func(t *testing.T) {
		outcome := e.Evaluate(nil, data)
		assert.False(t, outcome.Result)
		require.NotEmpty(t, outcome.Err)
	})
}
