package condition

type Operation string

// Type-agnostic existence and emptiness checks, evaluated before any
// per-type dispatch.
const (
	OpExists     Operation = "exists"
	OpNotExists  Operation = "notExists"
	OpIsEmpty    Operation = "isEmpty"
	OpIsNotEmpty Operation = "isNotEmpty"
)

// String operations.
const (
	OpEquals       Operation = "equals"
	OpNotEquals    Operation = "notEquals"
	OpContains     Operation = "contains"
	OpNotContains  Operation = "notContains"
	OpStartsWith   Operation = "startsWith"
	OpEndsWith     Operation = "endsWith"
	OpMatchesRegex Operation = "matchesRegex"
)

// Number operations (equals/notEquals shared with string).
const (
	OpGreaterThan        Operation = "greaterThan"
	OpGreaterThanOrEqual Operation = "greaterThanOrEqual"
	OpLessThan           Operation = "lessThan"
	OpLessThanOrEqual    Operation = "lessThanOrEqual"
)

// Boolean operations (equals shared).
const (
	OpIsTrue  Operation = "isTrue"
	OpIsFalse Operation = "isFalse"
)

// Array operations (contains shared with string).
const (
	OpLengthEquals      Operation = "lengthEquals"
	OpLengthGreaterThan Operation = "lengthGreaterThan"
	OpLengthLessThan    Operation = "lengthLessThan"
)

// DateTime operations (equals shared).
const (
	OpIsAfter  Operation = "isAfter"
	OpIsBefore Operation = "isBefore"
)

type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Rule compares a left value against an optional right value under an
// operation, dispatched by the rule's data type.
type Rule struct {
	Left      Value     `yaml:"left_value" json:"leftValue"`
	Operation Operation `yaml:"operation" json:"operation"`
	Right     *Value    `yaml:"right_value,omitempty" json:"rightValue,omitempty"`
	DataType  DataType  `yaml:"data_type" json:"dataType"`
}

// Group combines rules and nested groups with a combinator. An empty
// group (no rules, no groups) evaluates to false.
type Group struct {
	Rules      []Rule     `yaml:"rules,omitempty" json:"rules,omitempty"`
	Combinator Combinator `yaml:"combinator" json:"combinator"`
	Groups     []Group    `yaml:"groups,omitempty" json:"groups,omitempty"`
}
