package condition

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// StepData is the evaluation context: denormalized outputs, statuses and
// raw responses of previously executed steps.
type StepData struct {
	Outputs   map[string]string
	Statuses  map[string]string
	Responses map[string]string
}

// Outcome is the result of evaluating a condition. Evaluation errors
// never propagate as Go errors to the scheduler; they resolve to a false
// result with the error attached for diagnostics.
type Outcome struct {
	Result bool
	Err    string
}

func errOutcome(format string, args ...any) Outcome {
	return Outcome{Result: false, Err: fmt.Sprintf(format, args...)}
}

// Payload is the wire shape of a step condition. Version "2.0" with a
// root group selects structured mode; an expression with version absent
// or "1.0" selects the legacy expression mode.
type Payload struct {
	Version    string `yaml:"version,omitempty" json:"version,omitempty"`
	RootGroup  *Group `yaml:"root_group,omitempty" json:"rootGroup,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// Evaluator evaluates step conditions. Construct one per orchestrator;
// it carries no shared state beyond a regex cache.
type Evaluator struct {
	regexCache map[string]*regexp.Regexp
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Evaluate dispatches on the payload discriminator.
func (e *Evaluator) Evaluate(p *Payload, data StepData) Outcome {
	if p == nil {
		return errOutcome("condition payload is empty")
	}
	switch {
	case p.Version == "2.0" && p.RootGroup != nil:
		return e.EvaluateGroup(p.RootGroup, data)
	case p.Expression != "" && (p.Version == "" || p.Version == "1.0"):
		return e.EvaluateLegacy(p.Expression, data)
	default:
		return errOutcome("condition payload has neither a v2 root group nor a legacy expression")
	}
}

// EvaluateGroup recursively evaluates a rule group. AND requires every
// member true, OR requires any; an empty group is false.
func (e *Evaluator) EvaluateGroup(g *Group, data StepData) Outcome {
	if len(g.Rules) == 0 && len(g.Groups) == 0 {
		return Outcome{Result: false}
	}

	var results []bool
	for i := range g.Rules {
		out := e.evaluateRule(&g.Rules[i], data)
		if out.Err != "" {
			return out
		}
		results = append(results, out.Result)
	}
	for i := range g.Groups {
		out := e.EvaluateGroup(&g.Groups[i], data)
		if out.Err != "" {
			return out
		}
		results = append(results, out.Result)
	}

	switch g.Combinator {
	case CombinatorOr:
		for _, r := range results {
			if r {
				return Outcome{Result: true}
			}
		}
		return Outcome{Result: false}
	case CombinatorAnd, "":
		for _, r := range results {
			if !r {
				return Outcome{Result: false}
			}
		}
		return Outcome{Result: true}
	default:
		return errOutcome("unknown combinator %q", g.Combinator)
	}
}

// resolve produces the raw value behind a Value. Template variables look
// up step data; static values are coerced to their declared type. The
// second return reports whether the value exists at all (a template
// variable referencing a step that never produced the field does not).
func resolve(v *Value, data StepData) (any, bool, error) {
	switch v.Source {
	case SourceTemplate:
		var m map[string]string
		switch v.Field {
		case FieldOutput:
			m = data.Outputs
		case FieldStatus:
			m = data.Statuses
		case FieldResponse:
			m = data.Responses
		default:
			return nil, false, fmt.Errorf("unknown template field %q", v.Field)
		}
		raw, ok := m[v.StepID]
		if !ok {
			return nil, false, nil
		}
		return raw, true, nil
	case SourceStatic:
		coerced, err := coerce(v.DataType, v.Value)
		if err != nil {
			return nil, false, err
		}
		return coerced, true, nil
	default:
		return nil, false, fmt.Errorf("unknown value source %q", v.Source)
	}
}

func isEmptyValue(raw any) bool {
	switch x := raw.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

func (e *Evaluator) evaluateRule(r *Rule, data StepData) Outcome {
	left, leftExists, err := resolve(&r.Left, data)
	if err != nil {
		return errOutcome("left value: %s", err)
	}

	// Existence and emptiness are type-agnostic and tolerate a missing
	// referenced value; every other operation treats it as an error.
	switch r.Operation {
	case OpExists:
		return Outcome{Result: leftExists}
	case OpNotExists:
		return Outcome{Result: !leftExists}
	case OpIsEmpty:
		return Outcome{Result: !leftExists || isEmptyValue(left)}
	case OpIsNotEmpty:
		return Outcome{Result: leftExists && !isEmptyValue(left)}
	}

	if !leftExists {
		return errOutcome("step %q has no %s", r.Left.StepID, r.Left.Field)
	}

	var right any
	if r.Right != nil {
		var rightExists bool
		right, rightExists, err = resolve(r.Right, data)
		if err != nil {
			return errOutcome("right value: %s", err)
		}
		if !rightExists {
			return errOutcome("step %q has no %s", r.Right.StepID, r.Right.Field)
		}
	}

	switch r.DataType {
	case TypeString:
		return e.evaluateString(r.Operation, left, right)
	case TypeNumber:
		return evaluateNumber(r.Operation, left, right)
	case TypeBoolean:
		return evaluateBoolean(r.Operation, left, right)
	case TypeArray:
		return evaluateArray(r.Operation, left, right)
	case TypeObject:
		// Only existence/emptiness apply to objects, and those were
		// handled above.
		return errOutcome("operation %q is not supported for objects", r.Operation)
	case TypeDateTime:
		return evaluateDateTime(r.Operation, left, right)
	default:
		return errOutcome("unknown data type %q", r.DataType)
	}
}

func asString(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

func (e *Evaluator) evaluateString(op Operation, left, right any) Outcome {
	l, ok := asString(left)
	if !ok {
		return errOutcome("operation %q expects a string left value", op)
	}
	r, _ := asString(right)
	switch op {
	case OpEquals:
		return Outcome{Result: l == r}
	case OpNotEquals:
		return Outcome{Result: l != r}
	case OpContains:
		return Outcome{Result: strings.Contains(l, r)}
	case OpNotContains:
		return Outcome{Result: !strings.Contains(l, r)}
	case OpStartsWith:
		return Outcome{Result: strings.HasPrefix(l, r)}
	case OpEndsWith:
		return Outcome{Result: strings.HasSuffix(l, r)}
	case OpMatchesRegex:
		re, err := e.compileRegex(r)
		if err != nil {
			// Invalid patterns evaluate to false rather than erroring.
			return Outcome{Result: false}
		}
		return Outcome{Result: re.MatchString(l)}
	default:
		return errOutcome("operation %q is not supported for strings", op)
	}
}

func (e *Evaluator) compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexCache[pattern] = re
	return re, nil
}

func asNumber(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		var f float64
		_, err := fmt.Sscanf(x, "%g", &f)
		return f, err == nil
	default:
		return 0, false
	}
}

func evaluateNumber(op Operation, left, right any) Outcome {
	l, ok := asNumber(left)
	if !ok {
		return errOutcome("operation %q expects a numeric left value, got %v", op, left)
	}
	r, ok := asNumber(right)
	if !ok {
		return errOutcome("operation %q expects a numeric right value, got %v", op, right)
	}
	switch op {
	case OpEquals:
		return Outcome{Result: l == r}
	case OpNotEquals:
		return Outcome{Result: l != r}
	case OpGreaterThan:
		return Outcome{Result: l > r}
	case OpGreaterThanOrEqual:
		return Outcome{Result: l >= r}
	case OpLessThan:
		return Outcome{Result: l < r}
	case OpLessThanOrEqual:
		return Outcome{Result: l <= r}
	default:
		return errOutcome("operation %q is not supported for numbers", op)
	}
}

func asBool(raw any) (bool, bool) {
	switch x := raw.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(x) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

func evaluateBoolean(op Operation, left, right any) Outcome {
	l, ok := asBool(left)
	if !ok {
		return errOutcome("operation %q expects a boolean left value, got %v", op, left)
	}
	switch op {
	case OpIsTrue:
		return Outcome{Result: l}
	case OpIsFalse:
		return Outcome{Result: !l}
	case OpEquals:
		r, ok := asBool(right)
		if !ok {
			return errOutcome("operation %q expects a boolean right value, got %v", op, right)
		}
		return Outcome{Result: l == r}
	default:
		return errOutcome("operation %q is not supported for booleans", op)
	}
}

func asArray(raw any) ([]any, bool) {
	switch x := raw.(type) {
	case []any:
		return x, true
	case string:
		// Step outputs are raw strings; a JSON-ish comma list is the
		// closest an agent response gets to an array.
		if x == "" {
			return nil, true
		}
		parts := strings.Split(x, ",")
		arr := make([]any, len(parts))
		for i, p := range parts {
			arr[i] = strings.TrimSpace(p)
		}
		return arr, true
	default:
		return nil, false
	}
}

func evaluateArray(op Operation, left, right any) Outcome {
	l, ok := asArray(left)
	if !ok {
		return errOutcome("operation %q expects an array left value", op)
	}
	switch op {
	case OpContains:
		for _, item := range l {
			if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", right) {
				return Outcome{Result: true}
			}
		}
		return Outcome{Result: false}
	case OpLengthEquals, OpLengthGreaterThan, OpLengthLessThan:
		n, ok := asNumber(right)
		if !ok {
			return errOutcome("operation %q expects a numeric right value", op)
		}
		length := float64(len(l))
		switch op {
		case OpLengthEquals:
			return Outcome{Result: length == n}
		case OpLengthGreaterThan:
			return Outcome{Result: length > n}
		default:
			return Outcome{Result: length < n}
		}
	default:
		return errOutcome("operation %q is not supported for arrays", op)
	}
}

func asTime(raw any) (time.Time, bool) {
	switch x := raw.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339, x)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func evaluateDateTime(op Operation, left, right any) Outcome {
	l, ok := asTime(left)
	if !ok {
		return errOutcome("operation %q expects a timestamp left value, got %v", op, left)
	}
	r, ok := asTime(right)
	if !ok {
		return errOutcome("operation %q expects a timestamp right value, got %v", op, right)
	}
	switch op {
	case OpIsAfter:
		return Outcome{Result: l.After(r)}
	case OpIsBefore:
		return Outcome{Result: l.Before(r)}
	case OpEquals:
		return Outcome{Result: l.Equal(r)}
	default:
		return errOutcome("operation %q is not supported for timestamps", op)
	}
}
