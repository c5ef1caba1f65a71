package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templateToken matches {stepId.output}, {stepId.status} and
// {stepId.response} embeds in legacy expressions.
var templateToken = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\.(output|status|response)\}`)

// legacyAllowed is the character whitelist for legacy expressions after
// template tokens are removed: alphanumerics, whitespace, and
// = ! & | < > ( ) ". Anything else is a rejection, not a silent strip.
func firstDisallowed(s string) (rune, bool) {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '\t', r == '\n', r == '\r':
		case strings.ContainsRune(`=!&|<>()"`, r):
		default:
			return r, true
		}
	}
	return 0, false
}

// EvaluateLegacy evaluates a freeform boolean expression from an old
// condition payload. Template tokens are substituted as safely quoted
// literals, the remainder of the expression is checked against the
// character whitelist, and the result is parsed into a closed AST of
// literals, comparisons and logical connectives. No interpreter, no
// identifier resolution: the grammar cannot express code execution.
func (e *Evaluator) EvaluateLegacy(expr string, data StepData) Outcome {
	if strings.TrimSpace(expr) == "" {
		return errOutcome("legacy expression is empty")
	}

	stripped := templateToken.ReplaceAllString(expr, "")
	if r, bad := firstDisallowed(stripped); bad {
		return errOutcome("legacy expression contains disallowed character %q", r)
	}

	var missing string
	substituted := templateToken.ReplaceAllStringFunc(expr, func(m string) string {
		sub := templateToken.FindStringSubmatch(m)
		stepID, field := sub[1], Field(sub[2])
		var src map[string]string
		switch field {
		case FieldOutput:
			src = data.Outputs
		case FieldStatus:
			src = data.Statuses
		case FieldResponse:
			src = data.Responses
		}
		raw, ok := src[stepID]
		if !ok {
			if missing == "" {
				missing = fmt.Sprintf("step %q has no %s", stepID, field)
			}
			return m
		}
		return strconv.Quote(raw)
	})
	if missing != "" {
		return errOutcome("%s", missing)
	}

	node, err := parseExpression(substituted)
	if err != nil {
		return errOutcome("legacy expression: %s", err)
	}
	val, err := node.eval()
	if err != nil {
		return errOutcome("legacy expression: %s", err)
	}
	b, ok := val.(bool)
	if !ok {
		return errOutcome("legacy expression evaluated to %T, want boolean", val)
	}
	return Outcome{Result: b}
}
