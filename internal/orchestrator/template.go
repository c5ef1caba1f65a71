package orchestrator

import (
	"regexp"

	"github.com/threadweave/threadweave/internal/condition"
)

var taskToken = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\.(output|status|response)\}`)

// ResolveTemplates substitutes {stepId.output}, {stepId.status} and
// {stepId.response} tokens with values from prior step results. Tokens
// referencing steps that have not executed are left untouched so the
// agent sees the unresolved reference instead of a silent empty string.
func ResolveTemplates(task string, data condition.StepData) string {
	return taskToken.ReplaceAllStringFunc(task, func(token string) string {
		m := taskToken.FindStringSubmatch(token)
		stepID, field := m[1], m[2]

		var value string
		var ok bool
		switch field {
		case "output":
			value, ok = data.Outputs[stepID]
		case "status":
			value, ok = data.Statuses[stepID]
		case "response":
			value, ok = data.Responses[stepID]
		}
		if !ok {
			return token
		}
		return value
	})
}
