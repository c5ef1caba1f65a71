package graph

import (
	"fmt"

	"github.com/threadweave/threadweave/internal/state"
	"github.com/threadweave/threadweave/internal/workflow"
)

// ValidationError describes a structural defect in a step graph. All
// validation errors are fatal: a workflow with any of them never runs a
// single step.
type ValidationError struct {
	StepID string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("step %q: %s", e.StepID, e.Reason)
}

// Validate checks dependency references and acyclicity. Missing
// references are reported per dangling id; cycles are detected with a
// depth-first traversal carrying a recursion stack, so a step depending
// on itself directly or transitively is reported.
func Validate(def *workflow.Definition) []ValidationError {
	var errs []ValidationError

	ids := make(map[string]struct{}, len(def.Steps))
	for i := range def.Steps {
		ids[def.Steps[i].ID] = struct{}{}
	}

	for i := range def.Steps {
		s := &def.Steps[i]
		for _, dep := range s.Deps {
			if _, ok := ids[dep]; !ok {
				errs = append(errs, ValidationError{
					StepID: s.ID,
					Reason: fmt.Sprintf("depends on unknown step %q", dep),
				})
			}
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	mark := make(map[string]int, len(def.Steps))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch mark[id] {
		case inStack:
			return true
		case done:
			return false
		}
		mark[id] = inStack
		if s := def.Step(id); s != nil {
			for _, dep := range s.Deps {
				if _, ok := ids[dep]; !ok {
					continue // already reported as a dangling reference
				}
				if visit(dep) {
					mark[id] = done
					return true
				}
			}
		}
		mark[id] = done
		return false
	}

	for i := range def.Steps {
		id := def.Steps[i].ID
		if mark[id] == unvisited && visit(id) {
			errs = append(errs, ValidationError{
				StepID: id,
				Reason: "dependency cycle detected",
			})
		}
	}

	return errs
}

// ReadySteps returns the ids of steps that may start now: not yet
// executed, and every dependency either a conditional routing node
// (satisfied by construction) or completed with success. Conditional
// steps themselves become ready the same way; the orchestrator routes
// them without an agent call.
func ReadySteps(def *workflow.Definition, stepResults map[string]state.StepResult) []string {
	var ready []string
	for i := range def.Steps {
		s := &def.Steps[i]
		if _, executed := stepResults[s.ID]; executed {
			continue
		}
		if sat := state.DependenciesSatisfied(s, stepResults, def); sat.Satisfied {
			ready = append(ready, s.ID)
		}
	}
	return ready
}

// FinalSteps returns the leaves of the graph: steps no other step
// depends on, excluding conditional routing nodes.
func FinalSteps(def *workflow.Definition) []string {
	depended := make(map[string]struct{})
	for i := range def.Steps {
		for _, dep := range def.Steps[i].Deps {
			depended[dep] = struct{}{}
		}
	}

	var finals []string
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.Kind == workflow.KindConditional {
			continue
		}
		if _, ok := depended[s.ID]; !ok {
			finals = append(finals, s.ID)
		}
	}
	return finals
}
