// Package projector derives sprint-status entries from the runtime state.
// It never reads the sprint-status file; its output only reaches disk through
// the reconcile engine.
package projector

import (
	"strings"

	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/workflow"
)

type phaseRule struct {
	match  string
	prefix bool
	status sprint.Status
}

// phaseTable is checked in order. Exact entries come before the prefix
// entries they would otherwise be shadowed by (TEA_NFR_ASSESS before TEA_).
var phaseTable = []phaseRule{
	{match: "CREATE_STORY", status: sprint.StatusInProgress},
	{match: "ATDD", status: sprint.StatusInProgress},
	{match: "DEV_STORY", status: sprint.StatusInProgress},
	{match: "TEST_REVIEW", status: sprint.StatusReview},
	{match: "TRACE", status: sprint.StatusReview},
	{match: "TEA_NFR_ASSESS", status: sprint.StatusReview},
	{match: "RETROSPECTIVE", status: sprint.StatusDone},
	{match: "VALIDATE_STORY", prefix: true, status: sprint.StatusInProgress},
	{match: "CODE_REVIEW", prefix: true, status: sprint.StatusReview},
	{match: "QA_PLAN_", prefix: true, status: sprint.StatusDone},
	{match: "TEA_", prefix: true, status: sprint.StatusInProgress},
}

// PhaseStatus maps a workflow phase to the status it implies for the current
// story.
func PhaseStatus(phase workflow.Phase) (sprint.Status, bool) {
	p := string(workflow.NormalizePhase(string(phase)))
	for _, rule := range phaseTable {
		if !rule.prefix && p == rule.match {
			return rule.status, true
		}
	}
	for _, rule := range phaseTable {
		if rule.prefix && strings.HasPrefix(p, rule.match) {
			return rule.status, true
		}
	}
	return "", false
}

// Resolver turns story references from the runtime state into entry keys.
type Resolver interface {
	Resolve(ref string) (string, bool)
	Stories(epic int) []string
}

// Projection is the partial map projected from one state snapshot.
type Projection struct {
	Statuses *sprint.StatusMap
	// Unresolved lists story references no key could be found for.
	Unresolved []string
}

// Project maps state onto entries. Completed stories and epics become done,
// the current story takes its phase status, and the RETROSPECTIVE phase marks
// the current epic's retrospective done.
func Project(state workflow.ProjectState, resolver Resolver) Projection {
	state = state.Normalize()
	proj := Projection{Statuses: sprint.NewStatusMap()}
	resolve := func(ref string) (string, bool) {
		if resolver == nil {
			return "", false
		}
		key, ok := resolver.Resolve(ref)
		if !ok {
			proj.Unresolved = append(proj.Unresolved, ref)
		}
		return key, ok
	}

	if status, ok := PhaseStatus(state.Phase); ok && state.CurrentStory != "" {
		if key, ok := resolve(state.CurrentStory); ok {
			proj.Statuses.Set(key, status)
		}
	}
	if isRetrospective(state.Phase) && state.CurrentEpic > 0 {
		proj.Statuses.Set(sprint.RetrospectiveKey(state.CurrentEpic), sprint.StatusDone)
	}
	for _, ref := range state.CompletedStories {
		if key, ok := resolve(ref); ok {
			proj.Statuses.Set(key, sprint.StatusDone)
		}
	}
	if resolver != nil {
		for _, epic := range state.CompletedEpics {
			for _, key := range resolver.Stories(epic) {
				proj.Statuses.Set(key, sprint.StatusDone)
			}
		}
	}
	return proj
}

func isRetrospective(phase workflow.Phase) bool {
	return workflow.NormalizePhase(string(phase)) == workflow.PhaseRetrospective
}
