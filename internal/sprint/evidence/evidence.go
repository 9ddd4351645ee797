// Package evidence infers statuses from project artifacts. A scan only checks
// whether artifacts exist and reads the story file's Status field; it never
// interprets artifact prose.
package evidence

import (
	"fmt"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

// Confidence grades how much a piece of evidence can be trusted.
type Confidence string

const (
	ConfidenceExplicit Confidence = "explicit"
	ConfidenceStrong   Confidence = "strong"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceWeak     Confidence = "weak"
	ConfidenceNone     Confidence = "none"
)

// Evidence priorities. Lower wins.
const (
	PriorityExplicitStatus = 1
	PrioritySynthesis      = 2
	PriorityReview         = 3
	PriorityValidation     = 4
	PriorityStoryFile      = 5
	PriorityNothing        = 6
)

// Evidence is one inferred status together with where it came from.
type Evidence struct {
	Priority   int
	Confidence Confidence
	Inferred   sprint.Status
	Source     string
}

// Explicit reports whether the evidence bypasses the forward-only guard.
func (e Evidence) Explicit() bool {
	return e.Confidence == ConfidenceExplicit
}

// Above reports whether the evidence says more than "nothing found".
func (e Evidence) Above() bool {
	return e.Confidence != ConfidenceNone && e.Confidence != ""
}

func (e Evidence) String() string {
	return fmt.Sprintf("p%d %s -> %s (%s)", e.Priority, e.Confidence, e.Inferred, e.Source)
}

// None is the evidence reported when no artifact exists for a key.
func None(source string) Evidence {
	return Evidence{Priority: PriorityNothing, Confidence: ConfidenceNone, Inferred: sprint.StatusBacklog, Source: source}
}

// Facts are the raw lookup answers a record was derived from.
type Facts struct {
	StoryFile     string
	StatusField   string
	HasSynthesis  bool
	HasReview     bool
	HasValidation bool
}

// Record is the scan outcome for one key. Matches lists every applicable
// evidence in priority order; Best is the first of them.
type Record struct {
	Key      string
	Best     Evidence
	Matches  []Evidence
	Facts    Facts
	Failures []*sprint.ScanFailure
}

// Failed reports whether any lookup for the key failed.
func (r Record) Failed() bool {
	return len(r.Failures) > 0
}

// ArtifactStore answers the artifact questions a scan asks about a story.
// StoryFile returns an empty path when no story file exists and an empty
// status when the file carries no Status field.
type ArtifactStore interface {
	StoryFile(entry sprint.Entry) (path string, status string, err error)
	HasSynthesis(entry sprint.Entry) (bool, error)
	HasReview(entry sprint.Entry) (bool, error)
	HasValidation(entry sprint.Entry) (bool, error)
}
