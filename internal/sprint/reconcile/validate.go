package reconcile

import (
	"fmt"
	"sort"

	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/sprint/evidence"
)

// Severity grades a validation finding.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
)

// Rule identifies which recorded-status/artifact disagreement was found.
type Rule string

const (
	RuleDoneWithoutSynthesis Rule = "done-without-synthesis"
	RuleBacklogWithSynthesis Rule = "backlog-with-synthesis"
	RuleInProgressWithReview Rule = "in-progress-with-review"
	RuleReviewWithSynthesis  Rule = "review-with-synthesis"
)

// Finding is one disagreement between a recorded status and its artifacts.
type Finding struct {
	Key      string
	Status   sprint.Status
	Rule     Rule
	Severity Severity
	Message  string
}

// Report is the outcome of a validation pass. Keys whose scan failed are
// listed in Failures and produce no findings.
type Report struct {
	Checked  int
	Findings []Finding
	Failures []*sprint.ScanFailure
}

// HasErrors reports whether any finding is an ERROR.
func (r Report) HasErrors() bool {
	return len(r.Errors()) > 0
}

// Errors returns the ERROR findings.
func (r Report) Errors() []Finding {
	return r.filter(SeverityError)
}

// Warnings returns the WARN findings.
func (r Report) Warnings() []Finding {
	return r.filter(SeverityWarn)
}

func (r Report) filter(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks every EPIC_STORY key of doc against its scanned facts.
func Validate(doc *sprint.Document, classifier sprint.Classifier, records map[string]evidence.Record) Report {
	var report Report
	if doc == nil {
		return report
	}
	for _, key := range doc.Statuses.Keys() {
		if classifier.Classify(key).Kind != sprint.KindEpicStory {
			continue
		}
		rec, ok := records[key]
		if !ok {
			continue
		}
		if rec.Failed() {
			report.Failures = append(report.Failures, rec.Failures...)
			continue
		}
		report.Checked++
		status, _ := doc.Statuses.Get(key)
		if f, ok := check(key, status, rec.Facts); ok {
			report.Findings = append(report.Findings, f)
		}
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		if report.Findings[i].Severity != report.Findings[j].Severity {
			return report.Findings[i].Severity == SeverityError
		}
		return false
	})
	return report
}

func check(key string, status sprint.Status, facts evidence.Facts) (Finding, bool) {
	f := Finding{Key: key, Status: status}
	switch {
	case status == sprint.StatusDone && !facts.HasSynthesis:
		f.Rule, f.Severity = RuleDoneWithoutSynthesis, SeverityError
		f.Message = "marked done but no code-review synthesis exists"
	case status == sprint.StatusBacklog && facts.HasSynthesis:
		f.Rule, f.Severity = RuleBacklogWithSynthesis, SeverityError
		f.Message = "marked backlog but a code-review synthesis exists"
	case status == sprint.StatusInProgress && (facts.HasReview || facts.HasSynthesis):
		f.Rule, f.Severity = RuleInProgressWithReview, SeverityWarn
		f.Message = "marked in-progress but a code review exists"
	case status == sprint.StatusReview && facts.HasSynthesis:
		f.Rule, f.Severity = RuleReviewWithSynthesis, SeverityWarn
		f.Message = "marked review but a code-review synthesis exists"
	default:
		return Finding{}, false
	}
	return f, true
}

func (f Finding) String() string {
	return fmt.Sprintf("%-5s %s (%s): %s", f.Severity, f.Key, f.Status, f.Message)
}
