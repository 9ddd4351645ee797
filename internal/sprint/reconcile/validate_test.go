package reconcile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/sprint/evidence"
)

func TestValidateClassifiesFourRules(t *testing.T) {
	doc := docOf(
		"epic-1", "done",
		"1-1-done-no-synth", "done",
		"1-2-backlog-synth", "backlog",
		"1-3-progress-review", "in-progress",
		"1-4-review-synth", "review",
		"1-5-done-ok", "done",
		"1-6-progress-synth-only", "in-progress",
		"standalone-01-x", "done",
	)
	records := map[string]evidence.Record{
		"1-1-done-no-synth":       {Facts: evidence.Facts{HasReview: true}},
		"1-2-backlog-synth":       {Facts: evidence.Facts{HasSynthesis: true}},
		"1-3-progress-review":     {Facts: evidence.Facts{HasReview: true}},
		"1-4-review-synth":        {Facts: evidence.Facts{HasSynthesis: true, HasReview: true}},
		"1-5-done-ok":             {Facts: evidence.Facts{HasSynthesis: true}},
		"1-6-progress-synth-only": {Facts: evidence.Facts{HasSynthesis: true}},
	}
	report := Validate(doc, classifier, records)

	got := map[string]Rule{}
	for _, f := range report.Findings {
		got[f.Key] = f.Rule
	}
	want := map[string]Rule{
		"1-1-done-no-synth":       RuleDoneWithoutSynthesis,
		"1-2-backlog-synth":       RuleBacklogWithSynthesis,
		"1-3-progress-review":     RuleInProgressWithReview,
		"1-4-review-synth":        RuleReviewWithSynthesis,
		"1-6-progress-synth-only": RuleInProgressWithReview,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("findings mismatch (-want +got):\n%s", diff)
	}
	if len(report.Errors()) != 2 || len(report.Warnings()) != 3 || !report.HasErrors() {
		t.Fatalf("errors=%d warnings=%d", len(report.Errors()), len(report.Warnings()))
	}
	if report.Findings[0].Severity != SeverityError {
		t.Fatalf("errors should be listed first: %+v", report.Findings)
	}
	if report.Checked != 6 {
		t.Fatalf("checked = %d, want 6", report.Checked)
	}
}

func TestValidateReportsScanFailuresSeparately(t *testing.T) {
	failure := &sprint.ScanFailure{Key: "1-1-a", Lookup: "synthesis", Err: errors.New("denied")}
	report := Validate(docOf("1-1-a", "done"), classifier, map[string]evidence.Record{
		"1-1-a": {Key: "1-1-a", Failures: []*sprint.ScanFailure{failure}},
	})
	if len(report.Findings) != 0 {
		t.Fatalf("failed scans must not produce findings: %+v", report.Findings)
	}
	if len(report.Failures) != 1 || report.Failures[0] != failure {
		t.Fatalf("failure not reported: %v", report.Failures)
	}
	if report.HasErrors() {
		t.Fatalf("scan failure is not a validation error")
	}
}
