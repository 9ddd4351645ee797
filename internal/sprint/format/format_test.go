package format

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

const fullDoc = `# Sprint status for the demo project.
# STATUS: backlog -> ready-for-dev -> in-progress -> review -> done

generated: 2025-01-01T00:00:00Z
project: demo
project_key: DEMO
tracking_system: file-system
story_location: docs/sprint-artifacts

development_status:
  # Epic 1
  epic-1: in-progress
  1-1-setup: done  # shipped early
  # waiting on infra review
  1-2-config: backlog
  epic-1-retrospective: optional

  # Epic 2
  epic-2: backlog
  2-1-api: backlog

  standalone-01-refactor: review # manual
`

var classifier = sprint.NewClassifier(sprint.Module{Name: "testarch"})

func mustParse(t *testing.T, src string) Result {
	t.Helper()
	res, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return res
}

func TestDetectShapes(t *testing.T) {
	cases := map[string]string{
		"full":              "generated: x\ndevelopment_status:\n  1-1-a: done\n",
		"hybrid":            "epics:\n  - id: 1\n    title: Core\ndevelopment_status:\n  1-1-a: done\n",
		"array":             "epics: [1, 2]\ndevelopment_status:\n  1-1-a: done\n",
		"array-empty":       "epics: []\ndevelopment_status:\n  1-1-a: done\n",
		"minimal":           "project: demo\nepics: []\n",
		"unknown-scalar":    "just a string\n",
		"unknown-list":      "- a\n- b\n",
		"unknown-keys":      "project: demo\nstories: {}\n",
		"unknown-epics-map": "epics: {one: 1}\ndevelopment_status:\n  1-1-a: done\n",
	}
	want := map[string]sprint.Format{
		"full":              sprint.FormatFull,
		"hybrid":            sprint.FormatHybrid,
		"array":             sprint.FormatArray,
		"array-empty":       sprint.FormatArray,
		"minimal":           sprint.FormatMinimal,
		"unknown-scalar":    sprint.FormatUnknown,
		"unknown-list":      sprint.FormatUnknown,
		"unknown-keys":      sprint.FormatUnknown,
		"unknown-epics-map": sprint.FormatUnknown,
	}
	for name, src := range cases {
		var root yaml.Node
		if err := yaml.Unmarshal([]byte(src), &root); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		if got := Detect(&root); got != want[name] {
			t.Fatalf("%s: Detect = %s, want %s", name, got, want[name])
		}
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("development_status:\n  1-1-a: [unterminated\n"))
	var fe *sprint.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestUnknownKeepsHeaderAndEmptyMap(t *testing.T) {
	res := mustParse(t, "generated: 2025-02-02\nproject: demo\nepics: {one: 1}\ndevelopment_status:\n  1-1-a: done\n")
	doc := res.Document
	if doc.Format != sprint.FormatUnknown {
		t.Fatalf("format = %s, want unknown", doc.Format)
	}
	if doc.Statuses.Len() != 0 {
		t.Fatalf("unknown documents must normalize to an empty map, got %v", doc.Statuses.Keys())
	}
	if doc.Header.Project != "demo" || doc.Header.Generated != "2025-02-02" {
		t.Fatalf("header not preserved: %+v", doc.Header)
	}
	if len(doc.Extra) != 1 || doc.Extra[0].Key != "epics" {
		t.Fatalf("expected epics kept as extra field, got %+v", doc.Extra)
	}
}

func TestEmptyInputIsUnknown(t *testing.T) {
	res := mustParse(t, "")
	if res.Document.Format != sprint.FormatUnknown || res.Document.Statuses.Len() != 0 {
		t.Fatalf("unexpected document for empty input: %+v", res.Document)
	}
}

func TestParseFullCapturesComments(t *testing.T) {
	doc := mustParse(t, fullDoc).Document
	if doc.Format != sprint.FormatFull {
		t.Fatalf("format = %s", doc.Format)
	}
	wantKeys := []string{"epic-1", "1-1-setup", "1-2-config", "epic-1-retrospective", "epic-2", "2-1-api", "standalone-01-refactor"}
	if diff := cmp.Diff(wantKeys, doc.Statuses.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	wantComments := map[string]sprint.Comment{
		"1-1-setup":              {Trailing: "  # shipped early"},
		"1-2-config":             {Lead: []string{"# waiting on infra review"}},
		"standalone-01-refactor": {Trailing: " # manual"},
	}
	if diff := cmp.Diff(wantComments, doc.Comments); diff != "" {
		t.Fatalf("comments mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Preamble) != 2 {
		t.Fatalf("expected two preamble lines, got %q", doc.Preamble)
	}
}

func TestFullRoundTripIsExact(t *testing.T) {
	doc := mustParse(t, fullDoc).Document
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if diff := cmp.Diff(fullDoc, string(out)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

const looseDoc = `generated: 2025-01-01T00:00:00Z

development_status:
  # Epic 1
  epic-1: In Progress
  1-1-setup: Done  # shipped early
  1-2-config:   completed
  '1-3-docs': backlog

  # Epic 2
  "2-1-api": "done"
  2-2-auth: waiting
`

func TestRoundTripKeepsValueSpelling(t *testing.T) {
	doc := mustParse(t, looseDoc).Document
	want := map[string]sprint.Status{
		"epic-1":     sprint.StatusInProgress,
		"1-1-setup":  sprint.StatusDone,
		"1-2-config": sprint.StatusDone,
		"1-3-docs":   sprint.StatusBacklog,
		"2-1-api":    sprint.StatusDone,
		"2-2-auth":   sprint.Status("waiting"),
	}
	if diff := cmp.Diff(want, doc.Statuses.Map()); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	if _, ok := doc.Raw["2-2-auth"]; ok {
		t.Fatalf("canonical line recorded as raw: %+v", doc.Raw["2-2-auth"])
	}
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if diff := cmp.Diff(looseDoc, string(out)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestChangedValueIsWrittenCanonically(t *testing.T) {
	doc := mustParse(t, looseDoc).Document
	doc.Statuses.Set("1-3-docs", sprint.StatusInProgress)
	doc.Statuses.Set("epic-1", sprint.StatusDone)
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	got := string(out)
	for _, line := range []string{"  epic-1: done\n", "  1-3-docs: in-progress\n", "  1-1-setup: Done  # shipped early\n", `  "2-1-api": "done"` + "\n"} {
		if !strings.Contains(got, line) {
			t.Fatalf("missing %q in:\n%s", line, got)
		}
	}
	if strings.Contains(got, "In Progress") || strings.Contains(got, "'1-3-docs'") {
		t.Fatalf("stale spelling survived a status change:\n%s", got)
	}
}

func TestRenderDropsCommentsOfDeletedKeys(t *testing.T) {
	doc := mustParse(t, fullDoc).Document
	doc.Statuses.Delete("1-1-setup")
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(string(out), "shipped early") {
		t.Fatalf("comment of deleted key survived:\n%s", out)
	}
	if !strings.Contains(string(out), "# waiting on infra review\n  1-2-config: backlog") {
		t.Fatalf("lead comment lost:\n%s", out)
	}
}

func TestRenderRegeneratesEpicSeparators(t *testing.T) {
	src := "generated: x\ndevelopment_status:\n  # Epic 9: stale title\n  1-1-a: done\n  2-1-b: backlog\n"
	doc := mustParse(t, src).Document
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "generated: x\n\ndevelopment_status:\n  # Epic 1\n  1-1-a: done\n\n  # Epic 2\n  2-1-b: backlog\n"
	if diff := cmp.Diff(want, string(out)); diff != "" {
		t.Fatalf("separator mismatch (-want +got):\n%s", diff)
	}
}

func TestHybridKeepsEpicMetadata(t *testing.T) {
	src := "generated: x\nepics:\n  - id: 1\n    title: Core\ndevelopment_status:\n  1-1-a: done\n"
	doc := mustParse(t, src).Document
	if doc.Format != sprint.FormatHybrid || doc.Epics == nil {
		t.Fatalf("expected hybrid with epics metadata, got %s", doc.Format)
	}
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	again := mustParse(t, string(out)).Document
	if again.Format != sprint.FormatHybrid {
		t.Fatalf("re-rendered hybrid detected as %s:\n%s", again.Format, out)
	}
	if !strings.Contains(string(out), "title: Core") {
		t.Fatalf("epic metadata lost:\n%s", out)
	}
}

func TestArrayRebuildsEpicList(t *testing.T) {
	src := "generated: x\nepics: [2]\ndevelopment_status:\n  1-1-a: done\n  3-1-c: backlog\n"
	doc := mustParse(t, src).Document
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "epics: [1, 2, 3]") {
		t.Fatalf("expected rebuilt flow list, got:\n%s", out)
	}
}

func TestMinimalAndUnknownWriteFull(t *testing.T) {
	doc := mustParse(t, "project: demo\nepics: []\n").Document
	doc.Statuses.Set("1-1-a", sprint.StatusBacklog)
	out, err := Render(doc, classifier)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	again := mustParse(t, string(out)).Document
	if again.Format != sprint.FormatFull {
		t.Fatalf("minimal should be written as full, got %s:\n%s", again.Format, out)
	}
	if s, _ := again.Statuses.Get("1-1-a"); s != sprint.StatusBacklog {
		t.Fatalf("status lost: %q", s)
	}
}

func TestSkippedNonScalarValues(t *testing.T) {
	res := mustParse(t, "generated: x\ndevelopment_status:\n  1-1-a: [done]\n  1-2-b: done\n")
	if diff := cmp.Diff([]string{"1-1-a"}, res.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestScalarQuoting(t *testing.T) {
	cases := map[string]string{
		"done":                 "done",
		"2025-01-01T00:00:00Z": "2025-01-01T00:00:00Z",
		"my project":           "my project",
		"yes":                  `"yes"`,
		"":                     `""`,
		"a: b":                 `"a: b"`,
		"#tag":                 `"#tag"`,
	}
	for in, want := range cases {
		if got := scalar(in); got != want {
			t.Fatalf("scalar(%q) = %s, want %s", in, got, want)
		}
	}
}
