// internal/tui/report.go
//
// Non-interactive renderings: run summaries, validation reports and the
// journal tail printed by the CLI.

package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lattice-sprint/internal/sprint/reconcile"
	"github.com/kingrea/lattice-sprint/internal/sprintsync"
)

// RenderChanges lists the changes of an outcome, one per line.
func RenderChanges(out sprintsync.Outcome) string {
	if len(out.Result.Changes) == 0 {
		return ""
	}
	var b strings.Builder
	for _, row := range ChangeRows(out.Result.Changes) {
		line := fmt.Sprintf("  %-32s %-13s -> %-13s", row[0], row[2], row[3])
		if row[4] != "" {
			line += " " + detailStyle.Render(row[4])
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderOutcome summarizes a generate, repair or sync run.
func RenderOutcome(out sprintsync.Outcome) string {
	var b strings.Builder
	verb := "unchanged"
	style := mutedStyle
	switch {
	case out.Declined:
		verb, style = "not written", warnStyle
	case out.Written:
		verb, style = "written", okStyle
	}
	fmt.Fprintf(&b, "%s %s %s\n", titleStyle.Render(string(out.Op)), style.Render(verb), out.Path)
	fmt.Fprintf(&b, "%d changed, divergence %.0f%%\n", len(out.Result.Changes), out.Result.Divergence*100)
	b.WriteString(RenderChanges(out))
	if out.Degraded {
		b.WriteString(warnStyle.Render("existing file could not be parsed and was treated as empty") + "\n")
	}
	for _, amb := range out.Result.Ambiguities {
		fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("WARN "), amb.Error())
	}
	for _, key := range out.Skipped {
		fmt.Fprintf(&b, "%s non-scalar value for %s dropped\n", warnStyle.Render("WARN "), key)
	}
	for _, f := range out.Failures {
		fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("WARN "), f.Error())
	}
	for _, ref := range out.Unresolved {
		fmt.Fprintf(&b, "%s story %s has no status key\n", warnStyle.Render("WARN "), ref)
	}
	return b.String()
}

// RenderReport prints validation findings, errors first.
func RenderReport(ver sprintsync.Verification) string {
	var b strings.Builder
	r := ver.Report
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("validate"), ver.Path)
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "%s %-32s %-13s %s\n", severityLabel(f.Severity), f.Key, f.Status, f.Message)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("SCAN "), f.Error())
	}
	summary := fmt.Sprintf("%d checked, %d errors, %d warnings", r.Checked, len(r.Errors()), len(r.Warnings()))
	switch {
	case r.HasErrors():
		summary = errorStyle.Render(summary)
	case len(r.Findings) > 0:
		summary = warnStyle.Render(summary)
	default:
		summary = okStyle.Render(summary)
	}
	b.WriteString(summary)
	b.WriteByte('\n')
	return b.String()
}

func severityLabel(sev reconcile.Severity) string {
	label := fmt.Sprintf("%-5s", sev)
	if sev == reconcile.SeverityError {
		return errorStyle.Render(label)
	}
	return warnStyle.Render(label)
}

// RenderJournal boxes the most recent journal lines.
func RenderJournal(path string, lines []string, total int) string {
	name := filepath.Base(path)
	if name == "." || name == "" {
		name = "journal"
	}
	head := titleStyle.Render(fmt.Sprintf("LOG · %s (%d of %d)", name, len(lines), total))
	if len(lines) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, head, mutedStyle.Render("no runs recorded yet")) + "\n"
	}
	body := hintStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(head+"\n"+body) + "\n"
}
