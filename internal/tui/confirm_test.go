package tui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/sprint/reconcile"
	"github.com/kingrea/lattice-sprint/internal/sprintsync"
)

func pendingOutcome() sprintsync.Outcome {
	return sprintsync.Outcome{
		Op:   sprintsync.OpGenerate,
		Path: "docs/sprint-artifacts/sprint-status.yaml",
		Result: reconcile.Result{
			Divergence: 0.75,
			Changes: []reconcile.Change{
				{Key: "1-1-setup", Kind: sprint.KindEpicStory, From: sprint.StatusInProgress, To: sprint.StatusDone, Reason: "synthesis exists"},
				{Key: "1-2-config", Kind: sprint.KindEpicStory, To: sprint.StatusBacklog, Added: true, Reason: "new entry"},
				{Key: "1-9-old", Kind: sprint.KindEpicStory, From: sprint.StatusBacklog, Removed: true, Reason: "no longer generated"},
			},
		},
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestChangeRowsMarkAddedAndRemoved(t *testing.T) {
	rows := ChangeRows(pendingOutcome().Result.Changes)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[1][2] != "(new)" || rows[2][3] != "(removed)" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestConfirmModelAcceptsAndDeclines(t *testing.T) {
	m := NewConfirmModel(pendingOutcome(), 0.3)
	view := m.View()
	for _, want := range []string{"generate would change 3", "75%", "1-1-setup", "sprint-status.yaml"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(ConfirmModel)
	if m.decided {
		t.Fatalf("navigation must not decide")
	}

	accepted, cmd := m.Update(runes("y"))
	if cmd == nil || !accepted.(ConfirmModel).Accepted() {
		t.Fatalf("y should accept and quit")
	}
	if accepted.View() != "" {
		t.Fatalf("decided prompt should render nothing")
	}

	declined, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil || declined.(ConfirmModel).Accepted() {
		t.Fatalf("esc should decline and quit")
	}
}

func TestPlainConfirm(t *testing.T) {
	cases := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false}
	for input, want := range cases {
		var out bytes.Buffer
		got, err := PlainConfirm(strings.NewReader(input), &out, 0.3)(context.Background(), pendingOutcome())
		if err != nil {
			t.Fatalf("PlainConfirm(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("PlainConfirm(%q) = %v, want %v", input, got, want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Fatalf("missing prompt: %s", out.String())
		}
	}
}
