package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNormalizePhase(t *testing.T) {
	cases := map[string]Phase{
		"dev-story":        PhaseDevStory,
		" code_review ":    PhaseCodeReview,
		"Tea nfr assess":   PhaseTeaNFRAssess,
		"QA_PLAN_GENERATE": PhaseQAPlanGenerate,
	}
	for raw, want := range cases {
		if got := NormalizePhase(raw); got != want {
			t.Fatalf("NormalizePhase(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestLayoutPaths(t *testing.T) {
	wf := New(filepath.Join("proj", ".lattice"))
	if got := wf.RuntimeStatePath(); got != filepath.Join("proj", ".lattice", "state", "runtime-state.yaml") {
		t.Fatalf("runtime state path = %s", got)
	}
	if got := wf.JournalPath(); got != filepath.Join("proj", ".lattice", "logs", "sprint-journal.log") {
		t.Fatalf("journal path = %s", got)
	}
}

func TestStateFileLoadsAndNormalizes(t *testing.T) {
	fsys := afero.NewMemMapFs()
	content := `current_epic: 2
current_story: " 2.3 "
current_phase: dev-story
completed_stories: [1.1, "1-2-config", ""]
completed_epics: [1]
`
	if err := afero.WriteFile(fsys, "/p/state.yaml", []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	state, err := NewStateFile(fsys, "/p/state.yaml").State()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.CurrentEpic != 2 || state.CurrentStory != "2.3" || state.Phase != PhaseDevStory {
		t.Fatalf("unexpected state: %+v", state)
	}
	if len(state.CompletedStories) != 2 || state.CompletedStories[0] != "1.1" {
		t.Fatalf("unexpected completed stories: %v", state.CompletedStories)
	}
	if len(state.CompletedEpics) != 1 || state.CompletedEpics[0] != 1 {
		t.Fatalf("unexpected completed epics: %v", state.CompletedEpics)
	}
}

func TestStateFileMissing(t *testing.T) {
	_, err := NewStateFile(afero.NewMemMapFs(), "/none.yaml").State()
	if !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}

func TestStateFileSaveRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	src := NewStateFile(fsys, "/p/.lattice/state/runtime-state.yaml")
	want := ProjectState{CurrentEpic: 1, CurrentStory: "1-1-setup", Phase: PhaseCodeReview}
	if err := src.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := src.State()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CurrentStory != want.CurrentStory || got.Phase != want.Phase {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "runtime-state.yaml")
	var calls atomic.Int32
	fired := make(chan struct{}, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, nil, func(context.Context) {
		calls.Add(1)
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "state", "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("current_epic: 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not fire")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() < 1 {
		t.Fatalf("expected at least one call")
	}
}
