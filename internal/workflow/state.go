package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrNoState indicates the runtime-state file does not exist yet.
var ErrNoState = errors.New("workflow: runtime state not found")

// ProjectState is the authoritative runtime snapshot written by the
// orchestrator. Story ids may be entry keys (`2-3-api`) or dotted ids (`2.3`).
type ProjectState struct {
	CurrentEpic      int      `yaml:"current_epic"`
	CurrentStory     string   `yaml:"current_story"`
	Phase            Phase    `yaml:"current_phase"`
	CompletedStories []string `yaml:"completed_stories,omitempty"`
	CompletedEpics   []int    `yaml:"completed_epics,omitempty"`
}

// Normalize trims ids and canonicalizes the phase.
func (s ProjectState) Normalize() ProjectState {
	s.CurrentStory = strings.TrimSpace(s.CurrentStory)
	s.Phase = NormalizePhase(string(s.Phase))
	stories := make([]string, 0, len(s.CompletedStories))
	for _, id := range s.CompletedStories {
		if id = strings.TrimSpace(id); id != "" {
			stories = append(stories, id)
		}
	}
	s.CompletedStories = stories
	return s
}

// StateSource exposes the current runtime snapshot.
type StateSource interface {
	State() (ProjectState, error)
}

// StateFile reads ProjectState from a YAML file.
type StateFile struct {
	fs   afero.Fs
	path string
}

// NewStateFile returns a StateSource backed by path on fsys.
func NewStateFile(fsys afero.Fs, path string) *StateFile {
	return &StateFile{fs: fsys, path: path}
}

// Path returns the file backing this source.
func (f *StateFile) Path() string {
	return f.path
}

// State loads and normalizes the snapshot.
func (f *StateFile) State() (ProjectState, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ProjectState{}, fmt.Errorf("%w: %s", ErrNoState, f.path)
		}
		return ProjectState{}, fmt.Errorf("workflow: read %s: %w", f.path, err)
	}
	var state ProjectState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return ProjectState{}, fmt.Errorf("workflow: parse %s: %w", f.path, err)
	}
	return state.Normalize(), nil
}

// Save writes the snapshot. The sprint tooling never calls this; it exists
// for the orchestrator and for tests.
func (f *StateFile) Save(state ProjectState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("workflow: encode state: %w", err)
	}
	if err := f.fs.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("workflow: ensure state dir: %w", err)
	}
	return afero.WriteFile(f.fs, f.path, data, 0o644)
}
