// internal/workflow/workflow.go
//
// Defines the .lattice directory layout used by the sprint tooling and the
// workflow phase values the runtime-state file reports.

package workflow

import (
	"path/filepath"
	"strings"
)

// Directory names within .lattice/
const (
	StateDir = "state"
	LogsDir  = "logs"
)

// File names within .lattice/
const (
	FileConfig       = "config.yaml"
	FileRuntimeState = "runtime-state.yaml"
	FileSprintLog    = "sprint.log"
	FileJournal      = "sprint-journal.log"
)

// Phase is a workflow step as written to the runtime-state file.
type Phase string

const (
	PhaseCreateStory    Phase = "CREATE_STORY"
	PhaseValidateStory  Phase = "VALIDATE_STORY"
	PhaseATDD           Phase = "ATDD"
	PhaseDevStory       Phase = "DEV_STORY"
	PhaseCodeReview     Phase = "CODE_REVIEW"
	PhaseTestReview     Phase = "TEST_REVIEW"
	PhaseTrace          Phase = "TRACE"
	PhaseTeaNFRAssess   Phase = "TEA_NFR_ASSESS"
	PhaseRetrospective  Phase = "RETROSPECTIVE"
	PhaseQAPlanGenerate Phase = "QA_PLAN_GENERATE"
)

// NormalizePhase upper-cases a raw phase and turns dashes and spaces into
// underscores so `dev-story` and `DEV_STORY` compare equal.
func NormalizePhase(raw string) Phase {
	p := strings.ToUpper(strings.TrimSpace(raw))
	return Phase(strings.NewReplacer("-", "_", " ", "_").Replace(p))
}

// Workflow resolves paths inside a project's .lattice directory.
type Workflow struct {
	// Base path to .lattice directory
	latticeDir string
}

// New creates a new Workflow manager
func New(latticeDir string) *Workflow {
	return &Workflow{
		latticeDir: latticeDir,
	}
}

// Dir returns the .lattice directory
func (w *Workflow) Dir() string {
	return w.latticeDir
}

// StateDir returns the path to the state directory (.lattice/state/)
func (w *Workflow) StateDir() string {
	return filepath.Join(w.latticeDir, StateDir)
}

// LogsDir returns the path to the logs directory (.lattice/logs/)
func (w *Workflow) LogsDir() string {
	return filepath.Join(w.latticeDir, LogsDir)
}

// ConfigPath returns the path to config.yaml
func (w *Workflow) ConfigPath() string {
	return filepath.Join(w.latticeDir, FileConfig)
}

// RuntimeStatePath returns the default runtime-state file location
func (w *Workflow) RuntimeStatePath() string {
	return filepath.Join(w.StateDir(), FileRuntimeState)
}

// SprintLogPath returns the structured log file
func (w *Workflow) SprintLogPath() string {
	return filepath.Join(w.LogsDir(), FileSprintLog)
}

// JournalPath returns the human-readable sync journal
func (w *Workflow) JournalPath() string {
	return filepath.Join(w.LogsDir(), FileJournal)
}
