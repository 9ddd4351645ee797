package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	latticeDir := filepath.Join(projectDir, ".lattice")
	if err := os.MkdirAll(latticeDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(latticeDir, "config.yaml"), []byte(strings.TrimSpace(body)), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir, WithoutEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Source != "" {
		t.Fatalf("expected no source file, got %s", c.Source)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	want := filepath.Join(projectDir, "docs", "sprint-artifacts", "sprint-status.yaml")
	if c.StatusPath() != want {
		t.Fatalf("status path = %s, want %s", c.StatusPath(), want)
	}
	if c.StatePath() != filepath.Join(projectDir, ".lattice", "state", "runtime-state.yaml") {
		t.Fatalf("unexpected state path %s", c.StatePath())
	}
	if c.Project.Sprint.DivergenceThreshold != 0.3 || c.Project.Sprint.ScanWorkers != 8 {
		t.Fatalf("unexpected knobs: %+v", c.Project.Sprint)
	}
	if len(c.Project.Sprint.Specifications) != 2 {
		t.Fatalf("expected 2 default specification globs, got %v", c.Project.Sprint.Specifications)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
project:
  name: Lumen
  key: LUM
sprint:
  status_file: tracking/status.yaml
  story_location: stories
  modules:
    - name: TestArch
      epic: 2
    - name: ops
  divergence_threshold: 0.5
  scan_workers: 2
  prune: true
logging:
  level: DEBUG
`)
	c, err := Load(projectDir, WithoutEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Source == "" {
		t.Fatalf("expected config source to be recorded")
	}
	if c.StatusPath() != filepath.Join(projectDir, "tracking", "status.yaml") {
		t.Fatalf("status path not resolved: %s", c.StatusPath())
	}
	if c.ArtifactLayout().StoryDir != filepath.Join(projectDir, "stories") {
		t.Fatalf("story dir not resolved: %s", c.ArtifactLayout().StoryDir)
	}
	if c.ArtifactLayout().ReviewsDir != filepath.Join(projectDir, "docs", "sprint-artifacts", "code-reviews") {
		t.Fatalf("reviews dir should keep its default: %s", c.ArtifactLayout().ReviewsDir)
	}
	mods := c.Modules()
	if len(mods) != 2 || mods[0] != (sprint.Module{Name: "testarch", Epic: 2}) {
		t.Fatalf("unexpected modules %+v", mods)
	}
	if !c.Project.Sprint.Prune || c.Project.Sprint.ScanWorkers != 2 || c.Project.Logging.Level != "debug" {
		t.Fatalf("unexpected sprint config %+v / %+v", c.Project.Sprint, c.Project.Logging)
	}
	entry := c.Classifier().Classify("testarch-1-plan")
	if entry.Kind != sprint.KindModuleStory || entry.Epic != 2 {
		t.Fatalf("classifier did not use modules: %+v", entry)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("LATTICE_SPRINT_STATUS_FILE", "elsewhere/status.yaml")
	t.Setenv("LATTICE_SPRINT_SCAN_WORKERS", "3")
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.StatusPath() != filepath.Join(projectDir, "elsewhere", "status.yaml") {
		t.Fatalf("env override ignored: %s", c.StatusPath())
	}
	if c.Project.Sprint.ScanWorkers != 3 {
		t.Fatalf("scan workers = %d, want 3", c.Project.Sprint.ScanWorkers)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"threshold": "sprint:\n  divergence_threshold: 1.5\n",
		"workers":   "sprint:\n  scan_workers: 0\n",
		"numeric":   "sprint:\n  modules:\n    - name: \"12\"\n",
		"reserved":  "sprint:\n  modules:\n    - name: epic\n",
		"duplicate": "sprint:\n  modules:\n    - name: ops\n    - name: OPS\n",
		"level":     "logging:\n  level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			writeConfig(t, projectDir, body)
			if _, err := Load(projectDir, WithoutEnv()); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestLoadRejectsInvalidYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, "sprint: [unclosed")
	if _, err := Load(projectDir, WithoutEnv()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestInitProjectDirWritesLoadableDefault(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := InitProjectDir(fsys, "/proj"); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	for _, dir := range []string{"/proj/.lattice/logs", "/proj/.lattice/state"} {
		if ok, _ := afero.DirExists(fsys, dir); !ok {
			t.Fatalf("missing %s", dir)
		}
	}
	// A second call must not overwrite an edited file.
	if err := afero.WriteFile(fsys, "/proj/.lattice/config.yaml", []byte("version: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitProjectDir(fsys, "/proj"); err != nil {
		t.Fatalf("second InitProjectDir: %v", err)
	}
	c, err := Load("/proj", WithFs(fsys), WithoutEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Project.Version != 2 {
		t.Fatalf("config was overwritten, version = %d", c.Project.Version)
	}

	fresh := afero.NewMemMapFs()
	if err := InitProjectDir(fresh, "/fresh"); err != nil {
		t.Fatal(err)
	}
	c, err = Load("/fresh", WithFs(fresh), WithoutEnv())
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if c.Source == "" || c.Project.Sprint.ScanWorkers != 8 {
		t.Fatalf("unexpected default load: %+v", c)
	}
	out, err := c.YAML()
	if err != nil || !strings.Contains(string(out), "divergence_threshold: 0.3") {
		t.Fatalf("YAML() = %s, %v", out, err)
	}
}
