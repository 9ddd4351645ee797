// internal/config/config.go
//
// This package handles sprint configuration stored in .lattice/config.yaml.
// Values come from LATTICE_* environment overrides, then the file, then the
// built-in defaults.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-sprint/internal/artifact"
	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/workflow"
)

const (
	// LatticeDir is the name of the directory we create in each project
	LatticeDir = ".lattice"

	// EnvPrefix namespaces environment overrides, e.g. LATTICE_SPRINT_STATUS_FILE.
	EnvPrefix = "LATTICE"
)

const defaultProjectConfigYAML = `# lattice sprint configuration
version: 1

project:
  name: ""
  key: ""

sprint:
  # The tracking file reconciled by sprint-status.
  status_file: docs/sprint-artifacts/sprint-status.yaml
  # Story files, code reviews and validation reports are scanned as evidence.
  story_location: docs/sprint-artifacts
  reviews_dir: docs/sprint-artifacts/code-reviews
  validations_dir: docs/sprint-artifacts/story-validations
  # Epic specification files used by generate.
  specifications:
    - docs/epics.md
    - docs/epics/*.md
  # Runtime state written by the workflow runner; read by sync and watch.
  state_file: .lattice/state/runtime-state.yaml
  # Known modules. epic ties a module's stories to a numeric epic.
  # modules:
  #   - name: testarch
  #     epic: 2
  modules: []
  # Ask for confirmation when a run changes more than this share of keys.
  divergence_threshold: 0.3
  scan_workers: 8
  # Remove untouched backlog stories that left the specifications.
  prune: false

logging:
  level: info
`

// ProjectInfo names the project the sprint belongs to.
type ProjectInfo struct {
	Name string `mapstructure:"name" yaml:"name"`
	Key  string `mapstructure:"key" yaml:"key"`
}

// ModuleRef declares one known module.
type ModuleRef struct {
	Name string `mapstructure:"name" yaml:"name"`
	Epic int    `mapstructure:"epic" yaml:"epic,omitempty"`
}

// SprintConfig holds the paths and knobs the reconciliation uses.
type SprintConfig struct {
	StatusFile          string      `mapstructure:"status_file" yaml:"status_file"`
	StoryLocation       string      `mapstructure:"story_location" yaml:"story_location"`
	ReviewsDir          string      `mapstructure:"reviews_dir" yaml:"reviews_dir"`
	ValidationsDir      string      `mapstructure:"validations_dir" yaml:"validations_dir"`
	Specifications      []string    `mapstructure:"specifications" yaml:"specifications"`
	StateFile           string      `mapstructure:"state_file" yaml:"state_file"`
	Modules             []ModuleRef `mapstructure:"modules" yaml:"modules"`
	DivergenceThreshold float64     `mapstructure:"divergence_threshold" yaml:"divergence_threshold"`
	ScanWorkers         int         `mapstructure:"scan_workers" yaml:"scan_workers"`
	Prune               bool        `mapstructure:"prune" yaml:"prune"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// ProjectConfig models .lattice/config.yaml.
type ProjectConfig struct {
	Version int           `mapstructure:"version" yaml:"version"`
	Project ProjectInfo   `mapstructure:"project" yaml:"project"`
	Sprint  SprintConfig  `mapstructure:"sprint" yaml:"sprint"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// Config holds the resolved configuration for one project.
type Config struct {
	// ProjectDir is the directory sprint-status runs against
	ProjectDir string

	// LatticeProjectDir is ProjectDir/.lattice
	LatticeProjectDir string

	Project ProjectConfig

	// Source is the config file that was read, or "" when defaults were used.
	Source string
}

// Option customizes Load.
type Option func(*loader)

type loader struct {
	fs  afero.Fs
	env bool
}

// WithFs reads the config file through fsys instead of the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(l *loader) {
		if fsys != nil {
			l.fs = fsys
		}
	}
}

// WithoutEnv disables LATTICE_* overrides.
func WithoutEnv() Option {
	return func(l *loader) { l.env = false }
}

// Load reads .lattice/config.yaml beneath projectDir. A missing file yields
// the defaults.
func Load(projectDir string, opts ...Option) (*Config, error) {
	l := loader{fs: afero.NewOsFs(), env: true}
	for _, opt := range opts {
		opt(&l)
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir:        abs,
		LatticeProjectDir: filepath.Join(abs, LatticeDir),
	}

	v := viper.New()
	v.SetFs(l.fs)
	v.SetConfigFile(cfg.ProjectConfigPath())
	v.SetConfigType("yaml")
	setDefaults(v)
	if l.env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", cfg.ProjectConfigPath(), err)
		}
	} else {
		cfg.Source = v.ConfigFileUsed()
	}

	var parsed ProjectConfig
	if err := v.Unmarshal(&parsed); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", cfg.ProjectConfigPath(), err)
	}
	parsed.applyDefaults()
	parsed.normalize(abs)
	if err := parsed.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Project = parsed
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default(projectDir string) *Config {
	pc := defaultProjectConfig()
	pc.normalize(projectDir)
	return &Config{
		ProjectDir:        projectDir,
		LatticeProjectDir: filepath.Join(projectDir, LatticeDir),
		Project:           pc,
	}
}

func setDefaults(v *viper.Viper) {
	d := defaultProjectConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("project.name", d.Project.Name)
	v.SetDefault("project.key", d.Project.Key)
	v.SetDefault("sprint.status_file", d.Sprint.StatusFile)
	v.SetDefault("sprint.story_location", d.Sprint.StoryLocation)
	v.SetDefault("sprint.reviews_dir", d.Sprint.ReviewsDir)
	v.SetDefault("sprint.validations_dir", d.Sprint.ValidationsDir)
	v.SetDefault("sprint.specifications", d.Sprint.Specifications)
	v.SetDefault("sprint.state_file", d.Sprint.StateFile)
	v.SetDefault("sprint.modules", []map[string]any{})
	v.SetDefault("sprint.divergence_threshold", d.Sprint.DivergenceThreshold)
	v.SetDefault("sprint.scan_workers", d.Sprint.ScanWorkers)
	v.SetDefault("sprint.prune", d.Sprint.Prune)
	v.SetDefault("logging.level", d.Logging.Level)
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Sprint: SprintConfig{
			StatusFile:          "docs/sprint-artifacts/sprint-status.yaml",
			StoryLocation:       "docs/sprint-artifacts",
			ReviewsDir:          "docs/sprint-artifacts/code-reviews",
			ValidationsDir:      "docs/sprint-artifacts/story-validations",
			Specifications:      []string{"docs/epics.md", "docs/epics/*.md"},
			StateFile:           filepath.Join(LatticeDir, workflow.StateDir, workflow.FileRuntimeState),
			DivergenceThreshold: 0.3,
			ScanWorkers:         8,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	d := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = d.Version
	}
	if strings.TrimSpace(pc.Sprint.StatusFile) == "" {
		pc.Sprint.StatusFile = d.Sprint.StatusFile
	}
	if strings.TrimSpace(pc.Sprint.StoryLocation) == "" {
		pc.Sprint.StoryLocation = d.Sprint.StoryLocation
	}
	if strings.TrimSpace(pc.Sprint.ReviewsDir) == "" {
		pc.Sprint.ReviewsDir = d.Sprint.ReviewsDir
	}
	if strings.TrimSpace(pc.Sprint.ValidationsDir) == "" {
		pc.Sprint.ValidationsDir = d.Sprint.ValidationsDir
	}
	if len(pc.Sprint.Specifications) == 0 {
		pc.Sprint.Specifications = d.Sprint.Specifications
	}
	if strings.TrimSpace(pc.Sprint.StateFile) == "" {
		pc.Sprint.StateFile = d.Sprint.StateFile
	}
	if strings.TrimSpace(pc.Logging.Level) == "" {
		pc.Logging.Level = d.Logging.Level
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Project.Name = strings.TrimSpace(pc.Project.Name)
	pc.Project.Key = strings.TrimSpace(pc.Project.Key)
	pc.Sprint.StatusFile = resolvePath(base, pc.Sprint.StatusFile)
	pc.Sprint.StoryLocation = resolvePath(base, pc.Sprint.StoryLocation)
	pc.Sprint.ReviewsDir = resolvePath(base, pc.Sprint.ReviewsDir)
	pc.Sprint.ValidationsDir = resolvePath(base, pc.Sprint.ValidationsDir)
	pc.Sprint.StateFile = resolvePath(base, pc.Sprint.StateFile)
	specs := make([]string, 0, len(pc.Sprint.Specifications))
	for _, pattern := range pc.Sprint.Specifications {
		if resolved := resolvePath(base, pattern); resolved != "" {
			specs = append(specs, resolved)
		}
	}
	pc.Sprint.Specifications = specs
	for i := range pc.Sprint.Modules {
		pc.Sprint.Modules[i].Name = strings.ToLower(strings.TrimSpace(pc.Sprint.Modules[i].Name))
	}
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Sprint.DivergenceThreshold < 0 || pc.Sprint.DivergenceThreshold > 1 {
		return fmt.Errorf("sprint.divergence_threshold must be within [0, 1], got %v", pc.Sprint.DivergenceThreshold)
	}
	if pc.Sprint.ScanWorkers < 1 {
		return fmt.Errorf("sprint.scan_workers must be >= 1, got %d", pc.Sprint.ScanWorkers)
	}
	seen := map[string]bool{}
	for i, mod := range pc.Sprint.Modules {
		if err := mod.validate(); err != nil {
			return fmt.Errorf("sprint.modules[%d]: %w", i, err)
		}
		if seen[mod.Name] {
			return fmt.Errorf("sprint.modules[%d]: duplicate module %q", i, mod.Name)
		}
		seen[mod.Name] = true
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", pc.Logging.Level)
	}
	return nil
}

func (mod ModuleRef) validate() error {
	if mod.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := strconv.Atoi(mod.Name); err == nil {
		return fmt.Errorf("name %q must not be numeric", mod.Name)
	}
	if mod.Name == "epic" || mod.Name == "standalone" {
		return fmt.Errorf("name %q is reserved", mod.Name)
	}
	if strings.ContainsAny(mod.Name, " \t/") {
		return fmt.Errorf("name %q must be a single path segment", mod.Name)
	}
	if mod.Epic < 0 {
		return fmt.Errorf("epic must be >= 0")
	}
	return nil
}

// Workflow returns the .lattice layout for the project.
func (c *Config) Workflow() *workflow.Workflow {
	return workflow.New(c.LatticeProjectDir)
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.LatticeProjectDir, workflow.FileConfig)
}

// StatusPath returns the sprint-status file location.
func (c *Config) StatusPath() string {
	return c.Project.Sprint.StatusFile
}

// StatePath returns the runtime-state file location.
func (c *Config) StatePath() string {
	return c.Project.Sprint.StateFile
}

// ArtifactLayout returns where evidence artifacts live.
func (c *Config) ArtifactLayout() artifact.Layout {
	return artifact.Layout{
		StoryDir:       c.Project.Sprint.StoryLocation,
		ReviewsDir:     c.Project.Sprint.ReviewsDir,
		ValidationsDir: c.Project.Sprint.ValidationsDir,
	}
}

// Modules returns the known-module allowlist for key classification.
func (c *Config) Modules() []sprint.Module {
	out := make([]sprint.Module, 0, len(c.Project.Sprint.Modules))
	for _, mod := range c.Project.Sprint.Modules {
		out = append(out, sprint.Module{Name: mod.Name, Epic: mod.Epic})
	}
	return out
}

// Classifier builds the key classifier for the configured modules.
func (c *Config) Classifier() sprint.Classifier {
	return sprint.NewClassifier(c.Modules()...)
}

// YAML renders the effective configuration, paths resolved.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return nil, fmt.Errorf("config: encode config: %w", err)
	}
	return data, nil
}

// InitProjectDir creates the .lattice directory structure and writes the
// commented default config when none exists.
//
// Structure created:
// .lattice/
// ├── config.yaml
// ├── logs/         <- sprint.log and sprint-journal.log
// └── state/        <- runtime-state.yaml from the workflow runner
func InitProjectDir(fsys afero.Fs, projectDir string) error {
	latticeDir := filepath.Join(projectDir, LatticeDir)
	for _, dir := range []string{
		filepath.Join(latticeDir, workflow.LogsDir),
		filepath.Join(latticeDir, workflow.StateDir),
	} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(fsys, filepath.Join(latticeDir, workflow.FileConfig))
}

func ensureProjectConfig(fsys afero.Fs, path string) error {
	exists, err := afero.Exists(fsys, path)
	if err != nil {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if exists {
		return nil
	}
	if err := afero.WriteFile(fsys, path, []byte(defaultProjectConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
