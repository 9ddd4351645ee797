package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

// State reports the outcome of an artifact lookup.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateError   State = "error"
)

// CheckResult describes a lookup. Path is the first matching file, if any.
type CheckResult struct {
	Ref   Ref
	Path  string
	State State
	Err   error
}

// Store answers artifact lookups beneath a Layout. It implements
// evidence.ArtifactStore and never writes.
type Store struct {
	fs     afero.Fs
	layout Layout
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithFs overrides the filesystem, which defaults to the OS filesystem.
func WithFs(fsys afero.Fs) StoreOption {
	return func(s *Store) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// NewStore builds a store for a layout.
func NewStore(layout Layout, opts ...StoreOption) (*Store, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	store := &Store{fs: afero.NewOsFs(), layout: layout}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Layout returns the directories the store reads.
func (s *Store) Layout() Layout {
	return s.layout
}

// Check looks up the first file matching ref. A missing directory is the same
// as no match.
func (s *Store) Check(ref Ref) (CheckResult, error) {
	dir := ref.Dir(s.layout)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Ref: ref, State: StateMissing}, nil
		}
		err = fmt.Errorf("artifact: list %s: %w", dir, err)
		return CheckResult{Ref: ref, State: StateError, Err: err}, err
	}
	pattern := ref.Pattern()
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return CheckResult{Ref: ref, State: StateMissing}, nil
	}
	sort.Strings(names)
	return CheckResult{Ref: ref, Path: filepath.Join(dir, names[0]), State: StateReady}, nil
}

// StoryFile returns the path of the story file for entry and its explicit
// Status value. It tries {storyDir}/{key}.md first, then any file named
// {epic}-{story}-*.md. Both results are empty when no file exists.
func (s *Store) StoryFile(entry sprint.Entry) (string, string, error) {
	path := filepath.Join(s.layout.StoryDir, entry.Key+".md")
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		res, checkErr := s.Check(RefFor(KindStory, entry))
		if checkErr != nil {
			return "", "", checkErr
		}
		if res.State != StateReady {
			return "", "", nil
		}
		path = res.Path
		data, err = afero.ReadFile(s.fs, path)
	}
	if err != nil {
		return "", "", fmt.Errorf("artifact: read %s: %w", path, err)
	}
	status, err := StoryStatus(data)
	if err != nil {
		// A story with unreadable frontmatter still exists.
		return path, "", nil
	}
	return path, status, nil
}

// HasSynthesis reports whether a code-review synthesis exists for entry.
func (s *Store) HasSynthesis(entry sprint.Entry) (bool, error) {
	return s.exists(RefFor(KindSynthesis, entry))
}

// HasReview reports whether any code review exists for entry.
func (s *Store) HasReview(entry sprint.Entry) (bool, error) {
	return s.exists(RefFor(KindReview, entry))
}

// HasValidation reports whether a validation report exists for entry.
func (s *Store) HasValidation(entry sprint.Entry) (bool, error) {
	return s.exists(RefFor(KindValidation, entry))
}

func (s *Store) exists(ref Ref) (bool, error) {
	res, err := s.Check(ref)
	if err != nil {
		return false, err
	}
	return res.State == StateReady, nil
}

// EnsureDirs creates every layout directory. Used by project initialisation.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.layout.StoryDir, s.layout.ReviewsDir, s.layout.ValidationsDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return &sprint.IoError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return nil
}
