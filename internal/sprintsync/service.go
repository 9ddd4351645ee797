// Package sprintsync runs the sprint-status operations end to end: load the
// tracking file, gather generated entries and evidence, reconcile, and commit
// the result with one atomic write.
package sprintsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/artifact"
	"github.com/kingrea/lattice-sprint/internal/atomicfile"
	"github.com/kingrea/lattice-sprint/internal/config"
	"github.com/kingrea/lattice-sprint/internal/logbook"
	"github.com/kingrea/lattice-sprint/internal/logging"
	"github.com/kingrea/lattice-sprint/internal/specs"
	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/sprint/evidence"
	"github.com/kingrea/lattice-sprint/internal/sprint/format"
	"github.com/kingrea/lattice-sprint/internal/sprint/projector"
	"github.com/kingrea/lattice-sprint/internal/sprint/reconcile"
	"github.com/kingrea/lattice-sprint/internal/workflow"
)

// Operation names one invocation kind.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpRepair   Operation = "repair"
	OpValidate Operation = "validate"
	OpSync     Operation = "sync"
)

// Outcome describes what one reconciling invocation did.
type Outcome struct {
	RunID  string
	Op     Operation
	Path   string
	Format sprint.Format
	Result reconcile.Result
	// Failures are artifact lookups that degraded a key to NONE.
	Failures []*sprint.ScanFailure
	// Unresolved are runtime-state story references with no matching key.
	Unresolved []string
	// Skipped are status keys whose values were not scalars.
	Skipped []string
	// Degraded is set when an unparseable file was treated as empty.
	Degraded bool
	Written  bool
	Declined bool
}

// Verification is the outcome of a validate run.
type Verification struct {
	RunID  string
	Path   string
	Report reconcile.Report
}

// ConfirmFunc is asked before a write whose divergence exceeds the
// configured threshold. Returning false skips the write.
type ConfirmFunc func(ctx context.Context, out Outcome) (bool, error)

// Settings are the knobs the service reads from configuration.
type Settings struct {
	StatusPath     string
	Specifications []string
	Project        string
	ProjectKey     string
	StoryLocation  string
	Threshold      float64
	Prune          bool
	Workers        int
}

// SettingsFrom extracts Settings from a loaded configuration.
func SettingsFrom(cfg *config.Config) Settings {
	sc := cfg.Project.Sprint
	return Settings{
		StatusPath:     cfg.StatusPath(),
		Specifications: sc.Specifications,
		Project:        cfg.Project.Project.Name,
		ProjectKey:     cfg.Project.Project.Key,
		StoryLocation:  relativeTo(cfg.ProjectDir, sc.StoryLocation),
		Threshold:      sc.DivergenceThreshold,
		Prune:          sc.Prune,
		Workers:        sc.ScanWorkers,
	}
}

// Service runs operations against one project. Calls are serialized so a
// long-lived process (watch) never races itself on the tracking file.
type Service struct {
	mu         sync.Mutex
	fs         afero.Fs
	settings   Settings
	classifier sprint.Classifier
	store      evidence.ArtifactStore
	state      workflow.StateSource
	journal    *logbook.Logbook
	logger     *zap.Logger
	confirm    ConfirmFunc
	now        func() time.Time
	newID      func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithFs sets the filesystem for the tracking file and specifications.
func WithFs(fsys afero.Fs) Option {
	return func(s *Service) { s.fs = fsys }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithJournal records one line per invocation in book.
func WithJournal(book *logbook.Logbook) Option {
	return func(s *Service) { s.journal = book }
}

// WithStore overrides the artifact store used for evidence.
func WithStore(store evidence.ArtifactStore) Option {
	return func(s *Service) { s.store = store }
}

// WithStateSource sets where SyncFromState reads runtime state.
func WithStateSource(src workflow.StateSource) Option {
	return func(s *Service) { s.state = src }
}

// WithConfirm installs the divergence confirmation.
func WithConfirm(fn ConfirmFunc) Option {
	return func(s *Service) { s.confirm = fn }
}

// WithClock overrides the clock used for the generated timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(s *Service) { s.newID = next }
}

// New builds a service from a loaded configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sprintsync: config is required")
	}
	s := &Service{
		fs:         afero.NewOsFs(),
		settings:   SettingsFrom(cfg),
		classifier: cfg.Classifier(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.store == nil {
		store, err := artifact.NewStore(cfg.ArtifactLayout(), artifact.WithFs(s.fs))
		if err != nil {
			return nil, fmt.Errorf("sprintsync: %w", err)
		}
		s.store = store
	}
	if s.state == nil {
		s.state = workflow.NewStateFile(s.fs, cfg.StatePath())
	}
	return s, nil
}

// Generate rebuilds the entry list from the specification files, merging it
// with the existing file and scanned evidence.
func (s *Service) Generate(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.begin(OpGenerate)
	cat, err := specs.NewSource(s.fs, s.settings.Specifications...).Discover()
	if err != nil {
		return s.fail(inv, Outcome{}, err)
	}
	if len(cat.Stories) == 0 {
		inv.logger.Warn("no stories found in specification files", zap.Strings("patterns", s.settings.Specifications))
	}
	snap, err := s.load(inv, false)
	if err != nil {
		return s.fail(inv, Outcome{}, err)
	}
	return s.reconcileAndWrite(ctx, inv, snap, specs.Generate(cat), reconcile.OriginSpecification, s.settings.Prune)
}

// Repair re-derives statuses of the existing entries from evidence without
// consulting the specification files.
func (s *Service) Repair(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.begin(OpRepair)
	snap, err := s.load(inv, false)
	if err != nil {
		return s.fail(inv, Outcome{}, err)
	}
	return s.reconcileAndWrite(ctx, inv, snap, nil, reconcile.OriginSpecification, false)
}

// Validate compares recorded statuses with scanned artifacts. It never
// writes. An unparseable file is an error.
func (s *Service) Validate(ctx context.Context) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.begin(OpValidate)
	ver := Verification{RunID: inv.id, Path: s.settings.StatusPath}
	snap, err := s.load(inv, true)
	if err != nil {
		_, err = s.fail(inv, Outcome{}, err)
		return ver, err
	}
	records, _, err := s.scanner(inv).ScanAll(ctx, snap.doc.Statuses.Keys())
	if err != nil {
		_, err = s.fail(inv, Outcome{}, err)
		return ver, err
	}
	ver.Report = reconcile.Validate(snap.doc, s.classifier, records)
	for _, f := range ver.Report.Findings {
		inv.logger.Info("validation finding",
			zap.String("key", f.Key),
			zap.String("rule", string(f.Rule)),
			zap.String("severity", string(f.Severity)))
	}
	s.journal.RecordCheck(logbook.Check{
		ID:       inv.id,
		Checked:  ver.Report.Checked,
		Errors:   len(ver.Report.Errors()),
		Warnings: len(ver.Report.Warnings()),
		Failures: len(ver.Report.Failures),
	})
	return ver, nil
}

// Sync projects a runtime-state snapshot onto the tracking file. It is the
// only path that advances retrospective entries. Story references resolve
// to the keys the file already holds before falling back to the
// specification files.
func (s *Service) Sync(ctx context.Context, state workflow.ProjectState) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.begin(OpSync)
	snap, err := s.load(inv, true)
	if err != nil {
		return s.fail(inv, Outcome{}, err)
	}
	cat, err := specs.NewSource(s.fs, s.settings.Specifications...).Discover()
	if err != nil {
		return s.fail(inv, Outcome{}, err)
	}
	idx := specs.NewIndex(cat)
	idx.Include(snap.doc.Statuses.Keys())
	proj := projector.Project(state, idx)
	for _, ref := range proj.Unresolved {
		inv.logger.Warn("runtime state story has no status key", zap.String("story", ref))
	}
	out, err := s.reconcileAndWrite(ctx, inv, snap, proj.Statuses, reconcile.OriginProjection, false)
	out.Unresolved = proj.Unresolved
	return out, err
}

// SyncFromState reads the current runtime state and syncs it.
func (s *Service) SyncFromState(ctx context.Context) (Outcome, error) {
	state, err := s.state.State()
	if err != nil {
		return Outcome{Op: OpSync, Path: s.settings.StatusPath}, err
	}
	return s.Sync(ctx, state)
}

// SyncHook adapts Sync for projector.Hooks so a phase transition can trigger
// it without waiting on or failing because of it.
func (s *Service) SyncHook() projector.HookFunc {
	return func(ctx context.Context, state workflow.ProjectState) error {
		_, err := s.Sync(ctx, state)
		return err
	}
}

type invocation struct {
	id     string
	op     Operation
	logger *zap.Logger
}

func (s *Service) begin(op Operation) invocation {
	id := s.newID()
	logger := s.logger.With(zap.String("run", id), zap.String("op", string(op)))
	logger.Debug("invocation started", zap.String("path", s.settings.StatusPath))
	return invocation{id: id, op: op, logger: logger}
}

func (s *Service) fail(r invocation, out Outcome, err error) (Outcome, error) {
	out.RunID, out.Op, out.Path = r.id, r.op, s.settings.StatusPath
	r.logger.Error("invocation failed", zap.String("path", s.settings.StatusPath), zap.Error(err))
	s.journal.RecordFailure(string(r.op), r.id, err)
	return out, err
}

func (s *Service) scanner(r invocation) *evidence.Scanner {
	return evidence.NewScanner(s.store, s.classifier,
		evidence.WithLogger(r.logger),
		evidence.WithWorkers(s.settings.Workers))
}

type snapshot struct {
	doc      *sprint.Document
	existed  bool
	degraded bool
	skipped  []string
}

// load reads the tracking file. A missing file is an empty FULL document.
// With strict unset a FormatError degrades to an empty UNKNOWN document.
func (s *Service) load(r invocation, strict bool) (snapshot, error) {
	path := s.settings.StatusPath
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot{doc: sprint.NewDocument()}, nil
		}
		return snapshot{}, &sprint.IoError{Op: "read", Path: path, Err: err}
	}
	res, err := format.Parse(data)
	if err != nil {
		var fe *sprint.FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		if strict {
			return snapshot{}, err
		}
		r.logger.Warn("unparseable sprint-status treated as empty", zap.String("path", path), zap.Error(err))
		doc := sprint.NewDocument()
		doc.Format = sprint.FormatUnknown
		return snapshot{doc: doc, existed: true, degraded: true}, nil
	}
	for _, key := range res.Skipped {
		r.logger.Warn("non-scalar status value dropped", zap.String("key", key))
	}
	return snapshot{doc: res.Document, existed: true, skipped: res.Skipped}, nil
}

func (s *Service) reconcileAndWrite(ctx context.Context, r invocation, in snapshot, generated *sprint.StatusMap, origin reconcile.Origin, prune bool) (Outcome, error) {
	out := Outcome{RunID: r.id, Op: r.op, Path: s.settings.StatusPath}
	out.Format, out.Degraded, out.Skipped = in.doc.Format, in.degraded, in.skipped

	var ev map[string]evidence.Evidence
	if origin == reconcile.OriginSpecification {
		keys := in.doc.Statuses.Keys()
		if generated != nil {
			keys = append(keys, generated.Keys()...)
		}
		records, failures, err := s.scanner(r).ScanAll(ctx, dedupe(keys))
		if err != nil {
			return s.fail(r, out, err)
		}
		ev, out.Failures = evidence.Best(records), failures
	}

	engine := reconcile.NewEngine(s.classifier, r.logger)
	out.Result = engine.Reconcile(reconcile.Input{
		Existing:  in.doc,
		Generated: generated,
		Evidence:  ev,
		Origin:    origin,
		Prune:     prune,
	})
	for _, ch := range out.Result.Changes {
		r.logger.Info("status changed",
			zap.String("key", ch.Key),
			zap.String("from", string(ch.From)),
			zap.String("to", string(ch.To)),
			zap.String("reason", ch.Reason))
	}

	needsWrite := out.Result.Changed() || (!in.existed && r.op == OpGenerate)
	if !needsWrite {
		s.record(r, out, len(out.Result.Document.Statuses.Keys()))
		return out, nil
	}
	if in.existed && s.confirm != nil && out.Result.Divergence > s.settings.Threshold {
		ok, err := s.confirm(ctx, out)
		if err != nil {
			return s.fail(r, out, err)
		}
		if !ok {
			out.Declined = true
			r.logger.Info("write declined", zap.Float64("divergence", out.Result.Divergence))
			s.journal.RecordDeclined(string(r.op), r.id, out.Result.Divergence)
			return out, nil
		}
	}

	doc := out.Result.Document
	s.fillHeader(&doc.Header)
	data, err := format.Render(doc, s.classifier)
	if err != nil {
		return s.fail(r, out, err)
	}
	if err := atomicfile.Write(s.fs, s.settings.StatusPath, data, os.FileMode(0o644)); err != nil {
		return s.fail(r, out, err)
	}
	out.Written = true
	s.record(r, out, doc.Statuses.Len())
	return out, nil
}

func (s *Service) fillHeader(h *sprint.Header) {
	if h.Project == "" {
		h.Project = s.settings.Project
	}
	if h.ProjectKey == "" {
		h.ProjectKey = s.settings.ProjectKey
	}
	if h.TrackingSystem == "" {
		h.TrackingSystem = sprint.TrackingFileSystem
	}
	if h.StoryLocation == "" {
		h.StoryLocation = s.settings.StoryLocation
	}
	h.Stamp(s.now())
}

func (s *Service) record(r invocation, out Outcome, keys int) {
	r.logger.Info("invocation finished",
		zap.Int("keys", keys),
		zap.Int("changed", len(out.Result.Changes)),
		zap.Float64("divergence", out.Result.Divergence),
		zap.Bool("written", out.Written),
		zap.Int("scan_failures", len(out.Failures)))
	s.journal.RecordRun(logbook.Run{
		Op:           string(r.op),
		ID:           r.id,
		Keys:         keys,
		Changed:      len(out.Result.Changes),
		Divergence:   out.Result.Divergence,
		Written:      out.Written,
		Degraded:     out.Degraded,
		ScanFailures: len(out.Failures),
	})
}

func relativeTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
