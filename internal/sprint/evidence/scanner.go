package evidence

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

const defaultWorkers = 8

// Scanner inspects an ArtifactStore for evidence about story keys.
type Scanner struct {
	store      ArtifactStore
	classifier sprint.Classifier
	logger     *zap.Logger
	workers    int
}

// Option customizes a Scanner during construction.
type Option func(*Scanner)

// WithLogger sets the logger used to report lookup failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers bounds the number of keys scanned concurrently by ScanAll.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewScanner builds a scanner over store.
func NewScanner(store ArtifactStore, classifier sprint.Classifier, opts ...Option) *Scanner {
	s := &Scanner{
		store:      store,
		classifier: classifier,
		logger:     zap.NewNop(),
		workers:    defaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan gathers evidence for a single key. Only EPIC_STORY keys are inspected;
// every other kind gets a NONE record. A failed lookup degrades the whole
// record to NONE and is listed in Failures.
func (s *Scanner) Scan(key string) Record {
	entry := s.classifier.Classify(key)
	rec := Record{Key: key}
	if entry.Kind != sprint.KindEpicStory {
		rec.Best = None("not scanned: " + string(entry.Kind))
		return rec
	}

	fail := func(lookup string, err error) {
		rec.Failures = append(rec.Failures, &sprint.ScanFailure{Key: key, Lookup: lookup, Err: err})
	}
	path, status, err := s.store.StoryFile(entry)
	if err != nil {
		fail("story-file", err)
	}
	rec.Facts.StoryFile = path
	rec.Facts.StatusField = status
	if rec.Facts.HasSynthesis, err = s.store.HasSynthesis(entry); err != nil {
		fail("synthesis", err)
	}
	if rec.Facts.HasReview, err = s.store.HasReview(entry); err != nil {
		fail("code-review", err)
	}
	if rec.Facts.HasValidation, err = s.store.HasValidation(entry); err != nil {
		fail("validation-report", err)
	}

	if rec.Failed() {
		for _, f := range rec.Failures {
			s.logger.Warn("evidence lookup failed",
				zap.String("key", key),
				zap.String("lookup", f.Lookup),
				zap.Error(f.Err),
			)
		}
		rec.Best = None("scan failed")
		rec.Matches = []Evidence{rec.Best}
		return rec
	}
	rec.Matches = matches(rec.Facts)
	rec.Best = rec.Matches[0]
	return rec
}

// matches builds the applicable evidence list in priority order. The final
// element is always the NONE fallback.
func matches(f Facts) []Evidence {
	var out []Evidence
	if f.StoryFile != "" && f.StatusField != "" {
		if status, ok := sprint.ParseStatus(f.StatusField); ok {
			out = append(out, Evidence{
				Priority:   PriorityExplicitStatus,
				Confidence: ConfidenceExplicit,
				Inferred:   status,
				Source:     fmt.Sprintf("%s Status: %s", f.StoryFile, f.StatusField),
			})
		}
	}
	if f.HasSynthesis {
		out = append(out, Evidence{Priority: PrioritySynthesis, Confidence: ConfidenceStrong, Inferred: sprint.StatusDone, Source: "code-review synthesis exists"})
	}
	if f.HasReview {
		out = append(out, Evidence{Priority: PriorityReview, Confidence: ConfidenceMedium, Inferred: sprint.StatusReview, Source: "code-review exists"})
	}
	if f.HasValidation {
		out = append(out, Evidence{Priority: PriorityValidation, Confidence: ConfidenceMedium, Inferred: sprint.StatusReadyForDev, Source: "validation report exists"})
	}
	if f.StoryFile != "" {
		source := f.StoryFile + " exists"
		if f.StatusField != "" {
			if _, err := sprint.CheckStatus(f.StatusField); err != nil {
				source = fmt.Sprintf("%s: %v", f.StoryFile, err)
			}
		}
		out = append(out, Evidence{Priority: PriorityStoryFile, Confidence: ConfidenceWeak, Inferred: sprint.StatusInProgress, Source: source})
	}
	out = append(out, None("no artifacts"))
	return out
}

// ScanAll scans keys concurrently. Each worker only reads artifacts and fills
// its own result slot; the map is assembled after every worker has finished.
// Lookup failures never abort the scan, only a cancelled context does.
func (s *Scanner) ScanAll(ctx context.Context, keys []string) (map[string]Record, []*sprint.ScanFailure, error) {
	results := make([]Record, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.Scan(key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("evidence: scan: %w", err)
	}

	records := make(map[string]Record, len(keys))
	var failures []*sprint.ScanFailure
	for _, rec := range results {
		records[rec.Key] = rec
		failures = append(failures, rec.Failures...)
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Key < failures[j].Key })
	return records, failures, nil
}

// Best reduces records to the single authoritative evidence per key.
func Best(records map[string]Record) map[string]Evidence {
	out := make(map[string]Evidence, len(records))
	for key, rec := range records {
		out[key] = rec.Best
	}
	return out
}
