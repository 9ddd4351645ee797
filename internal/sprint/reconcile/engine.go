// Package reconcile merges an existing sprint-status document with freshly
// generated entries and scanned evidence.
package reconcile

import (
	"sort"

	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/logging"
	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/sprint/evidence"
)

// Origin names what produced the generated map passed to Reconcile.
type Origin int

const (
	// OriginSpecification is generator output built from epic files.
	OriginSpecification Origin = iota
	// OriginProjection is projector output built from runtime state. It is
	// the only origin allowed to move retrospective entries.
	OriginProjection
)

func (o Origin) String() string {
	if o == OriginProjection {
		return "projection"
	}
	return "specification"
}

// Input bundles the three sources of a merge.
type Input struct {
	Existing  *sprint.Document
	Generated *sprint.StatusMap
	Evidence  map[string]evidence.Evidence
	Origin    Origin
	// Prune drops stale generated entries. Only honored for
	// OriginSpecification.
	Prune bool
}

// Change describes one key whose value differs from the existing document.
type Change struct {
	Key     string
	Kind    sprint.Kind
	From    sprint.Status
	To      sprint.Status
	Added   bool
	Removed bool
	Reason  string
}

// Result is the merged document plus the data a caller needs to decide
// whether to persist it.
type Result struct {
	Document    *sprint.Document
	Divergence  float64
	Changes     []Change
	Ambiguities []*sprint.AmbiguityError
}

// Changed reports whether the merge altered any key.
func (r Result) Changed() bool {
	return len(r.Changes) > 0
}

// Engine applies the per-kind merge rules.
type Engine struct {
	classifier sprint.Classifier
	logger     *zap.Logger
}

// NewEngine builds an engine. A nil logger discards output.
func NewEngine(classifier sprint.Classifier, logger *zap.Logger) *Engine {
	return &Engine{classifier: classifier, logger: logging.OrNop(logger)}
}

// Reconcile performs the three-way merge. It never fails; keys it cannot
// classify are carried through untouched and reported as ambiguities.
func (e *Engine) Reconcile(in Input) Result {
	existing := in.Existing
	if existing == nil {
		existing = sprint.NewDocument()
	}
	generated := in.Generated
	if generated == nil {
		generated = sprint.NewStatusMap()
	}
	out := existing.Clone()
	reasons := map[string]string{}
	generated, evs := e.aliasStories(existing.Statuses, generated, in.Evidence)

	keys := unionKeys(existing.Statuses, generated, evs)
	entries := make(map[string]sprint.Entry, len(keys))
	var ambiguities []*sprint.AmbiguityError
	for _, key := range keys {
		entry := e.classifier.Classify(key)
		entries[key] = entry
		if entry.Kind == sprint.KindUnknown {
			ambiguities = append(ambiguities, &sprint.AmbiguityError{Key: key})
			e.logger.Warn("unclassified status key left untouched", zap.String("key", key))
		}
	}

	for _, key := range keys {
		entry := entries[key]
		current, had := existing.Statuses.Get(key)
		gen, inGenerated := generated.Get(key)
		var next sprint.Status
		keep := true
		switch entry.Kind {
		case sprint.KindEpicStory:
			ev, hasEvidence := evs[key]
			if !had && !inGenerated && !ev.Above() {
				keep = false
				break
			}
			next, reasons[key] = mergeStory(current, had, gen, inGenerated, ev, hasEvidence)
		case sprint.KindRetrospective:
			switch {
			case inGenerated && in.Origin == OriginProjection:
				next, reasons[key] = gen, "projected from runtime state"
			case had:
				next = current
			case inGenerated:
				next, reasons[key] = gen, "generated"
			default:
				keep = false
			}
		case sprint.KindEpicMeta:
			if !had && !inGenerated {
				keep = false
			}
			// recomputed below
			next = current
		case sprint.KindModuleStory, sprint.KindStandalone:
			switch {
			case had:
				next = current
			case inGenerated:
				next, reasons[key] = gen, "new entry"
			default:
				keep = false
			}
		default:
			next, keep = current, had
		}
		if !keep {
			continue
		}
		if had {
			out.Statuses.Set(key, next)
			continue
		}
		out.Statuses.Insert(e.insertIndex(out.Statuses, entry), key, next)
	}

	removed := map[string]sprint.Status{}
	if in.Prune && in.Origin == OriginSpecification && in.Generated != nil {
		removed = e.prune(out, generated, evs)
	}
	for _, key := range e.recomputeEpics(out.Statuses, reasons) {
		if _, ok := entries[key]; !ok {
			keys = append(keys, key)
			entries[key] = e.classifier.Classify(key)
		}
	}

	res := Result{Document: out, Ambiguities: ambiguities}
	for _, key := range keys {
		before, had := existing.Statuses.Get(key)
		after, has := out.Statuses.Get(key)
		ch := Change{Key: key, Kind: entries[key].Kind, From: before, To: after, Reason: reasons[key]}
		switch {
		case had && !has:
			ch.Removed = true
			ch.To = ""
			if _, ok := removed[key]; ok {
				ch.Reason = "no longer generated"
			}
		case !had && has:
			ch.Added = true
		case had && has && before != after:
		default:
			continue
		}
		res.Changes = append(res.Changes, ch)
	}
	if len(keys) > 0 {
		res.Divergence = float64(len(res.Changes)) / float64(len(keys))
	}
	for _, ch := range res.Changes {
		if ch.Removed {
			delete(out.Comments, ch.Key)
		}
	}
	return res
}

// mergeStory applies the EPIC_STORY rule. Generated values and non-explicit
// evidence can only move a status forward; explicit evidence is applied last
// and always wins.
func mergeStory(current sprint.Status, had bool, gen sprint.Status, inGenerated bool, ev evidence.Evidence, hasEvidence bool) (sprint.Status, string) {
	reason := ""
	if !had {
		current = sprint.StatusBacklog
		if inGenerated {
			current = gen
		}
		reason = "new entry"
	} else if inGenerated {
		if next, ok := promote(current, gen); ok {
			current, reason = next, "generated"
		}
	}
	if !hasEvidence {
		return current, reason
	}
	if ev.Explicit() {
		if ev.Inferred != current {
			reason = ev.Source
		}
		return ev.Inferred, reason
	}
	if next, ok := promote(current, ev.Inferred); ok {
		current, reason = next, ev.Source
	}
	return current, reason
}

// promote is the single forward-only gate of the merge.
func promote(current, candidate sprint.Status) (sprint.Status, bool) {
	if sprint.Advances(current, candidate) {
		return candidate, true
	}
	return current, false
}

// recomputeEpics rewrites every EPIC_META value from its constituents and
// adds the EPIC_META key of any epic that has stories but no key yet. It
// returns the added keys.
func (e *Engine) recomputeEpics(statuses *sprint.StatusMap, reasons map[string]string) []string {
	members := map[int][]sprint.Status{}
	metas := map[int]string{}
	var order []int
	for _, key := range statuses.Keys() {
		entry := e.classifier.Classify(key)
		switch {
		case entry.Kind == sprint.KindEpicMeta:
			metas[entry.Epic] = key
		case entry.IsStory() && entry.Epic > 0:
			if _, seen := members[entry.Epic]; !seen {
				order = append(order, entry.Epic)
			}
			status, _ := statuses.Get(key)
			members[entry.Epic] = append(members[entry.Epic], status)
		}
	}
	var added []string
	for _, epic := range order {
		if _, ok := metas[epic]; ok {
			continue
		}
		key := sprint.EpicKey(epic)
		statuses.Insert(e.insertIndex(statuses, e.classifier.Classify(key)), key, sprint.StatusBacklog)
		metas[epic] = key
		added = append(added, key)
	}
	for epic, key := range metas {
		rollup := Rollup(members[epic])
		if prev, _ := statuses.Get(key); prev != rollup {
			reasons[key] = "recomputed from stories"
		}
		statuses.Set(key, rollup)
	}
	for _, key := range added {
		reasons[key] = "recomputed from stories"
	}
	return added
}

// Rollup derives an epic status from its stories: done when all are done,
// in-progress once any has left backlog, backlog otherwise (including when
// the epic has no stories).
func Rollup(stories []sprint.Status) sprint.Status {
	if len(stories) == 0 {
		return sprint.StatusBacklog
	}
	allDone, started := true, false
	for _, s := range stories {
		if s != sprint.StatusDone {
			allDone = false
		}
		if s != sprint.StatusBacklog {
			started = true
		}
	}
	switch {
	case allDone:
		return sprint.StatusDone
	case started:
		return sprint.StatusInProgress
	default:
		return sprint.StatusBacklog
	}
}

// prune removes entries the generator no longer produces. Stories go only
// when untouched; epic and retrospective keys go once their epic is empty.
func (e *Engine) prune(doc *sprint.Document, generated *sprint.StatusMap, ev map[string]evidence.Evidence) map[string]sprint.Status {
	removed := map[string]sprint.Status{}
	for _, key := range doc.Statuses.Keys() {
		if generated.Has(key) {
			continue
		}
		entry := e.classifier.Classify(key)
		if entry.Kind != sprint.KindEpicStory {
			continue
		}
		status, _ := doc.Statuses.Get(key)
		if status != sprint.StatusBacklog || ev[key].Above() {
			continue
		}
		removed[key] = status
		doc.Statuses.Delete(key)
	}
	populated := map[int]bool{}
	for _, key := range doc.Statuses.Keys() {
		if entry := e.classifier.Classify(key); entry.IsStory() && entry.Epic > 0 {
			populated[entry.Epic] = true
		}
	}
	for _, key := range doc.Statuses.Keys() {
		if generated.Has(key) {
			continue
		}
		entry := e.classifier.Classify(key)
		if entry.Kind != sprint.KindEpicMeta && entry.Kind != sprint.KindRetrospective {
			continue
		}
		if populated[entry.Epic] {
			continue
		}
		status, _ := doc.Statuses.Get(key)
		removed[key] = status
		doc.Statuses.Delete(key)
	}
	return removed
}

// insertIndex places a new key next to its epic group: an epic key before
// the group, a retrospective after it, a story after the group's last story.
// Keys of a new epic go before the first higher epic; anything else appends.
func (e *Engine) insertIndex(statuses *sprint.StatusMap, entry sprint.Entry) int {
	keys := statuses.Keys()
	if entry.Epic <= 0 || entry.Kind == sprint.KindStandalone {
		return len(keys)
	}
	first, lastStory, last, retro, higher := -1, -1, -1, -1, -1
	for i, key := range keys {
		other := e.classifier.Classify(key)
		if other.Epic <= 0 || other.Kind == sprint.KindStandalone {
			continue
		}
		switch {
		case other.Epic == entry.Epic:
			if first < 0 {
				first = i
			}
			last = i
			if other.IsStory() {
				lastStory = i
			}
			if other.Kind == sprint.KindRetrospective && retro < 0 {
				retro = i
			}
		case other.Epic > entry.Epic && higher < 0:
			higher = i
		}
	}
	switch {
	case first < 0 && higher >= 0:
		return higher
	case first < 0:
		return len(keys)
	case entry.Kind == sprint.KindEpicMeta:
		return first
	case entry.Kind == sprint.KindRetrospective:
		return last + 1
	case lastStory >= 0:
		return lastStory + 1
	case retro >= 0:
		return retro
	default:
		return last + 1
	}
}

// unionKeys lists existing keys in file order, then new generated keys in
// generated order, then evidence-only keys sorted.
func unionKeys(existing, generated *sprint.StatusMap, ev map[string]evidence.Evidence) []string {
	seen := map[string]struct{}{}
	var keys []string
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, key := range existing.Keys() {
		add(key)
	}
	for _, key := range generated.Keys() {
		add(key)
	}
	var extra []string
	for key := range ev {
		if _, ok := seen[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		add(key)
	}
	return keys
}
