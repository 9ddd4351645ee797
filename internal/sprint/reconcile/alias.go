package reconcile

import (
	"sort"

	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/sprint"
	"github.com/kingrea/lattice-sprint/internal/sprint/evidence"
)

// aliasStories folds generated EPIC_STORY keys onto the existing key with the
// same epic and story number when only the slug differs, so a retitled story
// or a projector that derived its own slug never duplicates an entry. The
// existing spelling wins. Colliding generated values go through promote.
// Evidence filed under the generated spelling is used only when the existing
// key has none of its own.
func (e *Engine) aliasStories(existing, generated *sprint.StatusMap, ev map[string]evidence.Evidence) (*sprint.StatusMap, map[string]evidence.Evidence) {
	byID := map[[2]int]string{}
	for _, key := range existing.Keys() {
		entry := e.classifier.Classify(key)
		if entry.Kind != sprint.KindEpicStory {
			continue
		}
		id := [2]int{entry.Epic, entry.Story}
		if _, ok := byID[id]; !ok {
			byID[id] = key
		}
	}
	if len(byID) == 0 {
		return generated, ev
	}
	target := func(key string) string {
		if existing.Has(key) {
			return key
		}
		entry := e.classifier.Classify(key)
		if entry.Kind != sprint.KindEpicStory {
			return key
		}
		if to, ok := byID[[2]int{entry.Epic, entry.Story}]; ok {
			return to
		}
		return key
	}

	folded := sprint.NewStatusMap()
	for _, key := range generated.Keys() {
		status, _ := generated.Get(key)
		to := target(key)
		if to != key {
			e.logger.Debug("generated key folded onto existing entry", zap.String("key", key), zap.String("existing", to))
		}
		if prev, ok := folded.Get(to); ok {
			status, _ = promote(prev, status)
		}
		folded.Set(to, status)
	}

	if len(ev) == 0 {
		return folded, ev
	}
	keys := make([]string, 0, len(ev))
	for key := range ev {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	remapped := make(map[string]evidence.Evidence, len(ev))
	for _, key := range keys {
		if target(key) == key {
			remapped[key] = ev[key]
		}
	}
	for _, key := range keys {
		to := target(key)
		if to == key || !ev[key].Above() {
			continue
		}
		if own, ok := remapped[to]; ok && own.Above() {
			continue
		}
		remapped[to] = ev[key]
	}
	return folded, remapped
}
