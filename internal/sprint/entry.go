package sprint

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a development_status key.
type Kind string

const (
	KindEpicStory     Kind = "epic-story"
	KindEpicMeta      Kind = "epic-meta"
	KindModuleStory   Kind = "module-story"
	KindStandalone    Kind = "standalone"
	KindRetrospective Kind = "retrospective"
	KindUnknown       Kind = "unknown"
)

// Entry carries the identifying fields extracted from a key. Epic is zero for
// kinds that do not belong to a numeric epic.
type Entry struct {
	Key    string
	Kind   Kind
	Epic   int
	Story  int
	Module string
	Slug   string
}

// IsStory reports whether the entry is a unit of work (epic or module story).
func (e Entry) IsStory() bool {
	return e.Kind == KindEpicStory || e.Kind == KindModuleStory
}

var (
	retrospectivePattern = regexp.MustCompile(`^epic-(\d+)-retrospective$`)
	epicMetaPattern      = regexp.MustCompile(`^epic-(\d+)$`)
	standalonePattern    = regexp.MustCompile(`^standalone-(\d+)-(.+)$`)
	modulePattern        = regexp.MustCompile(`^([a-z][a-z0-9_-]*?)-(\d+)-(.+)$`)
	epicStoryPattern     = regexp.MustCompile(`^(\d+)-(\d+)-(.+)$`)
)

// Module declares a non-numeric key prefix that identifies module stories.
// Epic optionally ties the module's stories to a numeric epic so they count
// towards that epic's rollup.
type Module struct {
	Name string
	Epic int
}

// Classifier maps keys to kinds. It holds only the module allowlist, so a
// value is safe to share and Classify has no side effects.
type Classifier struct {
	modules map[string]int
}

// NewClassifier builds a classifier for the given module allowlist.
func NewClassifier(modules ...Module) Classifier {
	set := make(map[string]int, len(modules))
	for _, m := range modules {
		name := strings.ToLower(strings.TrimSpace(m.Name))
		if name == "" {
			continue
		}
		set[name] = m.Epic
	}
	return Classifier{modules: set}
}

// Modules returns the allowlisted module names in sorted order.
func (c Classifier) Modules() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify applies the key grammar in precedence order; the first match wins.
func (c Classifier) Classify(key string) Entry {
	if m := retrospectivePattern.FindStringSubmatch(key); m != nil {
		return Entry{Key: key, Kind: KindRetrospective, Epic: atoi(m[1])}
	}
	if m := epicMetaPattern.FindStringSubmatch(key); m != nil {
		return Entry{Key: key, Kind: KindEpicMeta, Epic: atoi(m[1])}
	}
	if m := standalonePattern.FindStringSubmatch(key); m != nil {
		return Entry{Key: key, Kind: KindStandalone, Story: atoi(m[1]), Slug: m[2]}
	}
	if m := modulePattern.FindStringSubmatch(key); m != nil {
		if epic, ok := c.modules[m[1]]; ok {
			return Entry{Key: key, Kind: KindModuleStory, Epic: epic, Module: m[1], Story: atoi(m[2]), Slug: m[3]}
		}
	}
	if m := epicStoryPattern.FindStringSubmatch(key); m != nil {
		return Entry{Key: key, Kind: KindEpicStory, Epic: atoi(m[1]), Story: atoi(m[2]), Slug: m[3]}
	}
	return Entry{Key: key, Kind: KindUnknown}
}

// EpicKey returns the EPIC_META key for an epic.
func EpicKey(epic int) string {
	return "epic-" + strconv.Itoa(epic)
}

// RetrospectiveKey returns the RETROSPECTIVE key for an epic.
func RetrospectiveKey(epic int) string {
	return EpicKey(epic) + "-retrospective"
}

// StoryKey assembles an EPIC_STORY key.
func StoryKey(epic, story int, slug string) string {
	return strconv.Itoa(epic) + "-" + strconv.Itoa(story) + "-" + slug
}

func atoi(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
