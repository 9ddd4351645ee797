// Package specs discovers epics and stories from the project's epic markdown
// files and turns them into freshly generated development_status entries.
package specs

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

var (
	epicHeading  = regexp.MustCompile(`^#{1,3}\s+Epic\s+(\d+)\s*(?:[:.\-]\s*(.*))?$`)
	storyHeading = regexp.MustCompile(`^#{2,4}\s+Story\s+(\d+)\.(\d+)\s*(?:[:.\-]\s*(.*))?$`)
	slugUnsafe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// Story is one (epic, story, slug) tuple discovered in a specification file.
type Story struct {
	Epic  int
	Story int
	Slug  string
	Title string
	Path  string
}

// Key returns the EPIC_STORY key for the story.
func (s Story) Key() string {
	return sprint.StoryKey(s.Epic, s.Story, s.Slug)
}

// Epic is a discovered epic heading.
type Epic struct {
	ID    int
	Title string
}

// Catalog is everything discovered across the specification files, sorted
// by epic then story.
type Catalog struct {
	Epics   []Epic
	Stories []Story
}

// Source reads specification files matching a set of glob patterns.
type Source struct {
	fs       afero.Fs
	patterns []string
}

// NewSource builds a Source over fsys.
func NewSource(fsys afero.Fs, patterns ...string) *Source {
	return &Source{fs: fsys, patterns: patterns}
}

// Discover parses every matching file. Missing files are skipped; a story
// number seen twice keeps its first occurrence.
func (s *Source) Discover() (Catalog, error) {
	seenFile := map[string]struct{}{}
	var files []string
	for _, pattern := range s.patterns {
		matches, err := afero.Glob(s.fs, pattern)
		if err != nil {
			return Catalog{}, fmt.Errorf("specs: bad pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, ok := seenFile[m]; ok {
				continue
			}
			seenFile[m] = struct{}{}
			files = append(files, m)
		}
	}

	epics := map[int]Epic{}
	stories := map[[2]int]Story{}
	for _, path := range files {
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return Catalog{}, fmt.Errorf("specs: read %s: %w", path, err)
		}
		fileEpics, fileStories := Parse(data)
		for _, e := range fileEpics {
			if _, ok := epics[e.ID]; !ok {
				epics[e.ID] = e
			}
		}
		for _, st := range fileStories {
			id := [2]int{st.Epic, st.Story}
			if _, ok := stories[id]; ok {
				continue
			}
			st.Path = path
			stories[id] = st
			if _, ok := epics[st.Epic]; !ok {
				epics[st.Epic] = Epic{ID: st.Epic}
			}
		}
	}

	var cat Catalog
	for _, e := range epics {
		cat.Epics = append(cat.Epics, e)
	}
	sort.Slice(cat.Epics, func(i, j int) bool { return cat.Epics[i].ID < cat.Epics[j].ID })
	for _, st := range stories {
		cat.Stories = append(cat.Stories, st)
	}
	sort.Slice(cat.Stories, func(i, j int) bool {
		if cat.Stories[i].Epic != cat.Stories[j].Epic {
			return cat.Stories[i].Epic < cat.Stories[j].Epic
		}
		return cat.Stories[i].Story < cat.Stories[j].Story
	})
	return cat, nil
}

// Parse extracts epic and story headings from one markdown document. Story
// headings inside fenced code blocks are ignored.
func Parse(data []byte) ([]Epic, []Story) {
	var epics []Epic
	var stories []Story
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	inFence := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := storyHeading.FindStringSubmatch(line); m != nil {
			epic, _ := strconv.Atoi(m[1])
			story, _ := strconv.Atoi(m[2])
			title := strings.TrimSpace(m[3])
			slug := Slugify(title)
			if slug == "" {
				slug = "story"
			}
			stories = append(stories, Story{Epic: epic, Story: story, Slug: slug, Title: title})
			continue
		}
		if m := epicHeading.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			epics = append(epics, Epic{ID: id, Title: strings.TrimSpace(m[2])})
		}
	}
	return epics, stories
}

// Slugify lowercases a title and joins its alphanumeric runs with dashes.
func Slugify(title string) string {
	slug := slugUnsafe.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}

// Generate builds the generated map: per epic, the epic key, its stories,
// then its retrospective.
func Generate(cat Catalog) *sprint.StatusMap {
	m := sprint.NewStatusMap()
	byEpic := map[int][]Story{}
	for _, st := range cat.Stories {
		byEpic[st.Epic] = append(byEpic[st.Epic], st)
	}
	for _, e := range cat.Epics {
		m.Set(sprint.EpicKey(e.ID), sprint.StatusBacklog)
		for _, st := range byEpic[e.ID] {
			m.Set(st.Key(), sprint.StatusBacklog)
		}
		m.Set(sprint.RetrospectiveKey(e.ID), sprint.StatusOptional)
	}
	return m
}

// Index resolves story references from runtime state to entry keys.
type Index struct {
	byID   map[[2]int]string
	byEpic map[int][]string
	keys   map[string]struct{}
}

// NewIndex indexes a catalog.
func NewIndex(cat Catalog) *Index {
	idx := &Index{
		byID:   map[[2]int]string{},
		byEpic: map[int][]string{},
		keys:   map[string]struct{}{},
	}
	for _, st := range cat.Stories {
		key := st.Key()
		idx.byID[[2]int{st.Epic, st.Story}] = key
		idx.byEpic[st.Epic] = append(idx.byEpic[st.Epic], key)
		idx.keys[key] = struct{}{}
	}
	return idx
}

// Include indexes the EPIC_STORY keys of an existing tracking file. A key
// replaces the catalog spelling for the same epic and story number, so
// references resolve to the entry the file already holds. Keys of epics the
// catalog does not know are added, which keeps runtime state resolvable when
// no specification file exists.
func (idx *Index) Include(keys []string) {
	classifier := sprint.NewClassifier()
	seen := map[[2]int]bool{}
	touched := map[int]bool{}
	for _, key := range keys {
		entry := classifier.Classify(key)
		if entry.Kind != sprint.KindEpicStory {
			continue
		}
		id := [2]int{entry.Epic, entry.Story}
		if seen[id] {
			continue
		}
		seen[id] = true
		old, indexed := idx.byID[id]
		switch {
		case indexed && old == key:
			continue
		case indexed:
			delete(idx.keys, old)
			stories := idx.byEpic[entry.Epic]
			for i, k := range stories {
				if k == old {
					stories[i] = key
				}
			}
		default:
			idx.byEpic[entry.Epic] = append(idx.byEpic[entry.Epic], key)
			touched[entry.Epic] = true
		}
		idx.byID[id] = key
		idx.keys[key] = struct{}{}
	}
	for epic := range touched {
		stories := idx.byEpic[epic]
		sort.SliceStable(stories, func(i, j int) bool {
			return classifier.Classify(stories[i]).Story < classifier.Classify(stories[j]).Story
		})
	}
}

var dottedID = regexp.MustCompile(`^(\d+)[.\-](\d+)$`)

// Resolve maps `2.3`, `2-3` or a full key to the indexed entry key. A full
// key that is not indexed is returned unchanged when it is a valid story key.
func (idx *Index) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if m := dottedID.FindStringSubmatch(ref); m != nil {
		epic, _ := strconv.Atoi(m[1])
		story, _ := strconv.Atoi(m[2])
		key, ok := idx.byID[[2]int{epic, story}]
		return key, ok
	}
	if _, ok := idx.keys[ref]; ok {
		return ref, true
	}
	entry := sprint.NewClassifier().Classify(ref)
	if entry.Kind == sprint.KindEpicStory {
		if key, ok := idx.byID[[2]int{entry.Epic, entry.Story}]; ok {
			return key, true
		}
		return ref, true
	}
	return "", false
}

// Stories returns the indexed keys of an epic in story order.
func (idx *Index) Stories(epic int) []string {
	return append([]string(nil), idx.byEpic[epic]...)
}
