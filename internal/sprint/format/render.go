package format

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

const indent = "  "

// Render serializes the document in its original shape. MINIMAL and UNKNOWN
// inputs are written as FULL since neither can carry development_status.
func Render(doc *sprint.Document, classifier sprint.Classifier) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("format: nil document")
	}
	var buf bytes.Buffer
	for _, line := range doc.Preamble {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if len(doc.Preamble) > 0 {
		buf.WriteByte('\n')
	}
	writeHeader(&buf, doc.Header)
	for _, field := range doc.Extra {
		if err := writeField(&buf, field.Key, field.Value); err != nil {
			return nil, err
		}
	}
	switch doc.Format {
	case sprint.FormatHybrid:
		if doc.Epics != nil {
			if err := writeField(&buf, keyEpics, doc.Epics); err != nil {
				return nil, err
			}
		}
	case sprint.FormatArray:
		if err := writeField(&buf, keyEpics, epicIDList(doc, classifier)); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('\n')
	writeStatuses(&buf, doc, classifier)
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, h sprint.Header) {
	fmt.Fprintf(buf, "%s: %s\n", keyGenerated, scalar(h.Generated))
	fields := []struct{ key, value string }{
		{keyProject, h.Project},
		{keyProjectKey, h.ProjectKey},
		{keyTracking, h.TrackingSystem},
		{keyStoryLocation, h.StoryLocation},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(buf, "%s: %s\n", f.key, scalar(f.value))
	}
}

func writeField(buf *bytes.Buffer, key string, value *yaml.Node) error {
	pair := &yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{{Kind: yaml.ScalarNode, Value: key}, value},
	}
	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(pair); err != nil {
		return fmt.Errorf("format: encode %s: %w", key, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("format: encode %s: %w", key, err)
	}
	buf.Write(out.Bytes())
	return nil
}

func writeStatuses(buf *bytes.Buffer, doc *sprint.Document, classifier sprint.Classifier) {
	keys := doc.Statuses.Keys()
	if len(keys) == 0 {
		fmt.Fprintf(buf, "%s: {}\n", keyDevelopment)
		return
	}
	fmt.Fprintf(buf, "%s:\n", keyDevelopment)
	prev := ""
	for i, key := range keys {
		group, epic := groupOf(classifier.Classify(key), prev)
		if i == 0 || group != prev {
			if i > 0 {
				buf.WriteByte('\n')
			}
			if epic > 0 {
				fmt.Fprintf(buf, "%s# Epic %d\n", indent, epic)
			}
		}
		prev = group
		comment, _ := doc.CommentFor(key)
		for _, lead := range comment.Lead {
			buf.WriteString(indent)
			buf.WriteString(lead)
			buf.WriteByte('\n')
		}
		entry, ok := doc.RawFor(key)
		if !ok {
			status, _ := doc.Statuses.Get(key)
			entry = canonicalEntry(key, status)
		}
		fmt.Fprintf(buf, "%s%s%s\n", indent, entry, comment.Trailing)
	}
}

func canonicalEntry(key string, status sprint.Status) string {
	return scalar(key) + ": " + scalar(string(status))
}

// groupOf names the write group a key belongs to. Unknown keys stay in the
// group of the key before them so they never split an epic.
func groupOf(e sprint.Entry, prev string) (string, int) {
	switch e.Kind {
	case sprint.KindEpicMeta, sprint.KindEpicStory, sprint.KindRetrospective:
		return "epic:" + strconv.Itoa(e.Epic), e.Epic
	case sprint.KindModuleStory:
		if e.Epic > 0 {
			return "epic:" + strconv.Itoa(e.Epic), e.Epic
		}
		return "module:" + e.Module, 0
	case sprint.KindStandalone:
		return "standalone", 0
	default:
		if strings.HasPrefix(prev, "epic:") {
			n, _ := strconv.Atoi(strings.TrimPrefix(prev, "epic:"))
			return prev, n
		}
		return prev, 0
	}
}

// epicIDList rebuilds the ARRAY-shape epics list: the ids already listed plus
// every epic present in development_status, sorted and de-duplicated.
func epicIDList(doc *sprint.Document, classifier sprint.Classifier) *yaml.Node {
	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	list := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	if doc.Epics != nil {
		list.Style = doc.Epics.Style
		for _, item := range doc.Epics.Content {
			add(strings.TrimSpace(item.Value))
		}
	}
	for _, key := range doc.Statuses.Keys() {
		e := classifier.Classify(key)
		switch e.Kind {
		case sprint.KindEpicMeta, sprint.KindEpicStory, sprint.KindRetrospective:
			add(strconv.Itoa(e.Epic))
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		tag := "!!str"
		if _, err := strconv.Atoi(id); err == nil {
			tag = "!!int"
		}
		list.Content = append(list.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: id})
	}
	return list
}

var plainScalar = regexp.MustCompile(`^[A-Za-z0-9_.][A-Za-z0-9_./:+ -]*$`)

var reservedWords = map[string]struct{}{
	"true": {}, "false": {}, "yes": {}, "no": {}, "on": {}, "off": {},
	"null": {}, "~": {}, "y": {}, "n": {},
}

// scalar renders a string as a plain YAML scalar when that reads back as the
// same string, and quotes it otherwise.
func scalar(s string) string {
	if s != "" && plainScalar.MatchString(s) && !strings.Contains(s, ": ") &&
		!strings.HasSuffix(s, ":") && !strings.HasSuffix(s, " ") {
		if _, reserved := reservedWords[strings.ToLower(s)]; !reserved {
			return s
		}
	}
	return strconv.Quote(s)
}
