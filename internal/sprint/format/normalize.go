// Package format reads and writes sprint-status files. Five historical file
// shapes are recognized and folded into one sprint.Document; the writer emits
// the document back in its original shape.
package format

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

const (
	keyGenerated     = "generated"
	keyProject       = "project"
	keyProjectKey    = "project_key"
	keyTracking      = "tracking_system"
	keyStoryLocation = "story_location"
	keyDevelopment   = "development_status"
	keyEpics         = "epics"
)

var headerKeys = map[string]struct{}{
	keyGenerated:     {},
	keyProject:       {},
	keyProjectKey:    {},
	keyTracking:      {},
	keyStoryLocation: {},
}

// Result is the outcome of normalizing a raw document.
type Result struct {
	Document *sprint.Document
	// Skipped lists development_status keys whose values were not scalars.
	Skipped []string
}

// Parse decodes raw sprint-status bytes. Only a YAML syntax failure is an
// error; every parseable input normalizes to some document.
func Parse(data []byte) (Result, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Result{}, &sprint.FormatError{Err: err}
	}
	res := Normalize(&root)
	side := extractComments(data)
	doc := res.Document
	doc.Preamble = side.preamble
	for key, c := range side.comments {
		if doc.Statuses.Has(key) {
			doc.Comments[key] = c
		}
	}
	for key, text := range side.entries {
		status, ok := doc.Statuses.Get(key)
		if !ok || text == canonicalEntry(key, status) {
			continue
		}
		doc.Raw[key] = sprint.RawEntry{Text: text, Status: status}
	}
	return res, nil
}

// Detect reports which shape a parsed YAML tree has. Checks run from the
// strictest shape to the most permissive.
func Detect(root *yaml.Node) sprint.Format {
	top := topMapping(root)
	if top == nil {
		return sprint.FormatUnknown
	}
	dev, hasDev := lookup(top, keyDevelopment)
	devOK := hasDev && (dev.Kind == yaml.MappingNode || isNull(dev))
	epics, hasEpics := lookup(top, keyEpics)
	switch {
	case devOK && !hasEpics:
		return sprint.FormatFull
	case devOK && epics.Kind == yaml.SequenceNode && len(epics.Content) > 0 && allKind(epics.Content, yaml.MappingNode):
		return sprint.FormatHybrid
	case devOK && epics.Kind == yaml.SequenceNode && allKind(epics.Content, yaml.ScalarNode):
		return sprint.FormatArray
	case !hasDev && hasEpics && epics.Kind == yaml.SequenceNode && len(epics.Content) == 0:
		return sprint.FormatMinimal
	default:
		return sprint.FormatUnknown
	}
}

// Normalize folds a parsed YAML tree into the canonical document. It never
// fails: anything unrecognized becomes FormatUnknown with an empty status map
// and the header fields that could be read.
func Normalize(root *yaml.Node) Result {
	doc := sprint.NewDocument()
	doc.Header.TrackingSystem = ""
	doc.Format = Detect(root)
	res := Result{Document: doc}
	top := topMapping(root)
	if top == nil {
		return res
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		keyNode, value := top.Content[i], top.Content[i+1]
		key := keyNode.Value
		if _, ok := headerKeys[key]; ok {
			setHeader(&doc.Header, key, value)
			continue
		}
		switch key {
		case keyDevelopment:
			if doc.Format != sprint.FormatUnknown {
				res.Skipped = readStatuses(doc.Statuses, value)
			}
			continue
		case keyEpics:
			switch doc.Format {
			case sprint.FormatHybrid, sprint.FormatArray:
				doc.Epics = value
				continue
			case sprint.FormatMinimal:
				continue
			}
		}
		doc.Extra = append(doc.Extra, sprint.ExtraField{Key: key, Value: value})
	}
	return res
}

func readStatuses(into *sprint.StatusMap, node *yaml.Node) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	var skipped []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := strings.TrimSpace(node.Content[i].Value)
		value := node.Content[i+1]
		if key == "" {
			continue
		}
		if value.Kind != yaml.ScalarNode || isNull(value) {
			skipped = append(skipped, key)
			continue
		}
		status, _ := sprint.ParseStatus(value.Value)
		into.Set(key, status)
	}
	return skipped
}

func setHeader(h *sprint.Header, key string, value *yaml.Node) {
	if value.Kind != yaml.ScalarNode || isNull(value) {
		return
	}
	v := strings.TrimSpace(value.Value)
	switch key {
	case keyGenerated:
		h.Generated = v
	case keyProject:
		h.Project = v
	case keyProjectKey:
		h.ProjectKey = v
	case keyTracking:
		h.TrackingSystem = v
	case keyStoryLocation:
		h.StoryLocation = v
	}
}

func topMapping(root *yaml.Node) *yaml.Node {
	if root == nil {
		return nil
	}
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	return node
}

func lookup(mapping *yaml.Node, key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1], true
		}
	}
	return nil, false
}

func allKind(nodes []*yaml.Node, kind yaml.Kind) bool {
	for _, n := range nodes {
		if n.Kind != kind {
			return false
		}
	}
	return true
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
