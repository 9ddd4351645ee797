package sprint

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Format identifies which historical on-disk shape a document was read from.
// It is resolved once at parse time; nothing downstream branches on it except
// the serializer choosing how to write the file back.
type Format string

const (
	FormatFull    Format = "full"
	FormatHybrid  Format = "hybrid"
	FormatArray   Format = "array"
	FormatMinimal Format = "minimal"
	FormatUnknown Format = "unknown"
)

// TrackingFileSystem is the only tracking_system value this engine writes.
const TrackingFileSystem = "file-system"

// Header holds the top-level metadata of a sprint-status file.
type Header struct {
	Generated      string
	Project        string
	ProjectKey     string
	TrackingSystem string
	StoryLocation  string
}

// Stamp sets the generated timestamp in the on-disk layout.
func (h *Header) Stamp(now time.Time) {
	h.Generated = now.UTC().Format(time.RFC3339)
}

// Comment is the side-table record for one key: full-line comments directly
// above it and the verbatim trailing text after its value (including the
// leading whitespace and '#').
type Comment struct {
	Lead     []string
	Trailing string
}

func (c Comment) empty() bool {
	return len(c.Lead) == 0 && c.Trailing == ""
}

// RawEntry is the source text of a status line whose spelling differs from
// the canonical rendering, e.g. `1-1-a: Done` or `"1-2-b": "done"`. Text
// excludes the indent and trailing comment. It is re-emitted only while the
// key still holds Status.
type RawEntry struct {
	Text   string
	Status Status
}

// ExtraField is an unrecognized top-level key carried through untouched.
type ExtraField struct {
	Key   string
	Value *yaml.Node
}

// Document is the canonical in-memory sprint-status model.
type Document struct {
	Header   Header
	Statuses *StatusMap
	Comments map[string]Comment
	Raw      map[string]RawEntry
	// Preamble holds the comment lines at the top of the file, before any key.
	Preamble []string
	Extra    []ExtraField
	Format   Format
	// Epics carries the HYBRID epics metadata list, or the ARRAY id list.
	Epics *yaml.Node
}

// NewDocument returns an empty FULL document.
func NewDocument() *Document {
	return &Document{
		Header:   Header{TrackingSystem: TrackingFileSystem},
		Statuses: NewStatusMap(),
		Comments: map[string]Comment{},
		Raw:      map[string]RawEntry{},
		Format:   FormatFull,
	}
}

// CommentFor returns the comment attached to key, if any.
func (d *Document) CommentFor(key string) (Comment, bool) {
	if d == nil || d.Comments == nil {
		return Comment{}, false
	}
	c, ok := d.Comments[key]
	return c, ok && !c.empty()
}

// RawFor returns the source spelling of key's line while its status is
// unchanged since parsing.
func (d *Document) RawFor(key string) (string, bool) {
	if d == nil || d.Raw == nil {
		return "", false
	}
	r, ok := d.Raw[key]
	if !ok {
		return "", false
	}
	if cur, has := d.Statuses.Get(key); !has || cur != r.Status {
		return "", false
	}
	return r.Text, true
}

// Clone returns a deep copy of the document's mutable parts. yaml nodes are
// shared; nothing in this module mutates them after parsing.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Statuses = d.Statuses.Clone()
	out.Comments = make(map[string]Comment, len(d.Comments))
	for k, c := range d.Comments {
		out.Comments[k] = Comment{Lead: append([]string(nil), c.Lead...), Trailing: c.Trailing}
	}
	out.Raw = make(map[string]RawEntry, len(d.Raw))
	for k, r := range d.Raw {
		out.Raw[k] = r
	}
	out.Preamble = append([]string(nil), d.Preamble...)
	out.Extra = append([]ExtraField(nil), d.Extra...)
	return &out
}

// StatusMap is an insertion-ordered key -> status mapping.
type StatusMap struct {
	keys   []string
	values map[string]Status
}

// NewStatusMap returns an empty map.
func NewStatusMap() *StatusMap {
	return &StatusMap{values: map[string]Status{}}
}

// StatusMapOf builds a map from alternating key, status pairs in order.
func StatusMapOf(pairs ...any) *StatusMap {
	m := NewStatusMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case Status:
			m.Set(key, v)
		case string:
			m.Set(key, Status(v))
		}
	}
	return m
}

// Len returns the number of entries.
func (m *StatusMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the status stored for key.
func (m *StatusMap) Get(key string) (Status, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m.values[key]
	return s, ok
}

// Has reports whether key is present.
func (m *StatusMap) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores a status, appending the key if it is new.
func (m *StatusMap) Set(key string, status Status) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = status
}

// Insert places a new key at position idx (clamped to the map bounds). An
// existing key only has its value replaced.
func (m *StatusMap) Insert(idx int, key string, status Status) {
	if _, ok := m.values[key]; ok {
		m.values[key] = status
		return
	}
	if idx < 0 {
		idx = 0
	}
	if idx > len(m.keys) {
		idx = len(m.keys)
	}
	m.keys = append(m.keys, "")
	copy(m.keys[idx+1:], m.keys[idx:])
	m.keys[idx] = key
	m.values[key] = status
}

// Delete removes key, preserving the order of the rest.
func (m *StatusMap) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return
		}
	}
}

// Keys returns the keys in insertion order.
func (m *StatusMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Clone returns an independent copy.
func (m *StatusMap) Clone() *StatusMap {
	out := NewStatusMap()
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// Map returns a plain map copy, mostly for tests and reporting.
func (m *StatusMap) Map() map[string]Status {
	out := make(map[string]Status, m.Len())
	for _, k := range m.Keys() {
		out[k] = m.values[k]
	}
	return out
}
