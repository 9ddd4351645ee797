package format

import (
	"regexp"
	"strings"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

var (
	devBlockStart = regexp.MustCompile(`^development_status\s*:\s*(#.*)?$`)
	epicSeparator = regexp.MustCompile(`^#\s*[Ee]pic\s+\d+\b`)
)

// sideTable is what the line scan recovers that the YAML tree does not keep.
type sideTable struct {
	preamble []string
	comments map[string]sprint.Comment
	// entries maps a key to its `key: value` text without the trailing
	// comment, for single-line scalar values only.
	entries map[string]string
}

// extractComments builds the line-anchored comment side-table from the raw
// source text. Epic separators are skipped; the writer regenerates them.
func extractComments(data []byte) sideTable {
	comments := map[string]sprint.Comment{}
	entries := map[string]string{}
	lines := strings.Split(string(normalizeNewlines(data)), "\n")

	var preamble []string
	inPreamble := true
	inBlock := false
	var lead []string
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		trimmed := strings.TrimSpace(line)
		if inPreamble {
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				preamble = append(preamble, line)
				continue
			}
			inPreamble = false
		}
		if !inBlock {
			inBlock = devBlockStart.MatchString(line)
			lead = nil
			continue
		}
		if trimmed == "" {
			lead = nil
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if epicSeparator.MatchString(trimmed) {
				lead = nil
				continue
			}
			lead = append(lead, trimmed)
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			inBlock = devBlockStart.MatchString(line)
			lead = nil
			continue
		}
		key, value, trailing, ok := splitEntry(trimmed)
		if ok && (len(lead) > 0 || trailing != "") {
			comments[key] = sprint.Comment{Lead: lead, Trailing: trailing}
		}
		if ok && inlineScalar(value) {
			entries[key] = strings.TrimRight(strings.TrimSuffix(trimmed, trailing), " \t")
		}
		lead = nil
	}
	return sideTable{preamble: trimBlank(preamble), comments: comments, entries: entries}
}

// inlineScalar reports whether a value written on the key's own line is a
// plain or quoted scalar.
func inlineScalar(value string) bool {
	if value == "" {
		return false
	}
	switch value[0] {
	case '|', '>', '&', '*', '!', '{', '[':
		return false
	}
	return true
}

// splitEntry splits `key: value  # note` into the unquoted key, the value
// text and the trailing comment including its leading whitespace.
func splitEntry(line string) (key, value, trailing string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(line, `"`) || strings.HasPrefix(line, `'`):
		q := line[:1]
		end := strings.Index(line[1:], q)
		if end < 0 {
			return "", "", "", false
		}
		key = line[1 : end+1]
		rest = strings.TrimLeft(line[end+2:], " \t")
		if !strings.HasPrefix(rest, ":") {
			return "", "", "", false
		}
		rest = rest[1:]
	default:
		idx := strings.Index(line, ":")
		if idx <= 0 {
			return "", "", "", false
		}
		key = strings.TrimSpace(line[:idx])
		rest = line[idx+1:]
	}
	trailing = trailingComment(rest)
	value = strings.TrimSpace(strings.TrimSuffix(rest, trailing))
	return key, value, trailing, true
}

func trailingComment(rest string) string {
	var quote byte
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '#' && i > 0 && (rest[i-1] == ' ' || rest[i-1] == '\t'):
			start := i
			for start > 0 && (rest[start-1] == ' ' || rest[start-1] == '\t') {
				start--
			}
			if strings.TrimSpace(rest[:start]) == "" {
				// `key:  # note` with no value; keep one space before '#'.
				return " " + rest[i:]
			}
			return rest[start:]
		}
	}
	return ""
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return nil
	}
	return lines
}
