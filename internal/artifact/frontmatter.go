package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (map[string]any, []byte, error) {
	if len(content) == 0 {
		return nil, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	var metaBytes, body []byte
	if bytes.HasPrefix(rest, []byte("---\n")) {
		body = rest[4:]
	} else {
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			return nil, nil, ErrMalformedFrontMatter
		}
		metaBytes, body = parts[0], parts[1]
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	return meta, body, nil
}

// statusLine matches `Status: done`, `**Status:** done`, `- Status: done`
// and `**Status**: done`.
var statusLine = regexp.MustCompile(`(?i)^(?:[-*]\s+)?(?:\*\*|__)?status(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.*?)\s*$`)

// StoryStatus returns the explicit status recorded in a story file: the
// frontmatter `status` key when present, otherwise the first Status line
// before the first level-two heading. It returns "" when neither exists.
func StoryStatus(content []byte) (string, error) {
	meta, body, err := ParseFrontMatter(content)
	switch {
	case err == nil:
		for key, value := range meta {
			if strings.EqualFold(key, "status") {
				if s := scalarString(value); s != "" {
					return s, nil
				}
			}
		}
	case errors.Is(err, ErrMissingFrontMatter):
		body = normalizeNewlines(content)
	default:
		return "", err
	}
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			break
		}
		if m := statusLine.FindStringSubmatch(trimmed); m != nil {
			return strings.Trim(m[1], "*_` "), nil
		}
	}
	return "", nil
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
