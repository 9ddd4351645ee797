// Package artifact locates the project artifacts a sprint scan reads as
// evidence: story files, code reviews, review syntheses and validation
// reports. Lookups only check existence and the story's Status field.

package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

// Kind names an artifact family.
type Kind string

const (
	// KindStory is the story specification file.
	KindStory Kind = "story"
	// KindReview is any code-review report for a story.
	KindReview Kind = "code-review"
	// KindSynthesis is the final code-review synthesis for a story.
	KindSynthesis Kind = "synthesis"
	// KindValidation is a story validation report.
	KindValidation Kind = "validation-report"
)

// Layout tells the store where each artifact family lives.
type Layout struct {
	StoryDir       string
	ReviewsDir     string
	ValidationsDir string
}

// Validate ensures every directory is set.
func (l Layout) Validate() error {
	if l.StoryDir == "" {
		return fmt.Errorf("artifact: story directory is required")
	}
	if l.ReviewsDir == "" {
		return fmt.Errorf("artifact: reviews directory is required")
	}
	if l.ValidationsDir == "" {
		return fmt.Errorf("artifact: validations directory is required")
	}
	return nil
}

// Ref identifies the artifact family and story a lookup is about.
type Ref struct {
	Kind  Kind
	Epic  int
	Story int
}

// RefFor builds a reference from a classified entry.
func RefFor(kind Kind, entry sprint.Entry) Ref {
	return Ref{Kind: kind, Epic: entry.Epic, Story: entry.Story}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %d.%d", r.Kind, r.Epic, r.Story)
}

// Dir returns the directory holding the referenced family.
func (r Ref) Dir(l Layout) string {
	switch r.Kind {
	case KindStory:
		return filepath.Clean(l.StoryDir)
	case KindValidation:
		return filepath.Clean(l.ValidationsDir)
	default:
		return filepath.Clean(l.ReviewsDir)
	}
}

// prefix is the file-name stem shared by every artifact of the family.
func (r Ref) prefix() string {
	switch r.Kind {
	case KindReview:
		return "code-review-"
	case KindSynthesis:
		return "synthesis-"
	case KindValidation:
		return "validation-report-"
	default:
		return ""
	}
}

// Pattern matches the markdown file names of the referenced artifact. The
// story number must end at a separator so 1-1 never matches 1-10.
func (r Ref) Pattern() *regexp.Regexp {
	stem := regexp.QuoteMeta(r.prefix()) + strconv.Itoa(r.Epic) + "-" + strconv.Itoa(r.Story)
	return regexp.MustCompile(`^` + stem + `(?:[-_.][^/]*)?\.md$`)
}
