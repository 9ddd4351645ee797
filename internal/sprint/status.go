package sprint

import (
	"fmt"
	"strings"
)

// Status is a development_status value. Known values form a chain
// (backlog < ready-for-dev < in-progress < review < done) plus three tags that
// sit outside it. Unrecognized values read from disk are carried verbatim.
type Status string

const (
	StatusBacklog     Status = "backlog"
	StatusReadyForDev Status = "ready-for-dev"
	StatusInProgress  Status = "in-progress"
	StatusReview      Status = "review"
	StatusDone        Status = "done"

	// Manual overrides. Only explicit evidence may set or clear them.
	StatusBlocked  Status = "blocked"
	StatusDeferred Status = "deferred"
	StatusOptional Status = "optional"
)

var chain = map[Status]int{
	StatusBacklog:     0,
	StatusReadyForDev: 1,
	StatusInProgress:  2,
	StatusReview:      3,
	StatusDone:        4,
}

var tags = map[Status]struct{}{
	StatusBlocked:  {},
	StatusDeferred: {},
	StatusOptional: {},
}

var aliases = map[string]Status{
	"ready":     StatusReadyForDev,
	"drafted":   StatusReadyForDev,
	"in-review": StatusReview,
	"complete":  StatusDone,
	"completed": StatusDone,
}

// ParseStatus normalizes a raw value and reports whether it is a known status.
// Unknown input is returned trimmed but otherwise untouched.
func ParseStatus(raw string) (Status, bool) {
	trimmed := strings.TrimSpace(raw)
	norm := strings.ToLower(trimmed)
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	if alias, ok := aliases[norm]; ok {
		return alias, true
	}
	s := Status(norm)
	if s.Known() {
		return s, true
	}
	return Status(trimmed), false
}

// CheckStatus is ParseStatus for callers that treat unknown values as an
// error. The returned error wraps ErrUnknownStatus.
func CheckStatus(raw string) (Status, error) {
	s, ok := ParseStatus(raw)
	if !ok {
		return s, fmt.Errorf("%w %q", ErrUnknownStatus, s)
	}
	return s, nil
}

// Known reports whether s is one of the eight recognized values.
func (s Status) Known() bool {
	if _, ok := chain[s]; ok {
		return true
	}
	_, ok := tags[s]
	return ok
}

func (s Status) String() string { return string(s) }

// Advances reports whether moving from -> to is a strict step forward in the
// chain. Anything outside the chain (tags, unknown values) is incomparable and
// never advances in either direction.
func Advances(from, to Status) bool {
	fromRank, ok := chain[from]
	if !ok {
		return false
	}
	toRank, ok := chain[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}
