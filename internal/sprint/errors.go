package sprint

import (
	"errors"
	"fmt"
)

// ErrUnknownStatus marks a status value outside the recognized set.
var ErrUnknownStatus = errors.New("sprint: unknown status value")

// FormatError reports a sprint-status document that is not parseable YAML.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("sprint: malformed sprint-status: %v", e.Err)
	}
	return fmt.Sprintf("sprint: malformed sprint-status %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IoError reports a filesystem failure while persisting the document. The
// target is left untouched when this is returned from the writer.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("sprint: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// ScanFailure records one artifact lookup that failed for a key. It never
// aborts a scan; the key's evidence degrades to NONE instead.
type ScanFailure struct {
	Key    string
	Lookup string
	Err    error
}

func (e *ScanFailure) Error() string {
	return fmt.Sprintf("sprint: scan %s (%s): %v", e.Key, e.Lookup, e.Err)
}

func (e *ScanFailure) Unwrap() error { return e.Err }

// AmbiguityError names a key that matched no known entry pattern. It is
// collected and logged, never returned as a failure.
type AmbiguityError struct {
	Key string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("sprint: key %q matches no known entry pattern", e.Key)
}
