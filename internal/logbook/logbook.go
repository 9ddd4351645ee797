// Package logbook keeps a human-readable journal of sprint-status runs, one
// line per invocation.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Run summarizes one reconciling invocation (generate, repair or sync).
type Run struct {
	Op         string
	ID         string
	Keys       int
	Changed    int
	Divergence float64
	Written    bool

	// Degraded and ScanFailures raise the entry to WARN.
	Degraded     bool
	ScanFailures int
}

func (r Run) level() Level {
	if r.Degraded || r.ScanFailures > 0 {
		return LevelWarn
	}
	return LevelInfo
}

func (r Run) String() string {
	return fmt.Sprintf("%s run=%s keys=%d changed=%d divergence=%.2f written=%t",
		r.Op, r.ID, r.Keys, r.Changed, r.Divergence, r.Written)
}

// Check summarizes one validate invocation.
type Check struct {
	ID       string
	Checked  int
	Errors   int
	Warnings int
	Failures int
}

func (c Check) level() Level {
	switch {
	case c.Errors > 0:
		return LevelError
	case c.Warnings > 0 || c.Failures > 0:
		return LevelWarn
	default:
		return LevelInfo
	}
}

func (c Check) String() string {
	return fmt.Sprintf("validate run=%s checked=%d errors=%d warnings=%d failures=%d",
		c.ID, c.Checked, c.Errors, c.Warnings, c.Failures)
}

// Logbook persists run summaries to a simple text file.
type Logbook struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	return &Logbook{path: path, now: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RecordRun journals a finished generate, repair or sync.
func (l *Logbook) RecordRun(r Run) {
	l.Append(r.level(), r.String())
}

// RecordCheck journals a finished validate.
func (l *Logbook) RecordCheck(c Check) {
	l.Append(c.level(), c.String())
}

// RecordDeclined journals a write skipped at the divergence prompt.
func (l *Logbook) RecordDeclined(op, id string, divergence float64) {
	l.Append(LevelWarn, fmt.Sprintf("%s run=%s declined divergence=%.2f", op, id, divergence))
}

// RecordFailure journals an invocation that returned err.
func (l *Logbook) RecordFailure(op, id string, err error) {
	l.Append(LevelError, fmt.Sprintf("%s run=%s failed: %v", op, id, err))
}

// Append writes a single entry to the logbook. Write failures are dropped;
// the journal never fails a run.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// One entry per line even when an error message spans several.
	message = strings.Join(strings.Fields(message), " ")
	line := fmt.Sprintf("%s %-5s %s\n", l.now().UTC().Format(time.RFC3339), string(level), message)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries in the journal.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}
