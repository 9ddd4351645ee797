package logbook

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedBook(t *testing.T) *Logbook {
	t.Helper()
	book, err := New(filepath.Join(t.TempDir(), "logs", "sprint-journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return book
}

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	book := fixedBook(t)
	for i := 0; i < 5; i++ {
		book.RecordRun(Run{Op: "repair", ID: fmt.Sprintf("r%d", i), Changed: i})
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"run=r2", "run=r3", "run=r4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestRecordFormatsEachEntryKind(t *testing.T) {
	book := fixedBook(t)
	book.RecordRun(Run{Op: "generate", ID: "a", Keys: 4, Changed: 4, Divergence: 1, Written: true})
	book.RecordRun(Run{Op: "repair", ID: "b", Keys: 3, Degraded: true})
	book.RecordCheck(Check{ID: "c", Checked: 3, Errors: 1, Warnings: 2})
	book.RecordCheck(Check{ID: "d", Checked: 2, Failures: 1})
	book.RecordCheck(Check{ID: "e", Checked: 2})
	book.RecordDeclined("sync", "f", 0.5)
	book.RecordFailure("sync", "g", errors.New("read status:\n  permission denied"))

	lines, total := book.Tail(10)
	want := []string{
		"2026-03-01T09:30:00Z INFO  generate run=a keys=4 changed=4 divergence=1.00 written=true",
		"2026-03-01T09:30:00Z WARN  repair run=b keys=3 changed=0 divergence=0.00 written=false",
		"2026-03-01T09:30:00Z ERROR validate run=c checked=3 errors=1 warnings=2 failures=0",
		"2026-03-01T09:30:00Z WARN  validate run=d checked=2 errors=0 warnings=0 failures=1",
		"2026-03-01T09:30:00Z INFO  validate run=e checked=2 errors=0 warnings=0 failures=0",
		"2026-03-01T09:30:00Z WARN  sync run=f declined divergence=0.50",
		"2026-03-01T09:30:00Z ERROR sync run=g failed: read status: permission denied",
	}
	if total != len(want) {
		t.Fatalf("total = %d, want %d", total, len(want))
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
}

func TestTailOnMissingFile(t *testing.T) {
	book := &Logbook{path: filepath.Join(t.TempDir(), "none.log"), now: time.Now}
	lines, total := book.Tail(5)
	if lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
	var nilBook *Logbook
	nilBook.RecordFailure("sync", "x", errors.New("ignored"))
}
