// cmd/sprint-status/main.go
//
// Entry point for the sprint-status CLI. It keeps
// docs/sprint-artifacts/sprint-status.yaml in line with the epic files, the
// review artifacts and the workflow runtime state.
//
// Exit codes:
//   0  success
//   1  failure, or validate found ERROR findings
//   2  usage error

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts := &options{stdin: stdin, stdout: stdout, stderr: stderr, fs: afero.NewOsFs()}
	root := newRootCmd(opts)
	root.SetArgs(args)
	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}
	var usage *usageError
	var findings *findingsError
	switch {
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "Error: %v\n\n%s", usage.err, cmd.UsageString())
		return 2
	case errors.As(err, &findings):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// usageError marks bad flags or arguments.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// findingsError marks a validate run with ERROR findings. The report has
// already been printed.
type findingsError struct {
	count int
}

func (e *findingsError) Error() string {
	return fmt.Sprintf("validation found %d error(s)", e.count)
}
