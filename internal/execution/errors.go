package execution

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycleFound   = errors.New("cycle detected")
)

// GraphError wraps graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Msg: msg}
}

// ActionError reports a run action that exited unsuccessfully.
type ActionError struct {
	Task     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// BuildFailure collects the failures of a build, already rethrown through
// each task's state.
type BuildFailure struct {
	Failures []error
}

func (e *BuildFailure) Error() string {
	if len(e.Failures) == 1 {
		return "build failed: " + e.Failures[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "build failed with %d failures:", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  - ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *BuildFailure) Unwrap() []error { return e.Failures }
