package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"buildledger/internal/buildfile"
	"buildledger/internal/config"
	"buildledger/internal/execution"
)

const (
	ExitSuccess           = 0
	ExitBuildFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError carries the exit code for a failure that is not a task
// failure.
type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error { return e.Err }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configError(msg string, err error) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: msg, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
// Unclassified errors are internal errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var buildErr *execution.BuildFailure
	if errors.As(err, &buildErr) {
		return ExitBuildFailure
	}
	var cfgErr *config.Error
	var bfErr *buildfile.Error
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &bfErr):
		return ExitConfigError
	case errors.Is(err, execution.ErrInvalidGraph), errors.Is(err, execution.ErrCycleFound):
		return ExitConfigError
	}
	return ExitInternalError
}

// resolveWorkDir returns dir as an absolute path, defaulting to the process
// working directory.
func resolveWorkDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", &InvocationError{ExitCode: ExitInternalError, Message: "get working directory", Err: err}
		}
		return wd, nil
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", invalidInvocationf("--workdir %q: %v", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", invalidInvocationf("--workdir %q is not a directory", dir)
	}
	return abs, nil
}

// resolveUnderWorkDir resolves a relative p under workDir. Absolute paths are
// returned cleaned.
func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(workDir, clean), nil
}
