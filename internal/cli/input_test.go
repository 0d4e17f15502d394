package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildledger/internal/buildfile"
	"buildledger/internal/config"
	"buildledger/internal/execution"
	"buildledger/internal/task"
)

func TestExitCode(t *testing.T) {
	taskFailure := &task.FailedError{Task: ":a", Cause: errors.New("boom")}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "build failure", err: &execution.BuildFailure{Failures: []error{taskFailure}}, want: ExitBuildFailure},
		{name: "usage", err: invalidInvocationf("bad"), want: ExitInvalidInvocation},
		{name: "config", err: &config.Error{Path: "buildledger.toml", Err: errors.New("x")}, want: ExitConfigError},
		{name: "build file", err: &buildfile.Error{Msg: "no tasks defined"}, want: ExitConfigError},
		{name: "cycle", err: &execution.GraphError{Kind: execution.ErrCycleFound}, want: ExitConfigError},
		{name: "wrapped config", err: configError("load trace", errors.New("x")), want: ExitConfigError},
		{name: "invocation without code", err: &InvocationError{Message: "x"}, want: ExitInvalidInvocation},
		{name: "unknown", err: errors.New("disk on fire"), want: ExitInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestResolveUnderWorkDir(t *testing.T) {
	workDir := t.TempDir()

	p, err := resolveUnderWorkDir(workDir, "traces/../trace.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "trace.json"), p)

	abs := filepath.Join(t.TempDir(), "x", "..", "y")
	p, err = resolveUnderWorkDir(workDir, abs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(abs), p)

	for _, bad := range []string{"", "  ", ".", "a/.."} {
		_, err := resolveUnderWorkDir(workDir, bad)
		assert.Equal(t, ExitInvalidInvocation, ExitCode(err), "path %q", bad)
	}
}

func TestResolveWorkDir(t *testing.T) {
	dir := t.TempDir()
	got, err := resolveWorkDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	wd, err := os.Getwd()
	require.NoError(t, err)
	got, err = resolveWorkDir("")
	require.NoError(t, err)
	assert.Equal(t, wd, got)

	_, err = resolveWorkDir(filepath.Join(dir, "missing"))
	assert.Equal(t, ExitInvalidInvocation, ExitCode(err))
}
