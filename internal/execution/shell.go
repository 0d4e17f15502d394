package execution

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// shellEnv builds the environment of a run action: the declared variables,
// plus PATH and HOME from the host unless declared.
func shellEnv(env map[string]string) []string {
	merged := make(map[string]string, len(env)+2)
	for _, k := range []string{"PATH", "HOME"} {
		if v, ok := os.LookupEnv(k); ok {
			merged[k] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// runShell runs command with sh -c in dir. Output is copied to stdout and
// stderr as it is produced. A non-zero exit yields an *ActionError; on
// cancellation the whole process group is killed.
func runShell(ctx context.Context, taskPath, dir, command string, env map[string]string, stdout, stderr io.Writer) error {
	if command == "" {
		return errors.New("run action has an empty command")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = shellEnv(env)
	setProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	var tail bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, &tail)

	err := cmd.Run()
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "run action cancelled")
	}
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ActionError{Task: taskPath, Command: command, ExitCode: exitErr.ExitCode(), Stderr: tail.String()}
	}
	return errors.Wrap(err, "start run action")
}
