package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"buildledger/internal/buildfile"
	"buildledger/internal/execution"
	"buildledger/internal/operation"
	"buildledger/internal/task"
)

type runOptions struct {
	file      string
	tracePath string
	workers   int
	noCache   bool
}

func newRunCommand(g *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [tasks...]",
		Short: "Run tasks and their dependencies",
		Long: `Run the given tasks, or every task in the build file when none are named.

Tasks whose inputs and outputs are unchanged since their last execution are
UP-TO-DATE. Cacheable tasks whose outputs were stored by an earlier build are
restored FROM-CACHE. Dependents of a failed task are SKIPPED.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") && opts.workers < 1 {
				return invalidInvocationf("--workers must be at least 1 (got %d)", opts.workers)
			}
			env, err := loadEnvironment(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runBuild(cmd.Context(), env, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", buildfile.FileName, "build file, relative to the working directory")
	cmd.Flags().StringVar(&opts.tracePath, "trace", "", "write the operation trace to this path (enables tracing)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "j", 0, "maximum number of tasks run in parallel (default from config)")
	cmd.Flags().BoolVar(&opts.noCache, "no-build-cache", false, "neither restore nor store task outputs in the build cache")
	return cmd
}

// runBuild executes the selected tasks and reports their outcomes. The trace
// is written after the build, including when it failed or was cancelled.
func runBuild(ctx context.Context, env *environment, opts runOptions, tasks []string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	buildPath, err := resolveUnderWorkDir(env.workDir, opts.file)
	if err != nil {
		return err
	}
	graph, err := loadGraph(buildPath, tasks)
	if err != nil {
		return err
	}

	workers := env.cfg.Execution.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	traceEnabled, tracePath := env.cfg.Trace.Enabled, env.path(env.cfg.Trace.Path)
	if opts.tracePath != "" {
		p, err := resolveUnderWorkDir(env.workDir, opts.tracePath)
		if err != nil {
			return err
		}
		traceEnabled, tracePath = true, p
	}

	recorder := newRecorder()
	accessor, store := env.resources(recorder)
	var outputs *execution.OutputCache
	if !opts.noCache {
		outputs = execution.NewOutputCache(env.cacheDir("outputs"))
	}

	exec, err := execution.NewExecutor(graph, execution.Options{
		WorkDir:       env.workDir,
		Workers:       workers,
		Listener:      recorder,
		Logger:        env.log,
		History:       execution.NewHistoryStore(env.path(env.cfg.Execution.StateDir)),
		OutputCache:   outputs,
		Resources:     accessor,
		ResourceStore: store,
		Stdout:        stdout,
		Stderr:        stderr,
	})
	if err != nil {
		return &InvocationError{ExitCode: ExitInternalError, Message: "create executor", Err: err}
	}

	started := time.Now()
	res, err := exec.Run(ctx)
	if err != nil {
		return &InvocationError{ExitCode: ExitInternalError, Message: "run build", Err: err}
	}
	if n := recorder.FailPending(context.Canceled, operation.Now()); n > 0 {
		env.log.WithField("operations", n).Warn("operations were still running when the build ended")
	}

	var traceErr error
	if traceEnabled {
		log := env.log.WithField("trace", tracePath)
		if traceErr = recorder.Persist(tracePath); traceErr != nil {
			log.WithError(traceErr).Error("failed to write trace")
		} else {
			log.WithField("operations", recorder.Len()).Info("trace written")
		}
	}

	buildErr := res.Err()
	printOutcomes(stdout, res, buildErr, time.Since(started))

	switch {
	case res.Cancelled:
		return &InvocationError{ExitCode: ExitBuildFailure, Message: "build cancelled", Err: ctx.Err()}
	case buildErr != nil:
		return buildErr
	case traceErr != nil:
		return &InvocationError{ExitCode: ExitInternalError, Message: "write trace", Err: traceErr}
	}
	env.log.WithFields(logrus.Fields{"build": res.BuildID.String()}).Debug("build succeeded")
	return nil
}

var outcomeOrder = []task.Outcome{
	task.OutcomeExecuted,
	task.OutcomeFromCache,
	task.OutcomeUpToDate,
	task.OutcomeNoSource,
	task.OutcomeSkipped,
}

// printOutcomes writes one line per task followed by a summary line.
func printOutcomes(w io.Writer, res *execution.Result, buildErr error, elapsed time.Duration) {
	width := 0
	for _, st := range res.States() {
		width = max(width, len(st.Path()))
	}
	for _, st := range res.States() {
		label := "NOT RUN"
		if o, ok := st.Outcome(); ok {
			label = outcomeLabel(o)
			if st.Failure() != nil {
				label = "FAILED"
			}
		}
		fmt.Fprintf(w, "%-*s  %s\n", width, st.Path(), label)
	}

	status := "BUILD SUCCESSFUL"
	switch {
	case res.Cancelled:
		status = "BUILD CANCELLED"
	case buildErr != nil:
		status = "BUILD FAILED"
	}
	summary := res.Summary()
	var parts []string
	for _, o := range outcomeOrder {
		if n := summary.Outcomes[string(o)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(outcomeLabel(o))))
		}
	}
	if summary.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", summary.Failed))
	}
	if summary.NotRun > 0 {
		parts = append(parts, fmt.Sprintf("%d not run", summary.NotRun))
	}
	fmt.Fprintf(w, "%s in %s", status, elapsed.Round(time.Millisecond))
	if len(parts) > 0 {
		fmt.Fprintf(w, ": %s", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)
}

// outcomeLabel is the outcome's skip message, or EXECUTED.
func outcomeLabel(o task.Outcome) string {
	if msg := o.Message(); msg != "" {
		return msg
	}
	return string(o)
}
