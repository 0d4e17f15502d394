// Package cli provides the buildledger command-line interface.
package cli

import (
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"buildledger/internal/config"
	"buildledger/internal/logging"
	"buildledger/internal/operation"
	"buildledger/internal/resource"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	workDir    string
	configPath string
}

// NewRootCommand creates the buildledger command tree.
func NewRootCommand(version string) *cobra.Command {
	var g globalOptions

	root := &cobra.Command{
		Use:   "buildledger",
		Short: "Task execution with an operation trace and a resource cache",
		Long: `buildledger runs the tasks declared in build.yaml, skipping those whose
outputs are up to date or restorable from the cache, and records every
operation of the build into a trace file that can be inspected later.`,
		Version: version,
		// Errors are reported by Run together with the exit code.
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return invalidInvocationf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &InvocationError{ExitCode: ExitInvalidInvocation, Err: err}
	})

	root.PersistentFlags().StringVarP(&g.workDir, "workdir", "C", "", "working directory (default: current directory)")
	root.PersistentFlags().StringVar(&g.configPath, "config", config.FileName, "config file, relative to the working directory")

	root.AddCommand(
		newRunCommand(&g),
		newFetchCommand(&g),
		newTraceCommand(),
		newVersionCommand(version),
	)
	return root
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), "buildledger "+version+"\n")
			return err
		},
	}
}

// usageArgs marks positional argument errors as invalid invocations.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &InvocationError{ExitCode: ExitInvalidInvocation, Err: err}
		}
		return nil
	}
}

// environment is the resolved working directory, configuration and logger a
// command runs with.
type environment struct {
	workDir string
	cfg     config.Config
	log     *logrus.Logger
}

func loadEnvironment(g *globalOptions, stderr io.Writer) (*environment, error) {
	workDir, err := resolveWorkDir(g.workDir)
	if err != nil {
		return nil, err
	}
	cfgPath, err := resolveUnderWorkDir(workDir, g.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return &environment{
		workDir: workDir,
		cfg:     cfg,
		log:     logging.New(cfg.Log.Level, stderr),
	}, nil
}

// path resolves a configured path against the working directory.
func (e *environment) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(e.workDir, p)
}

func (e *environment) cacheDir(elem ...string) string {
	return filepath.Join(append([]string{e.path(e.cfg.Cache.Dir)}, elem...)...)
}

// resources wires the resource cache under the configured cache directory.
func (e *environment) resources(listener operation.Listener) (*resource.Accessor, *resource.ContentStore) {
	accessor := resource.NewAccessor(
		resource.DefaultTransport(e.cfg.Network.Timeout),
		resource.NewFileIndex(e.cacheDir("resources", "index.json")),
		resource.Options{
			TempDir:  e.cacheDir("resources", "tmp"),
			Listener: listener,
			Logger:   e.log,
		},
	)
	return accessor, resource.NewContentStore(e.cacheDir("resources", "files"))
}

func newRecorder() *operation.Recorder {
	return operation.NewRecorder(operation.NewReducer())
}
