package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"buildledger/internal/resource"
)

type fetchOptions struct {
	candidates []string
	tracePath  string
}

func newFetchCommand(g *globalOptions) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch <uri>",
		Short: "Resolve a remote resource into the local cache and print its path",
		Long: `Resolve a remote resource into the local cache and print the cached path.

A resource already in the cache is served without network access. Otherwise a
local candidate whose SHA-1 matches the remote checksum is adopted, and the
resource is downloaded only when no candidate matches.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			candidates := make([]string, 0, len(opts.candidates))
			for _, c := range opts.candidates {
				p, err := resolveUnderWorkDir(env.workDir, c)
				if err != nil {
					return err
				}
				candidates = append(candidates, p)
			}

			recorder := newRecorder()
			accessor, store := env.resources(recorder)
			cached, fetchErr := accessor.GetResource(cmd.Context(), args[0], store, resource.NewFileCandidates(candidates...))

			if opts.tracePath != "" {
				tracePath, err := resolveUnderWorkDir(env.workDir, opts.tracePath)
				if err != nil {
					return err
				}
				if err := recorder.Persist(tracePath); err != nil {
					env.log.WithError(err).WithField("trace", tracePath).Error("failed to write trace")
				}
			}

			switch {
			case errors.Is(fetchErr, resource.ErrTransport):
				return &InvocationError{ExitCode: ExitBuildFailure, Message: "fetch " + args[0], Err: fetchErr}
			case fetchErr != nil:
				return fetchErr
			case cached == nil:
				return &InvocationError{ExitCode: ExitBuildFailure, Message: fmt.Sprintf("resource %s not found", args[0])}
			}
			env.log.WithFields(logrus.Fields{"uri": args[0], "sha1": cached.SHA1}).Debug("resource resolved")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cached.Path)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&opts.candidates, "candidate", nil, "local file that may stand in for the download (repeatable)")
	cmd.Flags().StringVar(&opts.tracePath, "trace", "", "write the operation trace to this path")
	return cmd
}
