package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"buildledger/internal/operation"
)

func newTraceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect operation traces",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newTraceShowCommand())
	return cmd
}

func newTraceShowCommand() *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Print a trace file as an operation tree",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := operation.Load(args[0])
			if err != nil {
				return configError("load trace", err)
			}
			if err := operation.Render(cmd.OutOrStdout(), t, operation.RenderOptions{Details: details}); err != nil {
				return err
			}
			if n := len(t.PayloadErrors()); n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d payload(s) could not be decoded\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&details, "details", "d", false, "include operation details and results")
	return cmd
}
