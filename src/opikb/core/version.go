package core

import (
	"fmt"

	"github.com/bitswalk/opikb/src/common/cli"
	"github.com/bitswalk/opikb/src/opikb/output"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case output.FormatJSON:
				return output.PrintJSON(out, VersionInfo.Map())
			case output.FormatYAML:
				return output.PrintYAML(out, VersionInfo.Map())
			}
			fmt.Fprintln(out, VersionInfo.Full())
			return nil
		},
	}

	cli.RegisterOutputFlag(cmd, &format)
	_ = cmd.RegisterFlagCompletionFunc("output", completionOutputFormat)
	return cmd
}
