package core

import (
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/journal"
	"github.com/bitswalk/opikb/src/opikb/output"
	"github.com/spf13/cobra"
)

// completionOutputFormat provides completion for --output flag
func completionOutputFormat(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return output.Formats, cobra.ShellCompDirectiveNoFileComp
}

// completionRunIDs returns a ValidArgsFunction that completes journaled run IDs
func completionRunIDs(cfgFile, dbPath *string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		path, err := journalPath(*cfgFile, *dbPath)
		if err != nil || !paths.Exists(path) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		j, err := journal.Open(path)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		defer j.Close()

		runs, err := j.ListRuns(50)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		suggestions := make([]string, len(runs))
		for i, r := range runs {
			suggestions[i] = r.ID + "\t" + r.KernelRelease + " " + string(r.Status)
		}
		return suggestions, cobra.ShellCompDirectiveNoFileComp
	}
}
