package core

import (
	"errors"
	"strconv"

	"github.com/bitswalk/opikb/src/common/cli"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/output"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/bitswalk/opikb/src/opikb/stages"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// planTable is the stage table as a build with some options would run it
type planTable []pipeline.PlannedStep

func (t planTable) Headers() []string {
	return []string{"#", "STAGE", "POLICY", "RUN", "REASON"}
}

func (t planTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, s := range t {
		run := "yes"
		if !s.Run {
			run = "skip"
		}
		rows[i] = []string{strconv.Itoa(i + 1), s.Stage, s.Policy.String(), run, s.Reason}
	}
	return rows
}

func newPlanCmd(d Deps) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "plan [flags] [-- build options]",
		Short: "Show the stages a build with the given options would run",
		Long: `Resolves the build options exactly as a build would and prints the stage
table: execution order, failure policy and whether each stage runs.
Nothing is executed and root is not required.`,
		Example: `  opikb plan
  opikb plan -o json -- --disable-gpu --no-install`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(viper.New(), args)
			if errors.Is(err, config.ErrHelp) {
				config.Usage(cmd.OutOrStdout(), programName)
				return nil
			}
			if err != nil {
				return err
			}

			plan := stages.New(d.Host).Plan(cfg)
			return output.Print(cmd.OutOrStdout(), format, planTable(plan))
		},
	}

	cli.RegisterOutputFlag(cmd, &format)
	_ = cmd.RegisterFlagCompletionFunc("output", completionOutputFormat)
	return cmd
}
