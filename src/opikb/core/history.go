package core

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/bitswalk/opikb/src/common/cli"
	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/journal"
	"github.com/bitswalk/opikb/src/opikb/output"
	"github.com/bitswalk/opikb/src/opikb/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runsTable lists journaled runs
type runsTable []journal.Run

func (t runsTable) Headers() []string {
	return []string{"ID", "STARTED", "RELEASE", "STATUS", "FAILED STAGE", "WARNINGS", "DURATION"}
}

func (t runsTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		rows[i] = []string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.KernelRelease,
			string(r.Status),
			dash(r.FailedStage),
			strconv.Itoa(r.Warnings),
			formatMs(r.DurationMs),
		}
	}
	return rows
}

// runDetail is one run with its stage results and whatever of its
// archived artifacts the store still holds
type runDetail struct {
	Run    *journal.Run          `json:"run" yaml:"run"`
	Stages []journal.StageResult `json:"stages" yaml:"stages"`
	Stored []storage.ObjectInfo  `json:"stored,omitempty" yaml:"stored,omitempty"`
}

func (d runDetail) Headers() []string {
	return []string{"STAGE", "POLICY", "STATUS", "WARNINGS", "DURATION", "MESSAGE"}
}

func (d runDetail) Rows() [][]string {
	rows := make([][]string, len(d.Stages))
	for i, s := range d.Stages {
		rows[i] = []string{s.Name, s.Policy, s.Status, strconv.Itoa(s.Warnings), formatMs(s.DurationMs), s.Message}
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

// historyConfig resolves the configuration from the config file and
// environment. A non-empty journal overrides journal.path.
func historyConfig(cfgFile, journalOverride string) (*config.Config, error) {
	var args []string
	if cfgFile != "" {
		args = []string{"--config", cfgFile}
	}
	cfg, err := config.Resolve(viper.New(), args)
	if err != nil {
		return nil, err
	}
	if journalOverride != "" {
		cfg.Journal.Path = paths.Expand(journalOverride)
	}
	return cfg, nil
}

// journalPath is the journal location historyConfig resolves to
func journalPath(cfgFile, override string) (string, error) {
	cfg, err := historyConfig(cfgFile, override)
	if err != nil {
		return "", err
	}
	return cfg.Journal.Path, nil
}

// runPrefix is the archive prefix holding the artifacts of run
func runPrefix(run *journal.Run) string {
	return path.Join(run.KernelRelease, run.ID)
}

// storedArtifacts lists what the archive still holds for run. Without an
// archive configured there is nothing to look at.
func storedArtifacts(ctx context.Context, cfg *config.Config, run *journal.Run) ([]storage.ObjectInfo, storage.Backend, error) {
	if !cfg.Archive.Enabled() || len(run.Artifacts) == 0 {
		return nil, nil, nil
	}
	backend, err := storage.New(cfg.Archive)
	if err != nil {
		return nil, nil, cerrors.Wrap(err, cerrors.DomainStorage, cerrors.CodeStorage, "cannot open artifact store")
	}
	objects, err := backend.List(ctx, runPrefix(run)+"/")
	if err != nil {
		return nil, nil, cerrors.Wrap(err, cerrors.DomainStorage, cerrors.CodeStorage, "cannot list archived artifacts")
	}
	return objects, backend, nil
}

func newHistoryCmd() *cobra.Command {
	var (
		format  string
		cfgFile string
		dbPath  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List previous builds recorded in the run journal",
		Long: `Lists journaled builds, newest first. With a run ID (or a unique prefix
of one) shows the outcome of every stage of that run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := historyConfig(cfgFile, dbPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !paths.Exists(cfg.Journal.Path) {
				fmt.Fprintf(out, "No builds recorded yet (journal %s does not exist)\n", cfg.Journal.Path)
				return nil
			}

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			if len(args) == 0 {
				runs, err := j.ListRuns(limit)
				if err != nil {
					return err
				}
				return output.Print(out, format, runsTable(runs))
			}

			run, err := j.GetRun(args[0])
			if err != nil {
				return err
			}
			results, err := j.Stages(run.ID)
			if err != nil {
				return err
			}

			stored, backend, err := storedArtifacts(cmd.Context(), cfg, run)
			if err != nil {
				// the journal entry is still worth showing
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			detail := runDetail{Run: run, Stages: results, Stored: stored}
			if format == output.FormatTable {
				printRunHeader(cmd, detail, backend)
			}
			return output.Print(out, format, detail)
		},
	}

	cli.RegisterOutputFlag(cmd, &format)
	cli.RegisterConfigFlag(cmd, &cfgFile)
	cmd.PersistentFlags().StringVar(&dbPath, "journal", "", "Run journal database (default: journal.path from the configuration)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")

	_ = cmd.RegisterFlagCompletionFunc("output", completionOutputFormat)
	cmd.ValidArgsFunction = completionRunIDs(&cfgFile, &dbPath)

	cmd.AddCommand(newHistoryRmCmd(&cfgFile, &dbPath))
	return cmd
}

func newHistoryRmCmd(cfgFile, dbPath *string) *cobra.Command {
	var keepArtifacts bool

	cmd := &cobra.Command{
		Use:   "rm <run-id>",
		Short: "Remove a run from the journal along with its archived artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := historyConfig(*cfgFile, *dbPath)
			if err != nil {
				return err
			}
			if !paths.Exists(cfg.Journal.Path) {
				return journal.ErrRunNotFound.WithMessagef("run not found: %s", args[0])
			}

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			run, err := j.GetRun(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !keepArtifacts {
				if err := removeArtifacts(cmd, cfg, run); err != nil {
					return err
				}
			}

			if err := j.DeleteRun(run.ID); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed run %s from %s\n", run.ID, j.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepArtifacts, "keep-artifacts", false, "Leave the archived artifacts in the store")
	cmd.ValidArgsFunction = completionRunIDs(cfgFile, dbPath)
	return cmd
}

// removeArtifacts deletes the archived artifacts of run. Artifacts already
// gone from the store are reported and skipped.
func removeArtifacts(cmd *cobra.Command, cfg *config.Config, run *journal.Run) error {
	out := cmd.OutOrStdout()
	if len(run.Artifacts) == 0 {
		return nil
	}
	if !cfg.Archive.Enabled() {
		fmt.Fprintf(out, "No artifact store configured, leaving %d archived artifacts in place\n", len(run.Artifacts))
		return nil
	}

	backend, err := storage.New(cfg.Archive)
	if err != nil {
		return cerrors.Wrap(err, cerrors.DomainStorage, cerrors.CodeStorage, "cannot open artifact store")
	}

	ctx := cmd.Context()
	for _, key := range run.Artifacts {
		ok, err := backend.Exists(ctx, key)
		if err != nil {
			return cerrors.Wrap(err, cerrors.DomainStorage, cerrors.CodeStorage, "cannot check artifact "+key)
		}
		if !ok {
			fmt.Fprintf(out, "Artifact %s already gone\n", key)
			continue
		}
		if err := backend.Delete(ctx, key); err != nil {
			return cerrors.Wrap(err, cerrors.DomainStorage, cerrors.CodeStorage, "cannot delete artifact "+key)
		}
		fmt.Fprintf(out, "Deleted artifact %s\n", key)
	}
	return nil
}

func printRunHeader(cmd *cobra.Command, detail runDetail, backend storage.Backend) {
	out := cmd.OutOrStdout()
	run := detail.Run
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Release:  %s\n", run.KernelRelease)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	if run.KernelSource != "" {
		fmt.Fprintf(out, "Source:   %s\n", run.KernelSource)
	}
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.ErrorMessage)
	}
	stored := make(map[string]int64, len(detail.Stored))
	for _, o := range detail.Stored {
		stored[o.Key] = o.Size
	}
	for _, a := range run.Artifacts {
		switch size, ok := stored[a]; {
		case backend == nil:
			fmt.Fprintf(out, "Artifact: %s\n", a)
		case ok:
			fmt.Fprintf(out, "Artifact: %s (%d bytes in %s)\n", a, size, backend.Location())
		default:
			fmt.Fprintf(out, "Artifact: %s (missing from %s)\n", a, backend.Location())
		}
	}
	fmt.Fprintln(out)
}
