package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bitswalk/opikb/src/common/cli"
	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/journal"
	"github.com/bitswalk/opikb/src/opikb/journal/migrations"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/bitswalk/opikb/src/opikb/stages"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	headingColors = map[string]lipgloss.Color{
		"yellow": lipgloss.Color("214"),
		"green":  lipgloss.Color("42"),
		"cyan":   lipgloss.Color("44"),
		"red":    lipgloss.Color("196"),
	}
)

func heading(w io.Writer, color, text string) {
	style := lipgloss.NewStyle().Bold(true).Foreground(headingColors[color])
	fmt.Fprintf(w, "\n%s\n", style.Render(text))
}

func runBuild(ctx context.Context, args []string, d Deps) error {
	v := viper.New()
	cfg, err := config.Resolve(v, args)
	if errors.Is(err, config.ErrHelp) {
		config.Usage(d.Stdout, programName)
		return nil
	}
	if err != nil {
		return err
	}

	log := cli.InitLogger(v, d.Stdout, "")
	if cfg.Verbose {
		log.SetLevel("debug")
	}
	defer log.Close()
	migrations.SetLogger(log)

	printBanner(d.Stdout)
	printSummary(d.Stdout, cfg)

	sc := &pipeline.Context{
		RunID:  uuid.New().String(),
		Config: cfg,
		Runner: d.NewRunner(log, cfg.Verbose),
		Log:    log,
	}
	p := stages.New(d.Host)

	j := startJournal(cfg, sc, p)
	if j != nil {
		defer j.Close()
	}

	log.Info("Starting Orange Pi 5 Plus kernel build process with Mali GPU support", "run", sc.RunID)
	report := p.Run(ctx, sc)

	if j != nil {
		if err := j.FinishRun(sc.RunID, report, sc.KernelSource, sc.Artifacts); err != nil {
			log.Debug("Failed to journal run result", "error", err)
		}
	}

	if !report.Succeeded() {
		log.Error("Kernel build process failed!", "stage", report.FailedStage)
		printTroubleshooting(d.Stdout, cfg, report.Err, j != nil, sc.RunID)
		return errBuildFailed
	}

	log.Success("Kernel build process completed successfully!",
		"duration", report.Duration.Round(time.Second), "warnings", report.Warnings)
	printNextSteps(d.Stdout, cfg, sc.Artifacts)
	return nil
}

// startJournal opens the run journal and records the run start. Any
// failure disables journaling for this run and nothing else.
func startJournal(cfg *config.Config, sc *pipeline.Context, p *pipeline.Pipeline) *journal.Journal {
	if !cfg.Journal.Enabled {
		return nil
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		sc.Log.Warn("Run journal unavailable, continuing without it", "path", cfg.Journal.Path, "error", err)
		return nil
	}

	run, err := j.StartRun(cfg)
	if err != nil {
		sc.Log.Warn("Failed to journal run start, continuing without it", "error", err)
		j.Close()
		return nil
	}

	sc.RunID = run.ID
	p.Observe(journal.NewRecorder(j, run.ID, sc.Log))
	return j
}

func printBanner(w io.Writer) {
	width := logs.TerminalWidth(80)
	if width > 72 {
		width = 72
	}
	text := "Orange Pi 5 Plus Kernel Builder\nMali G610 GPU - OpenCL - Vulkan"
	fmt.Fprintln(w, bannerStyle.Width(width-2).Render(text))
}

func enabled(on bool) string {
	if on {
		return "Enabled"
	}
	return "Disabled"
}

func yesNo(on bool) string {
	if on {
		return "Yes"
	}
	return "No"
}

func printSummary(w io.Writer, cfg *config.Config) {
	heading(w, "yellow", "Build Configuration:")
	fmt.Fprintf(w, "  Kernel Version: %s\n", cfg.KernelVersion)
	fmt.Fprintf(w, "  Build Directory: %s\n", cfg.BuildDir)
	fmt.Fprintf(w, "  Parallel Jobs: %d\n", cfg.Jobs)
	fmt.Fprintf(w, "  Mali GPU Support: %s\n", enabled(cfg.GPU))
	fmt.Fprintf(w, "  OpenCL Support: %s\n", enabled(cfg.OpenCL))
	fmt.Fprintf(w, "  Vulkan Support: %s\n", enabled(cfg.Vulkan))
	fmt.Fprintf(w, "  Clean Build: %s\n", yesNo(cfg.Clean))
	fmt.Fprintln(w)
}

func printNextSteps(w io.Writer, cfg *config.Config, artifacts []string) {
	heading(w, "green", "Next steps:")
	if cfg.NoInstall {
		fmt.Fprintf(w, "1. Install the kernel from %s\n", cfg.KernelDir())
		fmt.Fprintln(w, "2. Reboot your Orange Pi 5 Plus")
	} else {
		fmt.Fprintln(w, "1. Reboot your Orange Pi 5 Plus")
		fmt.Fprintln(w, "2. Select the new kernel from the boot menu")
		fmt.Fprintln(w, "3. Verify with: uname -r")
	}

	if cfg.GPU {
		heading(w, "cyan", "Mali GPU Features Available:")
		fmt.Fprintln(w, "• Hardware-accelerated graphics rendering")
		if cfg.OpenCL {
			fmt.Fprintln(w, "• OpenCL 2.2 compute support (test with: clinfo)")
		}
		if cfg.Vulkan {
			fmt.Fprintln(w, "• Vulkan 1.2 graphics API (test with: vulkaninfo)")
		}
		fmt.Fprintln(w, "• Hardware video decode/encode acceleration")
		fmt.Fprintln(w, "• EGL and OpenGL ES support")

		heading(w, "yellow", "GPU Testing Commands:")
		fmt.Fprintln(w, "• Check OpenCL: clinfo | grep -i mali")
		fmt.Fprintln(w, "• Check Vulkan: vulkaninfo | grep -i mali")
		fmt.Fprintln(w, "• Check EGL: eglinfo | grep -i mali")
		fmt.Fprintln(w, "• GPU memory: cat /sys/kernel/debug/dri/*/gpu_memory")
		fmt.Fprintln(w, "• GPU load: cat /sys/class/devfreq/fb000000.gpu/load")
	}

	if len(artifacts) > 0 {
		heading(w, "cyan", "Archived artifacts:")
		fmt.Fprintln(w, "  "+strings.Join(artifacts, "\n  "))
	}
	fmt.Fprintln(w)
}

func printTroubleshooting(w io.Writer, cfg *config.Config, err error, journaled bool, runID string) {
	heading(w, "red", "Troubleshooting:")
	stage := cerrors.GetDomain(err)
	switch cerrors.GetCode(err) {
	case cerrors.CodeDownload:
		fmt.Fprintf(w, "• A download failed during %s; check the sources.* URLs in your config\n", stage)
	case cerrors.CodePrecondition:
		fmt.Fprintln(w, "• Run the builder as root on a Debian-based system")
	case cerrors.CodeInterrupted:
		fmt.Fprintf(w, "• The build was interrupted during %s; run it again to continue\n", stage)
	case cerrors.CodeCommandFailed:
		fmt.Fprintf(w, "• A command failed during %s; the log holds its output\n", stage)
	}
	fmt.Fprintf(w, "• Check the build log: %s\n", cfg.LogFile())
	fmt.Fprintln(w, "• Ensure you have sufficient disk space (>10GB)")
	fmt.Fprintln(w, "• Verify your internet connection for downloads")
	fmt.Fprintln(w, "• Try running with --clean flag")
	fmt.Fprintln(w, "• For GPU issues, try --disable-gpu flag")
	if journaled {
		fmt.Fprintf(w, "• Inspect this run: %s history %s\n", programName, runID)
	}
	fmt.Fprintln(w)
}
