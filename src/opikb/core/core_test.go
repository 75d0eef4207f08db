package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/journal"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/bitswalk/opikb/src/opikb/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness runs the command tree against a temp-dir host with a scripted
// runner.
type harness struct {
	t       *testing.T
	root    string
	cfgFile string
	runner  *executor.FakeRunner
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	host    stages.StaticHost
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	h := &harness{
		t:       t,
		root:    root,
		cfgFile: filepath.Join(root, "opikb.yaml"),
		runner:  executor.NewFakeRunner(),
		host:    stages.StaticHost{Root: true, Arch: "aarch64", Release: "6.1.0-rockchip", Free: 200 << 30},
	}

	writeFile(t, filepath.Join(root, "etc", "debian_version"), "12.5\n")
	writeFile(t, h.cfgFile, fmt.Sprintf(`
build:
  dir: %[1]s/build
layout:
  root: %[1]s
journal:
  path: %[1]s/state/journal.db
`, root))

	h.runner.Handle("wget -O", func(c executor.Cmd) executor.Result {
		writeFile(t, c.Args[1], "blob")
		return executor.Result{}
	})
	h.runner.Handle("git clone", func(c executor.Cmd) executor.Result {
		dest := filepath.Join(c.Dir, c.Args[len(c.Args)-1])
		require.NoError(t, os.MkdirAll(filepath.Join(dest, ".git"), 0755))
		if filepath.Base(dest) == "linux" {
			writeFile(t, filepath.Join(dest, "arch", "arm64", "boot", "Image"), "kernel-image")
			writeFile(t, filepath.Join(dest, "System.map"), "map")
			writeFile(t, filepath.Join(dest, ".config"), "")
		}
		return executor.Result{}
	})

	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Stdout: &h.stdout,
		Stderr: &h.stderr,
		Host:   h.host,
		NewRunner: func(*logs.Logger, bool) executor.Runner {
			return h.runner
		},
	}
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return Run(context.Background(), args, h.deps())
}

func (h *harness) journal() *journal.Journal {
	j, err := journal.Open(filepath.Join(h.root, "state", "journal.db"))
	require.NoError(h.t, err)
	h.t.Cleanup(func() { j.Close() })
	return j
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestHelpExitsZeroWithoutRunning(t *testing.T) {
	for _, arg := range []string{"--help", "-h"} {
		t.Run(arg, func(t *testing.T) {
			h := newHarness(t)
			h.host.Root = false

			code := h.run("--disable-gpu", arg, "--bogus")
			assert.Equal(t, 0, code)
			assert.Contains(t, h.stdout.String(), "Usage:")
			assert.Contains(t, h.stdout.String(), "--disable-gpu")
			assert.Empty(t, h.runner.Calls())
		})
	}
}

func TestUnknownFlagExitsOne(t *testing.T) {
	h := newHarness(t)

	code := h.run("--bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, h.stderr.String(), "--bogus")
	assert.Contains(t, h.stderr.String(), "opikb --help")
	assert.Empty(t, h.runner.Calls())
}

func TestBuildSucceeds(t *testing.T) {
	h := newHarness(t)

	code := h.run("--config", h.cfgFile, "-j", "4", "--verify-gpu")
	require.Equal(t, 0, code, h.stdout.String())

	out := h.stdout.String()
	assert.Contains(t, out, "Build Configuration:")
	assert.Contains(t, out, "Parallel Jobs: 4")
	assert.Contains(t, out, "Kernel build process completed successfully!")
	assert.Contains(t, out, "Next steps:")
	assert.Contains(t, out, "GPU Testing Commands:")
	assert.True(t, h.runner.Ran("make -j4 Image"))
	assert.True(t, h.runner.Ran("clinfo"))

	runs, err := h.journal().ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.RunStatusSucceeded, runs[0].Status)
	assert.Equal(t, stages.SourceVendor, runs[0].KernelSource)

	results, err := h.journal().Stages(runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, results, len(stages.Table(h.host)))
}

func TestBuildFailureExitsOne(t *testing.T) {
	h := newHarness(t)
	h.runner.Fail("wget -O "+filepath.Join(h.root, "tmp", "mali_install", "mali_csffw.bin"), 8)

	code := h.run("--config", h.cfgFile)
	assert.Equal(t, 1, code)

	out := h.stdout.String()
	assert.Contains(t, out, "Kernel build process failed!")
	assert.Contains(t, out, "Troubleshooting:")
	assert.Contains(t, out, filepath.Join(h.root, "tmp", "kernel_build.log"))
	assert.Contains(t, out, "opikb history ")
	assert.Contains(t, out, "A download failed during blobs")
	assert.NotContains(t, out, "Next steps:")
	assert.False(t, h.runner.Ran("make"))
	assert.Empty(t, h.stderr.String())

	runs, err := h.journal().ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.RunStatusFailed, runs[0].Status)
	assert.Equal(t, stages.NameBlobs, runs[0].FailedStage)
}

func TestNonRootFailsBeforeAnyCommand(t *testing.T) {
	h := newHarness(t)
	h.host.Root = false

	code := h.run("--config", h.cfgFile)
	assert.Equal(t, 1, code)
	assert.Empty(t, h.runner.Calls())
	assert.Contains(t, h.stdout.String(), "must be run as root")
	assert.Contains(t, h.stdout.String(), "Run the builder as root")
}

func TestInterruptedBuildExitsOne(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := Run(ctx, []string{"--config", h.cfgFile}, h.deps())
	assert.Equal(t, 1, code)
	assert.Contains(t, h.stdout.String(), "build interrupted")
	assert.Contains(t, h.stdout.String(), "The build was interrupted during preflight")
}

func TestJournalFailureDoesNotStopBuild(t *testing.T) {
	h := newHarness(t)
	// a directory where the database file should be
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "state", "journal.db"), 0755))

	code := h.run("--config", h.cfgFile, "--no-install")
	assert.Equal(t, 0, code, h.stdout.String())
	assert.Contains(t, h.stdout.String(), "Run journal unavailable")
}

func TestPlanCommand(t *testing.T) {
	h := newHarness(t)

	code := h.run("plan", "-o", "json", "--", "--disable-gpu", "--enable-opencl", "--no-install")
	require.Equal(t, 0, code, h.stderr.String())
	assert.Empty(t, h.runner.Calls())

	var plan []pipeline.PlannedStep
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &plan))
	require.Len(t, plan, len(stages.Table(h.host)))

	byName := map[string]pipeline.PlannedStep{}
	for _, s := range plan {
		byName[s.Stage] = s
	}
	assert.True(t, byName[stages.NamePreflight].Run)
	assert.False(t, byName[stages.NameBlobs].Run)
	assert.False(t, byName[stages.NameOpenCL].Run)
	assert.False(t, byName[stages.NameInstall].Run)
	assert.Equal(t, "installation disabled", byName[stages.NameInstall].Reason)
	assert.True(t, byName[stages.NameCompile].Run)
}

func TestPlanTable(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 0, h.run("plan"))
	out := h.stdout.String()
	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, "best-effort")
	assert.Contains(t, out, "cleanup not requested")
}

func TestHistory(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 0, h.run("history", "--config", h.cfgFile))
	assert.Contains(t, h.stdout.String(), "No builds recorded yet")

	require.Equal(t, 0, h.run("--config", h.cfgFile, "--disable-gpu"))
	require.Equal(t, 0, h.run("history", "--config", h.cfgFile, "-o", "json"))

	var runs []journal.Run
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, journal.RunStatusSucceeded, runs[0].Status)

	require.Equal(t, 0, h.run("history", "--config", h.cfgFile, runs[0].ID[:8]))
	out := h.stdout.String()
	assert.Contains(t, out, "Run:      "+runs[0].ID)
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "GPU support disabled")

	assert.Equal(t, 1, h.run("history", "--config", h.cfgFile, "ffffffff"))
	assert.Contains(t, h.stderr.String(), "run not found")
}

func TestHistoryArchivedArtifacts(t *testing.T) {
	h := newHarness(t)
	store := filepath.Join(h.root, "artifacts")
	cfgFile := filepath.Join(h.root, "archive.yaml")
	writeFile(t, cfgFile, fmt.Sprintf(`
build:
  dir: %[1]s/build
layout:
  root: %[1]s
journal:
  path: %[1]s/state/journal.db
archive:
  type: local
  local:
    path: %[2]s
`, h.root, store))

	require.Equal(t, 0, h.run("--config", cfgFile, "--disable-gpu"), h.stdout.String())

	runs, err := h.journal().ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Len(t, run.Artifacts, 3)

	// one artifact vanished from the store behind the journal's back
	require.NoError(t, os.Remove(filepath.Join(store, run.Artifacts[2])))

	require.Equal(t, 0, h.run("history", "--config", cfgFile, run.ID[:8]))
	out := h.stdout.String()
	assert.Contains(t, out, "Artifact: "+run.Artifacts[0]+" (")
	assert.Contains(t, out, "bytes in "+store)
	assert.Contains(t, out, "Artifact: "+run.Artifacts[2]+" (missing from "+store+")")

	require.Equal(t, 0, h.run("history", "rm", "--config", cfgFile, run.ID[:8]), h.stderr.String())
	out = h.stdout.String()
	assert.Contains(t, out, "Deleted artifact "+run.Artifacts[0])
	assert.Contains(t, out, "Artifact "+run.Artifacts[2]+" already gone")
	assert.Contains(t, out, "Removed run "+run.ID)

	runs, err = h.journal().ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoFileExists(t, filepath.Join(store, run.Artifacts[0]))
	assert.NoDirExists(t, filepath.Join(store, run.KernelRelease))

	assert.Equal(t, 1, h.run("history", "rm", "--config", cfgFile, run.ID))
	assert.Contains(t, h.stderr.String(), "run not found")
}

func TestHistoryRmKeepsArtifacts(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.run("--config", h.cfgFile, "--disable-gpu", "--no-install"))

	runs, err := h.journal().ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.Equal(t, 0, h.run("history", "rm", "--keep-artifacts", "--journal", filepath.Join(h.root, "state", "journal.db"), runs[0].ID))
	assert.Contains(t, h.stdout.String(), "Removed run "+runs[0].ID)
	assert.NotContains(t, h.stdout.String(), "artifact")
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 0, h.run("version"))
	assert.Contains(t, h.stdout.String(), "opikb v")

	require.Equal(t, 0, h.run("version", "-o", "json"))
	var info map[string]string
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &info))
	assert.Equal(t, VersionInfo.Version, info["version"])
}
