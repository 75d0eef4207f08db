package stages

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/stretchr/testify/require"
)

// world is a fake host rooted in a temp dir: downloads and clones create
// files, every other command succeeds.
type world struct {
	t      *testing.T
	root   string
	cfg    *config.Config
	runner *executor.FakeRunner
	logBuf *bytes.Buffer
	host   StaticHost
}

func newWorld(t *testing.T) *world {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Jobs = 8
	cfg.BuildDir = filepath.Join(root, "tmp", "kernel_build")
	cfg.Layout.Root = root
	cfg.Journal.Enabled = false

	writeFile(t, filepath.Join(root, "etc", "debian_version"), "12.5\n")

	w := &world{
		t:      t,
		root:   root,
		cfg:    cfg,
		runner: executor.NewFakeRunner(),
		logBuf: &bytes.Buffer{},
		host:   StaticHost{Root: true, Arch: "x86_64", Release: "6.1.0-test", Free: 100 << 30},
	}

	w.runner.Handle("wget -O", func(c executor.Cmd) executor.Result {
		writeFile(t, c.Args[1], "blob:"+filepath.Base(c.Args[1]))
		return executor.Result{}
	})
	w.runner.Handle("git clone", func(c executor.Cmd) executor.Result {
		dest := filepath.Join(c.Dir, c.Args[len(c.Args)-1])
		require.NoError(t, os.MkdirAll(filepath.Join(dest, ".git"), 0755))
		if filepath.Base(dest) == "linux" {
			writeFile(t, filepath.Join(dest, "arch", "arm64", "boot", "Image"), "kernel-image")
			writeFile(t, filepath.Join(dest, "System.map"), "ffff0000 T _text\n")
			writeFile(t, filepath.Join(dest, ".config"), "CONFIG_LOCALVERSION=\"\"\n")
		}
		return executor.Result{}
	})

	return w
}

func (w *world) context() *pipeline.Context {
	log := logs.New(logs.Config{Console: w.logBuf, Level: "debug"})
	w.t.Cleanup(func() { log.Close() })
	return &pipeline.Context{
		RunID:  "run-1",
		Config: w.cfg,
		Runner: w.runner,
		Log:    log,
	}
}

func (w *world) run() (*pipeline.Report, *pipeline.Context) {
	sc := w.context()
	return New(w.host).Run(context.Background(), sc), sc
}

func (w *world) path(p string) string {
	return filepath.Join(w.root, p)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func outcome(r *pipeline.Report, stage string) pipeline.Outcome {
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			return o
		}
	}
	return pipeline.Outcome{}
}
