package stages

import (
	"context"

	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// compileTargets are built in order; each needs the previous one
var compileTargets = []struct {
	target string
	what   string
}{
	{"Image", "kernel image"},
	{"dtbs", "device tree blobs"},
	{"modules", "kernel modules"},
}

// Compile builds the kernel image, device trees and modules
type Compile struct {
	noValidation
}

// Name returns the stage name
func (s *Compile) Name() string { return NameCompile }

// Execute runs the make targets with the configured parallelism
func (s *Compile) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Building kernel...", "jobs", cfg.Jobs)

	for _, t := range compileTargets {
		sc.Log.Info("Building " + t.what + "...")
		if err := run(ctx, sc, NameCompile, makeCmd(cfg, jobs(cfg), t.target), "failed to build "+t.what); err != nil {
			return err
		}
	}

	sc.Log.Success("Kernel built")
	return nil
}
