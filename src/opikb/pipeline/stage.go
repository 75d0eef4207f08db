// Package pipeline runs the ordered build stages and applies the failure
// policy attached to each of them.
package pipeline

import (
	"context"
	"fmt"

	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/executor"
)

// Stage defines the interface for a single pipeline stage
type Stage interface {
	// Name returns the stage name
	Name() string

	// Validate checks whether this stage can run given the current context
	Validate(ctx context.Context, sc *Context) error

	// Execute runs the stage
	Execute(ctx context.Context, sc *Context) error
}

// Policy decides what a stage failure does to the run
type Policy int

const (
	// Fatal aborts the run on failure
	Fatal Policy = iota
	// BestEffort logs a warning on failure and continues
	BestEffort
)

// String returns the policy name
func (p Policy) String() string {
	switch p {
	case Fatal:
		return "fatal"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// MarshalText renders the policy by name in json and yaml output
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a policy name
func (p *Policy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "fatal":
		*p = Fatal
	case "best-effort":
		*p = BestEffort
	default:
		return fmt.Errorf("unknown policy %q", text)
	}
	return nil
}

// Step is one entry of the stage table
type Step struct {
	Stage  Stage
	Policy Policy
	// Skip returns a reason when the stage must not run; nil always runs
	Skip func(cfg *config.Config) string
}

// Context holds shared state passed through the pipeline
type Context struct {
	RunID  string
	Config *config.Config
	Runner executor.Runner
	Log    *logs.Logger

	// KernelSource records which tree the source stage fetched
	KernelSource string
	// Artifacts lists storage keys written by the archive stage
	Artifacts []string

	warnings int
}

// Warn logs a non-fatal problem and counts it against the current stage
func (sc *Context) Warn(msg string, keyvals ...interface{}) {
	sc.warnings++
	sc.Log.Warn(msg, keyvals...)
}
