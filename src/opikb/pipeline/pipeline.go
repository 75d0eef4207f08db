package pipeline

import (
	"context"
	"fmt"
	"time"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/opikb/config"
)

// Status is the outcome class of one stage
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarned  Status = "warned"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome records how one stage ended
type Outcome struct {
	Stage    string
	Policy   Policy
	Status   Status
	Err      error
	Message  string
	Warnings int
	Duration time.Duration
}

// Report is the result of a whole run
type Report struct {
	Outcomes    []Outcome
	Err         error
	FailedStage string
	Warnings    int
	Duration    time.Duration
}

// Succeeded reports whether no fatal failure happened
func (r *Report) Succeeded() bool {
	return r.Err == nil
}

// Observer is notified as stages start and finish
type Observer interface {
	StageStarted(name string)
	StageFinished(o Outcome)
}

// PlannedStep is a stage as it will be treated for a given configuration
type PlannedStep struct {
	Stage  string `json:"stage" yaml:"stage"`
	Policy Policy `json:"policy" yaml:"policy"`
	Run    bool   `json:"run" yaml:"run"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Pipeline is an ordered list of stages
type Pipeline struct {
	steps     []Step
	observers []Observer
}

// New creates a pipeline from the stage table
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Observe registers o for stage notifications
func (p *Pipeline) Observe(o Observer) {
	p.observers = append(p.observers, o)
}

// Steps returns the stage table
func (p *Pipeline) Steps() []Step {
	return p.steps
}

// Plan evaluates every skip predicate against cfg
func (p *Pipeline) Plan(cfg *config.Config) []PlannedStep {
	plan := make([]PlannedStep, len(p.steps))
	for i, step := range p.steps {
		plan[i] = PlannedStep{Stage: step.Stage.Name(), Policy: step.Policy, Run: true}
		if step.Skip != nil {
			if reason := step.Skip(cfg); reason != "" {
				plan[i].Run = false
				plan[i].Reason = reason
			}
		}
	}
	return plan
}

// Run executes the stages in order. Skip decisions are taken once, up
// front. The first fatal failure ends the run; best-effort failures are
// logged and the run continues.
func (p *Pipeline) Run(ctx context.Context, sc *Context) *Report {
	start := time.Now()
	report := &Report{}
	defer func() { report.Duration = time.Since(start) }()

	plan := p.Plan(sc.Config)

	for i, step := range p.steps {
		name := step.Stage.Name()

		if !plan[i].Run {
			sc.Log.Debug("Skipping stage", "stage", name, "reason", plan[i].Reason)
			p.finish(report, Outcome{Stage: name, Policy: step.Policy, Status: StatusSkipped, Message: plan[i].Reason})
			continue
		}

		if err := ctx.Err(); err != nil {
			o := Outcome{
				Stage:  name,
				Policy: step.Policy,
				Status: StatusFailed,
				Err:    interrupted(name, err),
			}
			p.abort(sc, report, o)
			return report
		}

		for _, obs := range p.observers {
			obs.StageStarted(name)
		}
		sc.Log.Debug("Starting stage", "stage", name, "policy", step.Policy)

		o := p.runStage(ctx, sc, step)

		// an interrupt turns whatever the stage reported into a fatal failure
		if ctx.Err() != nil && o.Status != StatusOK {
			o.Status = StatusFailed
			o.Err = interrupted(name, ctx.Err())
			p.abort(sc, report, o)
			return report
		}

		if o.Status == StatusFailed {
			if step.Policy == Fatal {
				p.abort(sc, report, o)
				return report
			}
			sc.Log.Warn("Stage failed, continuing", "stage", name, "error", o.Err)
			report.Warnings++
		}

		report.Warnings += o.Warnings
		p.finish(report, o)
	}

	return report
}

// interrupted attributes a cancellation to the stage it hit
func interrupted(stage string, cause error) error {
	return cerrors.New(cerrors.Domain(stage), cerrors.CodeInterrupted, "build interrupted").WithCause(cause)
}

// runStage validates and executes one stage, converting a panic into a
// failure so the run is still reported.
func (p *Pipeline) runStage(ctx context.Context, sc *Context, step Step) (o Outcome) {
	name := step.Stage.Name()
	start := time.Now()
	sc.warnings = 0
	o = Outcome{Stage: name, Policy: step.Policy}

	defer func() {
		if r := recover(); r != nil {
			o.Status = StatusFailed
			o.Err = cerrors.Newf(cerrors.Domain(name), "panic", "internal error (panic): %v", r)
		}
		o.Duration = time.Since(start)
		o.Warnings = sc.warnings
		if o.Err != nil {
			o.Message = o.Err.Error()
		}
	}()

	if err := step.Stage.Validate(ctx, sc); err != nil {
		o.Status = StatusFailed
		o.Err = fmt.Errorf("validation failed: %w", err)
		return o
	}

	if err := step.Stage.Execute(ctx, sc); err != nil {
		o.Status = StatusFailed
		o.Err = err
		return o
	}

	o.Status = StatusOK
	if sc.warnings > 0 {
		o.Status = StatusWarned
	}
	return o
}

func (p *Pipeline) abort(sc *Context, report *Report, o Outcome) {
	if o.Err != nil {
		o.Message = o.Err.Error()
	}
	sc.Log.Error("Stage failed", "stage", o.Stage, "error", o.Err)
	report.Err = o.Err
	report.FailedStage = o.Stage
	p.finish(report, o)
}

func (p *Pipeline) finish(report *Report, o Outcome) {
	report.Outcomes = append(report.Outcomes, o)
	for _, obs := range p.observers {
		obs.StageFinished(o)
	}
}
