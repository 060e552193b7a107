package scenario

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// DefaultSettle is the pause between the forced render and the capture.
const DefaultSettle = 60 * time.Millisecond

// StepError reports which scenario and step failed.
type StepError struct {
	Scenario string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("scenario: %s: %s: %v", e.Scenario, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Sink receives each capture as soon as it is taken.
type Sink func(name string, img image.Image) error

// Orchestrator runs an ordered scenario list against one Driver.
type Orchestrator struct {
	scenarios []Scenario
	settle    time.Duration
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettle sets the pause before each capture. Zero disables it.
func WithSettle(d time.Duration) Option { return func(o *Orchestrator) { o.settle = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// NewOrchestrator validates scenarios and copies the list, so later changes
// by the caller do not affect a run.
func NewOrchestrator(scenarios []Scenario, opts ...Option) (*Orchestrator, error) {
	if err := Validate(scenarios); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		scenarios: append([]Scenario(nil), scenarios...),
		settle:    DefaultSettle,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Names returns the declared names in execution order.
func (o *Orchestrator) Names() []string { return Names(o.scenarios) }

// Run executes every scenario sequentially in declared order on d, handing
// each capture to sink. The first error stops the run; nothing is retried.
func (o *Orchestrator) Run(ctx context.Context, d Driver, sink Sink) error {
	for _, sc := range o.scenarios {
		start := time.Now()
		img, err := o.Execute(ctx, d, sc)
		if err != nil {
			return err
		}
		if err := sink(sc.Name, img); err != nil {
			return &StepError{Scenario: sc.Name, Step: "store", Err: err}
		}
		b := img.Bounds()
		o.logger.Info("scenario: captured",
			"scenario", sc.Name, "width", b.Dx(), "height", b.Dy(), "elapsed", time.Since(start))
	}
	return nil
}

// Execute drives d through one scenario and returns its capture:
// reset, optional begin-run, scripted actions, render, settle, capture.
func (o *Orchestrator) Execute(ctx context.Context, d Driver, sc Scenario) (image.Image, error) {
	fail := func(step string, err error) (image.Image, error) {
		return nil, &StepError{Scenario: sc.Name, Step: step, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail("start", err)
	}
	if err := d.Reset(ctx); err != nil {
		return fail("reset", err)
	}
	if sc.BeginRun {
		if err := d.BeginRun(ctx); err != nil {
			return fail("begin run", err)
		}
	}
	for i, a := range sc.Actions {
		if err := apply(ctx, d, a); err != nil {
			return fail(fmt.Sprintf("step %d (%s)", i, a.Kind), err)
		}
	}
	if err := d.Render(ctx); err != nil {
		return fail("render", err)
	}
	if err := sleep(ctx, o.settle); err != nil {
		return fail("settle", err)
	}
	img, err := d.Capture(ctx, sc.CaptureRegion())
	if err != nil {
		return fail("capture", err)
	}
	return img, nil
}

func apply(ctx context.Context, t Target, a Action) error {
	switch a.Kind {
	case ActSetInput:
		return t.SetInput(ctx, a.Input)
	case ActSetState:
		return t.SetState(ctx, a.State)
	case ActAdvance:
		for i := 0; i < a.Ticks; i++ {
			if err := t.AdvanceOneTick(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
