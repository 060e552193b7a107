// Package verdict compares every declared scenario's capture with its
// baseline and folds the outcomes into one pass/fail report.
//
// A failing scenario never stops the others from being evaluated. Only a
// failure to maintain the diff directory aborts a check.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/visreg/baseline"
	"github.com/hazyhaar/visreg/imgdiff"
)

// DefaultThreshold is the maximum diff ratio that still passes.
const DefaultThreshold = 0.0075

// Status classifies one scenario's outcome.
type Status string

const (
	StatusPass         Status = "pass"
	StatusMissingPair  Status = "missing_pair"
	StatusUnreadable   Status = "unreadable"
	StatusSizeMismatch Status = "size_mismatch"
	StatusExceeded     Status = "threshold_exceeded"
)

// Entry is the outcome of one scenario.
type Entry struct {
	Scenario  string
	Status    Status
	Changed   int
	Total     int
	Ratio     float64
	Threshold float64
	// DiffPath is set when an overlay was written for this scenario.
	DiffPath string
	Err      error
}

// Passed reports whether the scenario passed.
func (e Entry) Passed() bool { return e.Status == StatusPass }

// Detail returns the one-line failure description, empty when passing.
func (e Entry) Detail() string {
	switch e.Status {
	case StatusMissingPair:
		return fmt.Sprintf("missing image pair for %s", e.Scenario)
	case StatusExceeded:
		return fmt.Sprintf("%s: diff ratio %.4f%% > %.2f%%", e.Scenario, e.Ratio*100, e.Threshold*100)
	case StatusSizeMismatch, StatusUnreadable:
		return fmt.Sprintf("%s: %v", e.Scenario, e.Err)
	}
	return ""
}

// Aggregator runs checks against a baseline.Store. It never writes baselines.
type Aggregator struct {
	store     *baseline.Store
	threshold float64
	opts      imgdiff.Options
	logger    *slog.Logger
}

// NewAggregator returns an Aggregator. threshold must be in [0,1].
func NewAggregator(store *baseline.Store, threshold float64, opts imgdiff.Options, logger *slog.Logger) (*Aggregator, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("verdict: threshold %v outside [0,1]", threshold)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, threshold: threshold, opts: opts, logger: logger}, nil
}

// Check evaluates names in order. Overlays of undeclared scenarios are
// pruned first so the diff directory only ever shows current failures.
func (a *Aggregator) Check(ctx context.Context, names []string) (*Report, error) {
	if err := a.store.PruneDiffs(names); err != nil {
		return nil, fmt.Errorf("verdict: %w", err)
	}

	rep := &Report{Threshold: a.threshold, DiffDir: a.store.DiffDir()}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("verdict: %w", err)
		}
		e, err := a.checkOne(name)
		if err != nil {
			return nil, err
		}
		a.logger.Info("verdict: scenario checked",
			"scenario", name, "status", e.Status, "changed", e.Changed, "ratio", e.Ratio)
		rep.Entries = append(rep.Entries, e)
	}
	return rep, nil
}

func (a *Aggregator) checkOne(name string) (Entry, error) {
	e := Entry{Scenario: name, Threshold: a.threshold}

	cur, errCur := a.store.LoadCurrent(name)
	base, errBase := a.store.Load(name)
	if errors.Is(errCur, baseline.ErrMissing) || errors.Is(errBase, baseline.ErrMissing) {
		e.Status = StatusMissingPair
		return e, a.removeDiff(name)
	}
	if err := errors.Join(errCur, errBase); err != nil {
		e.Status, e.Err = StatusUnreadable, err
		return e, a.removeDiff(name)
	}

	res, err := imgdiff.Compare(base.Image, cur.Image, a.opts)
	var sm *imgdiff.SizeMismatchError
	if errors.As(err, &sm) {
		e.Status, e.Err = StatusSizeMismatch, err
		return e, a.removeDiff(name)
	}
	if err != nil {
		return e, fmt.Errorf("verdict: compare %s: %w", name, err)
	}

	e.Changed, e.Total, e.Ratio = res.Changed, res.Total, res.Ratio
	if res.Overlay != nil {
		if err := a.store.WriteDiff(name, res.Overlay); err != nil {
			return e, fmt.Errorf("verdict: %w", err)
		}
		e.DiffPath = a.store.DiffPath(name)
	} else if err := a.removeDiff(name); err != nil {
		return e, err
	}

	e.Status = StatusPass
	if res.Exceeds(a.threshold) {
		e.Status = StatusExceeded
	}
	return e, nil
}

func (a *Aggregator) removeDiff(name string) error {
	if err := a.store.RemoveDiff(name); err != nil {
		return fmt.Errorf("verdict: %w", err)
	}
	return nil
}
