// Package pipeline wires one visual run end to end: it serves the app,
// drives every scenario through a Driver, stores the captures, optionally
// promotes them to baselines and checks them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/visreg/baseline"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/scenario"
	"github.com/hazyhaar/visreg/staticsrv"
	"github.com/hazyhaar/visreg/verdict"
)

// MissingAssetError reports that the entry page does not exist.
type MissingAssetError struct {
	Path string
	Err  error
}

func (e *MissingAssetError) Error() string {
	return fmt.Sprintf("pipeline: missing asset %s", e.Path)
}

func (e *MissingAssetError) Unwrap() error { return e.Err }

// Mode selects what a run does. The zero Mode checks.
type Mode struct {
	WriteBaseline bool
	Check         bool
}

func (m Mode) normalize() Mode {
	if !m.WriteBaseline && !m.Check {
		m.Check = true
	}
	return m
}

// String names the mode for logs and the run ledger.
func (m Mode) String() string {
	m = m.normalize()
	switch {
	case m.WriteBaseline && m.Check:
		return "write-baseline+check"
	case m.WriteBaseline:
		return "write-baseline"
	default:
		return "check"
	}
}

// Session is a Driver scoped to one run.
type Session interface {
	scenario.Driver
	Close() error
}

// DriverFactory opens a Session on the app served at url.
type DriverFactory func(ctx context.Context, cfg *config.Config, url string) (Session, error)

// Pipeline runs the configured scenarios.
type Pipeline struct {
	cfg     *config.Config
	factory DriverFactory
	history *history.Store
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDriverFactory replaces the Chrome-backed driver.
func WithDriverFactory(f DriverFactory) Option { return func(p *Pipeline) { p.factory = f } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithHistory records every check in h. The caller keeps ownership of h.
func WithHistory(h *history.Store) Option { return func(p *Pipeline) { p.history = h } }

// New returns a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	if p.factory == nil {
		p.factory = BrowserFactory(p.logger)
	}
	return p, nil
}

// Run executes one visual run. The report is nil when mode does not check.
// Errors are fatal; a failing check is reported through the report.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (*verdict.Report, error) {
	mode = mode.normalize()
	started := time.Now()
	log := p.logger.With("mode", mode.String())

	entry := p.cfg.EntryPath()
	if _, err := os.Stat(entry); err != nil {
		return nil, &MissingAssetError{Path: entry, Err: err}
	}

	store, err := baseline.Open(p.cfg.VisualDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	orch, err := scenario.NewOrchestrator(p.cfg.Scenarios,
		scenario.WithSettle(p.cfg.Browser.SettleCapture),
		scenario.WithLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if err := p.capture(ctx, store, orch); err != nil {
		return nil, err
	}
	names := orch.Names()

	if mode.WriteBaseline {
		for _, name := range names {
			if err := store.Promote(name); err != nil {
				return nil, fmt.Errorf("pipeline: promote %s: %w", name, err)
			}
		}
		log.Info("pipeline: baseline updated", "dir", store.BaselineDir(), "scenarios", len(names))
	}
	if !mode.Check {
		return nil, nil
	}

	agg, err := verdict.NewAggregator(store, p.cfg.ThresholdValue(), p.cfg.CompareOptions(), p.logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	rep, err := agg.Check(ctx, names)
	if err != nil {
		return nil, err
	}

	if p.history != nil {
		id, err := p.history.Record(ctx, history.FromReport(mode.String(), started, rep))
		if err != nil {
			// The ledger is informational; the verdict stands without it.
			log.Warn("pipeline: history record failed", "error", err)
		} else {
			log.Debug("pipeline: run recorded", "run_id", id)
		}
	}

	log.Info("pipeline: check done",
		"passed", rep.Passed(), "failures", len(rep.Failures()), "elapsed", time.Since(started))
	return rep, nil
}

// capture serves the app, opens a driver and stores one capture per scenario.
// Server and driver are released before it returns, on every path.
func (p *Pipeline) capture(ctx context.Context, store *baseline.Store, orch *scenario.Orchestrator) (err error) {
	if err := store.ResetCurrent(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	srv, err := staticsrv.Start(p.cfg.Root, p.cfg.Server.Addr, p.logger)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("pipeline: %w", cerr)
		}
	}()

	sess, err := p.factory(ctx, p.cfg, srv.URL(p.cfg.Entry))
	if err != nil {
		return fmt.Errorf("pipeline: open driver: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.logger.Warn("pipeline: driver close failed", "error", cerr)
		}
	}()

	return orch.Run(ctx, sess, func(name string, img image.Image) error {
		return store.SaveCurrent(name, img)
	})
}
