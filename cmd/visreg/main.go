// Command visreg captures the game's scenarios in a seeded browser, compares
// them with the stored baselines and exits non-zero on any regression.
//
// Usage:
//
//	visreg -write-baseline          # capture and store new baselines
//	visreg -check                   # capture and compare (default)
//	visreg -write-baseline -check   # refresh baselines, then verify them
//	visreg -history 10              # print the last 10 recorded checks
//	visreg -trend stand             # print the recorded diff ratios of stand
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/dbopen"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/pipeline"
	"github.com/hazyhaar/visreg/sim"
	"github.com/hazyhaar/visreg/verdict"
)

func main() {
	configPath := flag.String("config", "", "path to visreg.yaml (defaults apply when empty)")
	writeBaseline := flag.Bool("write-baseline", false, "store the captures as the new baselines")
	check := flag.Bool("check", false, "compare captures against baselines (default mode)")
	threshold := flag.Float64("threshold", 0, "override the diff ratio threshold, 0..1")
	target := flag.String("target", "browser", "driver: browser or sim")
	showHistory := flag.Int("history", 0, "print the last N recorded checks and exit")
	trend := flag.String("trend", "", "print the recorded diff ratios of a scenario and exit (limit: -history, default 20)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("visreg: fatal", "error", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			cfg.Threshold = threshold
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("visreg: fatal", "error", err)
		os.Exit(1)
	}

	if *trend != "" || *showHistory > 0 {
		if err := report(ctx, os.Stdout, cfg, *trend, *showHistory); err != nil {
			logger.Error("visreg: fatal", "error", err)
			os.Exit(1)
		}
		return
	}

	mode := pipeline.Mode{WriteBaseline: *writeBaseline, Check: *check}
	code, err := run(ctx, logger, cfg, mode, *target)
	if err != nil {
		logger.Error("visreg: fatal", "error", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, mode pipeline.Mode, target string) (int, error) {
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	switch target {
	case "browser":
	case "sim":
		opts = append(opts, pipeline.WithDriverFactory(pipeline.SimFactory(sim.DefaultOptions())))
	default:
		return 1, fmt.Errorf("visreg: unknown target %q", target)
	}

	if cfg.History.Path != "" {
		h, err := openHistory(cfg, history.WithLogger(logger))
		if err != nil {
			return 1, err
		}
		defer h.Close()
		opts = append(opts, pipeline.WithHistory(h))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return 1, err
	}
	rep, err := p.Run(ctx, mode)
	if err != nil {
		return 1, err
	}
	if rep == nil {
		fmt.Printf("baseline updated: %s\n", cfg.VisualDir)
		return 0, nil
	}
	if err := rep.Write(os.Stdout); err != nil {
		return 1, err
	}
	return rep.ExitCode(), nil
}

func openHistory(cfg *config.Config, opts ...history.Option) (*history.Store, error) {
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("visreg: no history path configured")
	}
	hc := cfg.History
	opts = append(opts, history.WithDBOptions(
		dbopen.WithBusyTimeout(int(hc.BusyTimeout/time.Millisecond)),
		dbopen.WithSynchronous(strings.ToUpper(hc.Synchronous)),
	))
	return history.Open(hc.Path, opts...)
}

// report prints the trend of scenario when set, the recent runs otherwise.
func report(ctx context.Context, w io.Writer, cfg *config.Config, scenario string, limit int) error {
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	if scenario != "" {
		return printTrend(ctx, w, h, scenario, limit)
	}
	return printHistory(ctx, w, h, limit)
}

func printHistory(ctx context.Context, w io.Writer, h *history.Store, n int) error {
	runs, err := h.Recent(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tMODE\tPASSED\tFAILURES")
	for _, r := range runs {
		failed := 0
		for _, res := range r.Results {
			if res.Status != verdict.StatusPass {
				failed++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode, r.Passed, failed)
	}
	return tw.Flush()
}

// printTrend lists the scenario's ratios newest first, as percentages.
func printTrend(ctx context.Context, w io.Writer, h *history.Store, scenario string, n int) error {
	ratios, err := h.ScenarioTrend(ctx, scenario, n)
	if err != nil {
		return err
	}
	if len(ratios) == 0 {
		_, err := fmt.Fprintf(w, "no recorded results for %s\n", scenario)
		return err
	}
	fmt.Fprintf(w, "%s (newest first):\n", scenario)
	for _, r := range ratios {
		if _, err := fmt.Fprintf(w, "  %.4f%%\n", r*100); err != nil {
			return err
		}
	}
	return nil
}
