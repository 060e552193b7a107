package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/visreg/browser"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/seeded"
	"github.com/hazyhaar/visreg/sim"
)

// BrowserFactory drives the served page in Chrome. The page gets the seeded
// Math.random before any of its scripts run.
func BrowserFactory(logger *slog.Logger) DriverFactory {
	return func(ctx context.Context, cfg *config.Config, url string) (Session, error) {
		bc := cfg.Browser
		m := browser.NewManager(browser.Config{
			RemoteURL: bc.Remote,
			Bin:       bc.Bin,
			Headless:  bc.Headless == nil || *bc.Headless,
			Stealth:   bc.Stealth,
			Logger:    logger,
		})
		if _, err := m.Start(ctx); err != nil {
			m.Close()
			return nil, err
		}
		page, err := m.OpenPage(ctx, browser.PageOptions{
			URL:             url,
			InitScript:      seeded.New(cfg.Seed).Script(),
			Surface:         surface(cfg.Surface),
			Width:           bc.ViewportWidth,
			Height:          bc.ViewportHeight,
			LoadTimeout:     bc.LoadTimeout,
			IdleWindow:      bc.IdleWindow,
			SettleAfterLoad: bc.SettleAfterLoad,
			EvalTimeout:     bc.EvalTimeout,
		})
		if err != nil {
			m.Close()
			return nil, err
		}
		return &browserSession{Page: page, manager: m}, nil
	}
}

type browserSession struct {
	*browser.Page
	manager *browser.Manager
}

func (s *browserSession) Close() error {
	return errors.Join(s.Page.Close(), s.manager.Close())
}

func surface(c config.SurfaceConfig) browser.Surface {
	return browser.Surface{
		Object:         c.Object,
		Reset:          c.Reset,
		SetInput:       c.SetInput,
		SetState:       c.SetState,
		AdvanceOneTick: c.AdvanceOneTick,
		Render:         c.Render,
		BeginRun:       c.BeginRun,
	}
}

// SimFactory drives the in-process game instead of a browser. It ignores url
// and seeds the game from cfg.Seed.
func SimFactory(opts sim.Options) DriverFactory {
	return func(_ context.Context, cfg *config.Config, _ string) (Session, error) {
		return sim.New(seeded.New(cfg.Seed), opts), nil
	}
}
