package browser

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/visreg/imgdiff"
	"github.com/hazyhaar/visreg/scenario"
)

// Surface names the page's debug object and the methods backing each
// scenario.Target operation.
type Surface struct {
	Object         string
	Reset          string
	SetInput       string
	SetState       string
	AdvanceOneTick string
	Render         string
	BeginRun       string
}

// DefaultSurface matches the game's window.__dinoDebug object.
func DefaultSurface() Surface {
	return Surface{
		Object:         "__dinoDebug",
		Reset:          "restart",
		SetInput:       "setInput",
		SetState:       "setState",
		AdvanceOneTick: "update",
		Render:         "render",
		BeginRun:       "beginGame",
	}
}

// PageOptions configures OpenPage.
type PageOptions struct {
	URL string
	// InitScript runs before any document script on every load (the seeded
	// Math.random replacement).
	InitScript string
	Surface    Surface

	Width, Height int

	LoadTimeout     time.Duration
	IdleWindow      time.Duration
	SettleAfterLoad time.Duration
	EvalTimeout     time.Duration
}

func (o *PageOptions) defaults() {
	if o.Surface == (Surface{}) {
		o.Surface = DefaultSurface()
	}
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 560
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = 500 * time.Millisecond
	}
	if o.SettleAfterLoad <= 0 {
		o.SettleAfterLoad = 250 * time.Millisecond
	}
	if o.EvalTimeout <= 0 {
		o.EvalTimeout = 10 * time.Second
	}
}

// Page is one loaded tab driven through its debug object. It implements
// scenario.Driver. Calls must not be made concurrently.
type Page struct {
	page    *rod.Page
	surface Surface
	timeout time.Duration
}

var _ scenario.Driver = (*Page)(nil)

// OpenPage creates a tab, installs the init script, loads opts.URL and waits
// for the network to go quiet.
func (m *Manager) OpenPage(ctx context.Context, opts PageOptions) (*Page, error) {
	opts.defaults()
	b := m.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	p := &Page{page: page, surface: opts.Surface, timeout: opts.EvalTimeout}
	if err := p.load(ctx, opts); err != nil {
		page.Close()
		return nil, err
	}
	m.cfg.Logger.Info("browser: page ready", "url", opts.URL, "width", opts.Width, "height", opts.Height)
	return p, nil
}

func (p *Page) load(ctx context.Context, opts PageOptions) error {
	err := p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}

	if opts.InitScript != "" {
		if _, err := p.page.EvalOnNewDocument(opts.InitScript); err != nil {
			return fmt.Errorf("browser: init script: %w", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.LoadTimeout)
	defer cancel()
	pg := p.page.Context(navCtx)

	waitIdle := pg.WaitRequestIdle(opts.IdleWindow, nil, nil, nil)
	if err := pg.Navigate(opts.URL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", opts.URL, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", opts.URL, err)
	}
	waitIdle()
	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("browser: network idle %s: %w", opts.URL, err)
	}

	return sleep(ctx, opts.SettleAfterLoad)
}

// Reset calls the surface's reset method.
func (p *Page) Reset(ctx context.Context) error {
	return p.call(ctx, p.surface.Reset, nil)
}

// SetInput passes the input flags to the surface.
func (p *Page) SetInput(ctx context.Context, in scenario.Input) error {
	if in == nil {
		in = scenario.Input{}
	}
	return p.call(ctx, p.surface.SetInput, in)
}

// SetState passes the state fields to the surface.
func (p *Page) SetState(ctx context.Context, fields scenario.State) error {
	if fields == nil {
		fields = scenario.State{}
	}
	return p.call(ctx, p.surface.SetState, fields)
}

// AdvanceOneTick calls the surface's single-step method once.
func (p *Page) AdvanceOneTick(ctx context.Context) error {
	return p.call(ctx, p.surface.AdvanceOneTick, nil)
}

// Render forces a render pass.
func (p *Page) Render(ctx context.Context) error {
	return p.call(ctx, p.surface.Render, nil)
}

// BeginRun enters continuous run mode.
func (p *Page) BeginRun(ctx context.Context) error {
	return p.call(ctx, p.surface.BeginRun, nil)
}

// Capture screenshots the first element matching region.
func (p *Page) Capture(ctx context.Context, region string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	el, err := p.page.Context(ctx).Element(region)
	if err != nil {
		return nil, fmt.Errorf("browser: element %s: %w", region, err)
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %s: %w", region, err)
	}
	img, err := imgdiff.DecodePNGBytes(data)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %s: %w", region, err)
	}
	return img, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if p.page == nil {
		return nil
	}
	err := p.page.Close()
	p.page = nil
	return err
}

// callJS invokes window[object][method](arg). A missing object or method
// raises an error naming it instead of a generic TypeError.
const callJS = `(object, method, hasArg, arg) => {
	const d = window[object];
	if (!d) throw new Error("debug object window." + object + " is not defined");
	if (typeof d[method] !== "function") throw new Error("debug object has no method " + method);
	if (hasArg) d[method](arg); else d[method]();
}`

func (p *Page) call(ctx context.Context, method string, arg any) error {
	if method == "" {
		return errors.New("browser: debug method not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.page.Context(ctx).Eval(callJS, p.surface.Object, method, arg != nil, arg)
	if err != nil {
		return fmt.Errorf("browser: %s.%s: %w", p.surface.Object, method, err)
	}
	return nil
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
