// Package sim is an in-process runner game that implements scenario.Driver.
// It stands in for the browser target in tests and in offline runs: same
// debug surface, same determinism contract, frames drawn with gg.
package sim

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/hazyhaar/visreg/imgdiff"
	"github.com/hazyhaar/visreg/scenario"
	"github.com/hazyhaar/visreg/seeded"
)

const (
	gravity   = 0.8
	jumpSpeed = -6.0
	maxDust   = 24
)

// Options sizes the canvas and names the capturable region.
type Options struct {
	Width  int
	Height int
	// Region is the only selector Capture accepts.
	Region string
}

// DefaultOptions returns a 160×60 canvas captured as "#game".
func DefaultOptions() Options {
	return Options{Width: 160, Height: 60, Region: scenario.DefaultRegion}
}

type dust struct {
	x, y, vx, vy float64
	life         int
}

type state struct {
	running  bool
	gameOver bool
	score    int
	tick     int
	y        float64 // dino feet offset above ground, >= 0
	vy       float64
	ducking  bool
	up, down bool
	dust     []dust
}

// Game is the simulated target. Its only randomness is the injected Source,
// rewound on every Reset.
type Game struct {
	opts  Options
	rng   *seeded.Source
	mu    sync.Mutex
	st    state
	frame *image.NRGBA
}

var _ scenario.Driver = (*Game)(nil)

// New returns a Game drawing with rng. Zero option fields take defaults.
func New(rng *seeded.Source, opts Options) *Game {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.Region == "" {
		opts.Region = def.Region
	}
	return &Game{opts: opts, rng: rng}
}

// Reset restores the initial state and rewinds the random source.
func (g *Game) Reset(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng.Reset()
	g.st = state{}
	g.frame = nil
	return nil
}

// BeginRun enters continuous run mode.
func (g *Game) BeginRun(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.running = true
	g.st.gameOver = false
	return nil
}

// SetInput sets the up/down flags. Other flags are rejected.
func (g *Game) SetInput(_ context.Context, in scenario.Input) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, v := range in {
		switch k {
		case "up":
			g.st.up = v
		case "down":
			g.st.down = v
		default:
			return fmt.Errorf("sim: unknown input %q", k)
		}
	}
	return nil
}

// SetState overwrites running, gameOver, score and tick.
func (g *Game) SetState(_ context.Context, fields scenario.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, v := range fields {
		var err error
		switch k {
		case "running":
			g.st.running, err = asBool(k, v)
		case "gameOver":
			g.st.gameOver, err = asBool(k, v)
		case "score":
			g.st.score, err = asInt(k, v)
		case "tick":
			g.st.tick, err = asInt(k, v)
		default:
			err = fmt.Errorf("sim: unknown state field %q", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// AdvanceOneTick steps physics and dust by one tick. Nothing moves unless
// the game is running.
func (g *Game) AdvanceOneTick(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := &g.st
	if !st.running || st.gameOver {
		return nil
	}
	st.tick++
	st.score++

	onGround := st.y == 0
	if st.up && onGround {
		st.vy = jumpSpeed
	}
	st.y -= st.vy
	st.vy += gravity
	if st.y <= 0 {
		st.y, st.vy = 0, 0
	}
	st.ducking = st.down && st.y == 0

	if st.y == 0 {
		st.dust = append(st.dust, dust{
			x:    18 + g.rng.Range(-2, 2),
			y:    0,
			vx:   -g.rng.Range(0.5, 1.5),
			vy:   g.rng.Range(0.2, 0.8),
			life: 6 + int(g.rng.Range(0, 4)),
		})
	}
	alive := st.dust[:0]
	for _, d := range st.dust {
		d.x += d.vx
		d.y += d.vy
		d.life--
		if d.life > 0 {
			alive = append(alive, d)
		}
	}
	if len(alive) > maxDust {
		alive = alive[len(alive)-maxDust:]
	}
	st.dust = alive
	return nil
}

// Render draws the current state into the frame Capture returns.
func (g *Game) Render(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, h := float64(g.opts.Width), float64(g.opts.Height)
	ground := h - 8
	dc := gg.NewContext(g.opts.Width, g.opts.Height)

	dc.SetRGB255(247, 247, 247)
	dc.Clear()

	// Ground with dashes scrolling by tick.
	dc.SetRGB255(83, 83, 83)
	dc.DrawRectangle(0, ground, w, 1)
	dc.Fill()
	offset := float64(g.st.tick*3 % 12)
	for x := -offset; x < w; x += 12 {
		dc.DrawRectangle(x, ground+3, 4, 1)
	}
	dc.Fill()

	// Dino: a body block, lower and longer when ducking.
	bodyW, bodyH := 10.0, 14.0
	if g.st.ducking {
		bodyW, bodyH = 16, 8
	}
	top := ground - bodyH - math.Round(g.st.y)
	dc.SetRGB255(31, 158, 90)
	dc.DrawRectangle(12, top, bodyW, bodyH)
	dc.Fill()
	dc.SetRGB255(23, 108, 64)
	dc.DrawRectangle(12+bodyW-3, top+2, 2, 2)
	dc.Fill()

	dc.SetRGB255(140, 140, 140)
	for _, d := range g.st.dust {
		dc.DrawRectangle(math.Round(d.x), math.Round(ground-1-d.y), 1, 1)
	}
	dc.Fill()

	// Score as a bar, one pixel per ten points.
	if bar := float64(min(g.st.score/10, g.opts.Width/2)); bar > 0 {
		dc.SetRGB255(83, 83, 83)
		dc.DrawRectangle(w-4-bar, 3, bar, 2)
		dc.Fill()
	}
	if g.st.gameOver {
		dc.SetRGB255(200, 40, 40)
		dc.DrawRectangle(w/2-6, h/2-6, 12, 12)
		dc.Fill()
	}

	g.frame = imgdiff.ToNRGBA(dc.Image())
	return nil
}

// Capture returns a copy of the last rendered frame.
func (g *Game) Capture(_ context.Context, region string) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if region != g.opts.Region {
		return nil, fmt.Errorf("sim: no element matches %q", region)
	}
	if g.frame == nil {
		return nil, errors.New("sim: nothing rendered since reset")
	}
	out := image.NewNRGBA(g.frame.Rect)
	copy(out.Pix, g.frame.Pix)
	return out, nil
}

// Close is a no-op so Game can be returned by a driver factory.
func (g *Game) Close() error { return nil }

func asBool(k string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("sim: state %s: want bool, got %T", k, v)
	}
	return b, nil
}

func asInt(k string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("sim: state %s: want number, got %T", k, v)
}
