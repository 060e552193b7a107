package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/visreg/baseline"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/sim"
	"github.com/hazyhaar/visreg/verdict"
)

func setup(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	entry := filepath.Join(root, "app", "index.html")
	if err := os.MkdirAll(filepath.Dir(entry), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(entry, []byte("<canvas id=game></canvas>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Root = root
	cfg.VisualDir = filepath.Join(root, "visual")
	return cfg
}

func newSim(t *testing.T, cfg *config.Config, opts sim.Options, extra ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, append([]Option{WithDriverFactory(SimFactory(opts))}, extra...)...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestModeString(t *testing.T) {
	cases := []struct {
		m    Mode
		want string
	}{
		{Mode{}, "check"},
		{Mode{Check: true}, "check"},
		{Mode{WriteBaseline: true}, "write-baseline"},
		{Mode{WriteBaseline: true, Check: true}, "write-baseline+check"},
	}
	for _, c := range cases {
		if got := c.m.String(); got != c.want {
			t.Errorf("%+v: got %q, want %q", c.m, got, c.want)
		}
	}
}

func TestRun_WriteBaselineThenCheckIsClean(t *testing.T) {
	cfg := setup(t)
	p := newSim(t, cfg, sim.DefaultOptions())
	ctx := context.Background()

	rep, err := p.Run(ctx, Mode{WriteBaseline: true})
	if err != nil {
		t.Fatal(err)
	}
	if rep != nil {
		t.Fatal("write-baseline alone should not check")
	}

	rep, err = p.Run(ctx, Mode{Check: true})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Passed() || rep.ExitCode() != 0 {
		t.Fatalf("failures: %+v", rep.Failures())
	}
	if len(rep.Entries) != len(cfg.Scenarios) {
		t.Fatalf("entries = %d, want %d", len(rep.Entries), len(cfg.Scenarios))
	}
	for _, e := range rep.Entries {
		if e.Ratio != 0 || e.Changed != 0 {
			t.Errorf("%s: ratio %v changed %d", e.Scenario, e.Ratio, e.Changed)
		}
	}
	diffs, err := os.ReadDir(filepath.Join(cfg.VisualDir, "diff"))
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Errorf("diff dir not empty: %d files", len(diffs))
	}
}

func TestRun_CapturesAreDeterministic(t *testing.T) {
	cfg := setup(t)
	p := newSim(t, cfg, sim.DefaultOptions())
	ctx := context.Background()

	if _, err := p.Run(ctx, Mode{WriteBaseline: true}); err != nil {
		t.Fatal(err)
	}
	first := readAll(t, filepath.Join(cfg.VisualDir, "current"))
	if _, err := p.Run(ctx, Mode{Check: true}); err != nil {
		t.Fatal(err)
	}
	second := readAll(t, filepath.Join(cfg.VisualDir, "current"))

	for name, a := range first {
		if !bytes.Equal(a, second[name]) {
			t.Errorf("%s: captures differ between runs", name)
		}
	}
}

func TestRun_MissingBaselineFails(t *testing.T) {
	cfg := setup(t)
	rep, err := newSim(t, cfg, sim.DefaultOptions()).Run(context.Background(), Mode{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 1 {
		t.Fatal("expected failure without baselines")
	}
	for _, e := range rep.Entries {
		if e.Status != verdict.StatusMissingPair {
			t.Errorf("%s: status %s", e.Scenario, e.Status)
		}
	}
}

func TestRun_StandSinglePixelFails(t *testing.T) {
	cfg := setup(t)
	p := newSim(t, cfg, sim.Options{Width: 10, Height: 10})
	ctx := context.Background()
	if _, err := p.Run(ctx, Mode{WriteBaseline: true}); err != nil {
		t.Fatal(err)
	}
	store, err := baseline.Open(cfg.VisualDir)
	if err != nil {
		t.Fatal(err)
	}
	flipBaselinePixel(t, store, "stand", 3, 3)

	rep, err := p.Run(ctx, Mode{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 1 {
		t.Fatal("expected exit 1")
	}
	f := rep.Failures()
	if len(f) != 1 || f[0].Scenario != "stand" {
		t.Fatalf("failures = %+v", f)
	}
	if got, want := f[0].Detail(), "stand: diff ratio 1.0000% > 0.75%"; got != want {
		t.Errorf("detail = %q, want %q", got, want)
	}
	var out strings.Builder
	if err := rep.Write(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "[FAIL] visual regression check") {
		t.Errorf("report:\n%s", out.String())
	}

	// Re-baselining clears the failure and its overlay.
	rep, err = p.Run(ctx, Mode{WriteBaseline: true, Check: true})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Passed() {
		t.Fatalf("failures after re-baseline: %+v", rep.Failures())
	}
	if _, err := os.Stat(store.DiffPath("stand")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale overlay still present: %v", err)
	}
}

func TestRun_MissingAsset(t *testing.T) {
	cfg := setup(t)
	cfg.Entry = "app/nope.html"
	called := false
	p, err := New(cfg, WithDriverFactory(func(context.Context, *config.Config, string) (Session, error) {
		called = true
		return nil, errors.New("unreachable")
	}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), Mode{})
	var mae *MissingAssetError
	if !errors.As(err, &mae) {
		t.Fatalf("err = %v, want MissingAssetError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err does not wrap ErrNotExist: %v", err)
	}
	if called {
		t.Error("driver opened despite missing asset")
	}
	if _, err := os.Stat(cfg.VisualDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("visual dir created despite missing asset")
	}
}

func TestRun_ServerStoppedOnDriverError(t *testing.T) {
	cfg := setup(t)
	var served string
	noRedirect := http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	p, err := New(cfg, WithDriverFactory(func(_ context.Context, _ *config.Config, url string) (Session, error) {
		if !strings.HasSuffix(url, "/app/index.html") {
			t.Errorf("entry url = %q", url)
		}
		resp, err := noRedirect.Get(url)
		if err != nil {
			t.Errorf("entry not served: %v", err)
		} else {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("entry status = %d (Location %q)", resp.StatusCode, resp.Header.Get("Location"))
			}
		}
		served = url
		return nil, errors.New("no chrome")
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), Mode{}); err == nil {
		t.Fatal("expected driver error")
	}
	if served == "" {
		t.Fatal("factory not called")
	}
	if resp, err := http.Get(served); err == nil {
		resp.Body.Close()
		t.Fatal("server still answering after run")
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	cfg := setup(t)
	h, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	p := newSim(t, cfg, sim.DefaultOptions(), WithHistory(h))
	ctx := context.Background()
	if _, err := p.Run(ctx, Mode{WriteBaseline: true, Check: true}); err != nil {
		t.Fatal(err)
	}
	runs, err := h.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	r := runs[0]
	if r.Mode != "write-baseline+check" || !r.Passed || len(r.Results) != len(cfg.Scenarios) {
		t.Errorf("run = %+v", r)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	cfg := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newSim(t, cfg, sim.DefaultOptions()).Run(ctx, Mode{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func flipBaselinePixel(t *testing.T, s *baseline.Store, name string, x, y int) {
	t.Helper()
	a, err := s.Load(name)
	if err != nil {
		t.Fatal(err)
	}
	c := a.Image.NRGBAAt(x, y)
	v := uint8(255)
	if (int(c.R)+int(c.G)+int(c.B))/3 > 127 {
		v = 0
	}
	a.Image.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
	if err := s.Update(name, a); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	out := map[string][]byte{}
	for _, e := range ents {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = b
	}
	if len(out) == 0 {
		t.Fatal("no captures")
	}
	return out
}

func TestRun_ZeroThresholdFailsAnyChange(t *testing.T) {
	cfg := setup(t)
	p := newSim(t, cfg, sim.DefaultOptions())
	ctx := context.Background()
	if _, err := p.Run(ctx, Mode{WriteBaseline: true}); err != nil {
		t.Fatal(err)
	}
	store, err := baseline.Open(cfg.VisualDir)
	if err != nil {
		t.Fatal(err)
	}
	flipBaselinePixel(t, store, "stand", 3, 3)

	// One pixel of 160x60 is far below the default threshold.
	rep, err := p.Run(ctx, Mode{})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Passed() {
		t.Fatalf("default threshold: %+v", rep.Failures())
	}

	zero := 0.0
	cfg.Threshold = &zero
	rep, err = p.Run(ctx, Mode{})
	if err != nil {
		t.Fatal(err)
	}
	f := rep.Failures()
	if len(f) != 1 || f[0].Scenario != "stand" || f[0].Threshold != 0 {
		t.Fatalf("zero threshold failures = %+v", f)
	}
}
