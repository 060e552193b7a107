// Package config holds the visreg configuration, read from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/visreg/imgdiff"
	"github.com/hazyhaar/visreg/scenario"
	"github.com/hazyhaar/visreg/seeded"
	"github.com/hazyhaar/visreg/staticsrv"
	"github.com/hazyhaar/visreg/verdict"
)

// Config is the top-level configuration.
type Config struct {
	// Root is the directory served to the browser.
	Root string `yaml:"root"`
	// Entry is the page loaded, relative to Root. It must exist.
	Entry string `yaml:"entry"`
	// VisualDir holds current/, baseline/ and diff/.
	VisualDir string `yaml:"visual_dir"`
	History   HistoryConfig `yaml:"history"`

	// Threshold and Cutoff are pointers so an explicit 0 (zero tolerance)
	// survives defaulting. Both are non-nil after Default or LoadFile.
	Threshold *float64 `yaml:"threshold"`
	Cutoff    *int     `yaml:"cutoff"`
	Reduction string   `yaml:"reduction"` // luma | max
	Seed      uint32   `yaml:"seed"`

	Server    ServerConfig        `yaml:"server"`
	Browser   BrowserConfig       `yaml:"browser"`
	Surface   SurfaceConfig       `yaml:"surface"`
	Scenarios []scenario.Scenario `yaml:"scenarios"`
}

// HistoryConfig locates the SQLite run ledger. An empty Path disables it.
type HistoryConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Synchronous string        `yaml:"synchronous"` // OFF | NORMAL | FULL | EXTRA
}

// ServerConfig controls the static server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BrowserConfig controls Chrome and the page.
type BrowserConfig struct {
	Remote   string `yaml:"remote"` // ws:// URL of an external Chrome
	Bin      string `yaml:"bin"`
	Headless *bool  `yaml:"headless"`
	Stealth  bool   `yaml:"stealth"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	LoadTimeout     time.Duration `yaml:"load_timeout"`
	IdleWindow      time.Duration `yaml:"idle_window"`
	SettleAfterLoad time.Duration `yaml:"settle_after_load"`
	SettleCapture   time.Duration `yaml:"settle_capture"`
	EvalTimeout     time.Duration `yaml:"eval_timeout"`
}

// SurfaceConfig maps the debug surface onto the page's debug object.
type SurfaceConfig struct {
	Object         string `yaml:"object"`
	Reset          string `yaml:"reset"`
	SetInput       string `yaml:"set_input"`
	SetState       string `yaml:"set_state"`
	AdvanceOneTick string `yaml:"advance_one_tick"`
	Render         string `yaml:"render"`
	BeginRun       string `yaml:"begin_run"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file, applies defaults and validates.
// Relative paths are resolved against the file's directory.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Entry == "" {
		c.Entry = "app/index.html"
	}
	if c.VisualDir == "" {
		c.VisualDir = "visual"
	}
	if c.Threshold == nil {
		t := verdict.DefaultThreshold
		c.Threshold = &t
	}
	if c.Cutoff == nil {
		n := imgdiff.DefaultCutoff
		c.Cutoff = &n
	}
	if c.Reduction == "" {
		c.Reduction = "luma"
	}
	if c.Seed == 0 {
		c.Seed = seeded.DefaultSeed
	}
	if c.History.BusyTimeout <= 0 {
		c.History.BusyTimeout = 10 * time.Second
	}
	if c.History.Synchronous == "" {
		c.History.Synchronous = "NORMAL"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = staticsrv.DefaultAddr
	}

	b := &c.Browser
	if b.Headless == nil {
		t := true
		b.Headless = &t
	}
	if b.ViewportWidth <= 0 {
		b.ViewportWidth = 1280
	}
	if b.ViewportHeight <= 0 {
		b.ViewportHeight = 560
	}
	if b.LoadTimeout <= 0 {
		b.LoadTimeout = 30 * time.Second
	}
	if b.IdleWindow <= 0 {
		b.IdleWindow = 500 * time.Millisecond
	}
	if b.SettleAfterLoad <= 0 {
		b.SettleAfterLoad = 250 * time.Millisecond
	}
	if b.SettleCapture <= 0 {
		b.SettleCapture = scenario.DefaultSettle
	}
	if b.EvalTimeout <= 0 {
		b.EvalTimeout = 10 * time.Second
	}

	s := &c.Surface
	setDefault(&s.Object, "__dinoDebug")
	setDefault(&s.Reset, "restart")
	setDefault(&s.SetInput, "setInput")
	setDefault(&s.SetState, "setState")
	setDefault(&s.AdvanceOneTick, "update")
	setDefault(&s.Render, "render")
	setDefault(&s.BeginRun, "beginGame")

	if len(c.Scenarios) == 0 {
		c.Scenarios = scenario.Defaults()
	}
}

func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Root, &c.VisualDir, &c.History.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks ranges and the scenario list.
func (c *Config) Validate() error {
	if c.Threshold == nil || c.Cutoff == nil {
		return errors.New("config: threshold and cutoff must be set")
	}
	if th := *c.Threshold; th < 0 || th > 1 {
		return fmt.Errorf("config: threshold %v outside [0,1]", th)
	}
	if n := *c.Cutoff; n < 0 || n > 255 {
		return fmt.Errorf("config: cutoff %d outside [0,255]", n)
	}
	switch strings.ToUpper(c.History.Synchronous) {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: history synchronous %q not one of OFF, NORMAL, FULL, EXTRA", c.History.Synchronous)
	}
	if _, err := imgdiff.ParseReduction(c.Reduction); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := scenario.Validate(c.Scenarios); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CompareOptions returns the comparator settings.
func (c *Config) CompareOptions() imgdiff.Options {
	r, _ := imgdiff.ParseReduction(c.Reduction)
	o := imgdiff.Options{Cutoff: imgdiff.DefaultCutoff, Reduce: r}
	if c.Cutoff != nil {
		o.Cutoff = *c.Cutoff
	}
	return o
}

// ThresholdValue returns the configured threshold, the default when unset.
func (c *Config) ThresholdValue() float64 {
	if c.Threshold == nil {
		return verdict.DefaultThreshold
	}
	return *c.Threshold
}

// EntryPath returns the absolute-or-relative filesystem path of Entry.
func (c *Config) EntryPath() string {
	return filepath.Join(c.Root, filepath.FromSlash(c.Entry))
}

func setDefault(p *string, v string) {
	if *p == "" {
		*p = v
	}
}
