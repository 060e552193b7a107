// Package baseline manages the three artifact directories of a visual run:
//
//	current/   captures of this run, emptied at the start of every run
//	baseline/  accepted references, changed only by Update or Promote
//	diff/      overlays of scenarios whose latest comparison found changes
//
// Every artifact is "<scenario>.png". Artifacts of different scenarios are
// independent files.
package baseline

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/visreg/imgdiff"
)

// ErrMissing is returned when an artifact does not exist.
var ErrMissing = errors.New("baseline: artifact missing")

const ext = ".png"

// Artifact is one decoded capture or baseline.
type Artifact struct {
	Name  string
	Image *image.NRGBA
}

// Width of the artifact in pixels.
func (a *Artifact) Width() int { return a.Image.Rect.Dx() }

// Height of the artifact in pixels.
func (a *Artifact) Height() int { return a.Image.Rect.Dy() }

// Store is rooted at a visual directory.
type Store struct {
	current  string
	baseline string
	diff     string
}

// Open creates the three directories under root if needed.
func Open(root string) (*Store, error) {
	s := &Store{
		current:  filepath.Join(root, "current"),
		baseline: filepath.Join(root, "baseline"),
		diff:     filepath.Join(root, "diff"),
	}
	for _, d := range []string{s.current, s.baseline, s.diff} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("baseline: mkdir %s: %w", d, err)
		}
	}
	return s, nil
}

// CurrentDir returns the directory holding this run's captures.
func (s *Store) CurrentDir() string { return s.current }

// BaselineDir returns the directory holding accepted references.
func (s *Store) BaselineDir() string { return s.baseline }

// DiffDir returns the directory holding diff overlays.
func (s *Store) DiffDir() string { return s.diff }

// CurrentPath returns the capture path for name.
func (s *Store) CurrentPath(name string) string { return filepath.Join(s.current, name+ext) }

// BaselinePath returns the baseline path for name.
func (s *Store) BaselinePath(name string) string { return filepath.Join(s.baseline, name+ext) }

// DiffPath returns the overlay path for name.
func (s *Store) DiffPath(name string) string { return filepath.Join(s.diff, name+ext) }

// ResetCurrent removes every capture so nothing from a previous run survives.
func (s *Store) ResetCurrent() error {
	return removePNGs(s.current, nil)
}

// SaveCurrent writes a capture, replacing any earlier file for name.
func (s *Store) SaveCurrent(name string, img image.Image) error {
	if err := checkName(name); err != nil {
		return err
	}
	return writePNG(s.CurrentPath(name), img)
}

// LoadCurrent reads the capture for name.
func (s *Store) LoadCurrent(name string) (*Artifact, error) {
	return load(s.CurrentPath(name), name)
}

// Load reads the baseline for name. ErrMissing when there is none.
func (s *Store) Load(name string) (*Artifact, error) {
	return load(s.BaselinePath(name), name)
}

// Update overwrites the baseline for name with a. This is the only path that
// writes baselines besides Promote; checks never call it.
func (s *Store) Update(name string, a *Artifact) error {
	if err := checkName(name); err != nil {
		return err
	}
	if a == nil || a.Image == nil {
		return fmt.Errorf("baseline: update %s: nil artifact", name)
	}
	return writePNG(s.BaselinePath(name), a.Image)
}

// Promote copies the current capture for name into the baseline store
// byte for byte.
func (s *Store) Promote(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := os.ReadFile(s.CurrentPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("baseline: promote %s: %w", name, ErrMissing)
	}
	if err != nil {
		return fmt.Errorf("baseline: promote %s: %w", name, err)
	}
	return writeFile(s.BaselinePath(name), data)
}

// WriteDiff stores the overlay for name.
func (s *Store) WriteDiff(name string, overlay image.Image) error {
	if err := checkName(name); err != nil {
		return err
	}
	return writePNG(s.DiffPath(name), overlay)
}

// RemoveDiff deletes a stale overlay. A missing file is not an error.
func (s *Store) RemoveDiff(name string) error {
	err := os.Remove(s.DiffPath(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("baseline: remove diff %s: %w", name, err)
	}
	return nil
}

// PruneDiffs removes overlays whose scenario is not in declared.
func (s *Store) PruneDiffs(declared []string) error {
	keep := make(map[string]bool, len(declared))
	for _, n := range declared {
		keep[n] = true
	}
	return removePNGs(s.diff, keep)
}

// Names lists the baselines present on disk, sorted.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	return names, nil
}

func load(path, name string) (*Artifact, error) {
	img, err := imgdiff.ReadPNG(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("baseline: %s: %w", path, ErrMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("baseline: read %s: %w", path, err)
	}
	return &Artifact{Name: name, Image: img}, nil
}

func removePNGs(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return fmt.Errorf("baseline: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, ext) || keep[strings.TrimSuffix(n, ext)] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("baseline: remove %s: %w", n, err)
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	data, err := imgdiff.EncodePNG(img)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path atomically through a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*"+ext)
	if err != nil {
		return fmt.Errorf("baseline: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("baseline: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("baseline: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("baseline: rename %s: %w", path, err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("baseline: invalid artifact name %q", name)
	}
	return nil
}
