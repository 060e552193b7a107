package verdict

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Report is the outcome of a check run.
type Report struct {
	Entries   []Entry
	Threshold float64
	DiffDir   string
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	for _, e := range r.Entries {
		if !e.Passed() {
			return false
		}
	}
	return true
}

// Failures returns the failing entries in declared order.
func (r *Report) Failures() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if !e.Passed() {
			out = append(out, e)
		}
	}
	return out
}

// ExitCode is 0 only when every scenario passed.
func (r *Report) ExitCode() int {
	if r.Passed() {
		return 0
	}
	return 1
}

// Write prints the per-scenario table, the banner and, on failure, the
// failure lines and the diff directory.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range r.Entries {
		verdict := "PASS"
		if !e.Passed() {
			verdict = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f%%\t%d/%d\n", e.Scenario, verdict, e.Ratio*100, e.Changed, e.Total)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Passed() {
		_, err := fmt.Fprintln(w, "[PASS] visual regression check")
		return err
	}
	fmt.Fprintln(w, "[FAIL] visual regression check")
	for _, e := range r.Failures() {
		fmt.Fprintln(w, " -", e.Detail())
	}
	_, err := fmt.Fprintf(w, "Diff images: %s\n", r.DiffDir)
	return err
}
