package scenario

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// recorder is a Driver that logs every debug-surface call.
type recorder struct {
	calls   []string
	failOn  string
	capture image.Image
}

func (r *recorder) do(call string) error {
	r.calls = append(r.calls, call)
	if r.failOn != "" && strings.HasPrefix(call, r.failOn) {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) Reset(context.Context) error          { return r.do("reset") }
func (r *recorder) BeginRun(context.Context) error       { return r.do("beginRun") }
func (r *recorder) AdvanceOneTick(context.Context) error { return r.do("tick") }
func (r *recorder) Render(context.Context) error         { return r.do("render") }
func (r *recorder) SetInput(_ context.Context, in Input) error {
	return r.do(fmt.Sprintf("input up=%v down=%v", in["up"], in["down"]))
}
func (r *recorder) SetState(_ context.Context, st State) error {
	return r.do(fmt.Sprintf("state %d", len(st)))
}
func (r *recorder) Capture(_ context.Context, region string) (image.Image, error) {
	if err := r.do("capture " + region); err != nil {
		return nil, err
	}
	if r.capture != nil {
		return r.capture, nil
	}
	return image.NewNRGBA(image.Rect(0, 0, 2, 2)), nil
}

func newOrchestrator(t *testing.T, list []Scenario) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(list, WithSettle(0))
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestDefaults_OrderAndValidity(t *testing.T) {
	list := Defaults()
	if err := Validate(list); err != nil {
		t.Fatal(err)
	}
	if got, want := Names(list), []string{"stand", "run", "jump", "duck"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("default order: got %v, want %v", got, want)
	}
}

func TestExecute_StandSequence(t *testing.T) {
	o := newOrchestrator(t, Defaults())
	r := &recorder{}
	if _, err := o.Execute(context.Background(), r, Defaults()[0]); err != nil {
		t.Fatal(err)
	}
	want := []string{"reset", "input up=false down=false", "state 4", "render", "capture #game"}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("stand calls:\n got %v\nwant %v", r.calls, want)
	}
}

func TestExecute_JumpSequence(t *testing.T) {
	o := newOrchestrator(t, Defaults())
	r := &recorder{}
	if _, err := o.Execute(context.Background(), r, Defaults()[2]); err != nil {
		t.Fatal(err)
	}
	want := []string{"reset", "beginRun", "input up=true down=false", "tick",
		"input up=false down=false"}
	for i := 0; i < 7; i++ {
		want = append(want, "tick")
	}
	want = append(want, "render", "capture #game")
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("jump calls:\n got %v\nwant %v", r.calls, want)
	}
}

func TestRun_DeclaredOrder(t *testing.T) {
	list := []Scenario{
		{Name: "zeta", Region: "#a"},
		{Name: "alpha", Region: "#b"},
		{Name: "mid"},
	}
	o := newOrchestrator(t, list)
	r := &recorder{}
	var got []string
	err := o.Run(context.Background(), r, func(name string, img image.Image) error {
		got = append(got, name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"zeta", "alpha", "mid"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("capture order: got %v, want %v", got, want)
	}
	var regions []string
	for _, c := range r.calls {
		if strings.HasPrefix(c, "capture ") {
			regions = append(regions, strings.TrimPrefix(c, "capture "))
		}
	}
	if want := []string{"#a", "#b", "#game"}; !reflect.DeepEqual(regions, want) {
		t.Fatalf("regions: got %v", regions)
	}
}

func TestRun_AbortsOnFirstError(t *testing.T) {
	o := newOrchestrator(t, Defaults())
	r := &recorder{failOn: "beginRun"}
	var captured []string
	err := o.Run(context.Background(), r, func(name string, img image.Image) error {
		captured = append(captured, name)
		return nil
	})
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if se.Scenario != "run" || se.Step != "begin run" {
		t.Fatalf("step error: %+v", se)
	}
	if !reflect.DeepEqual(captured, []string{"stand"}) {
		t.Fatalf("captured before abort: %v", captured)
	}
}

func TestRun_SinkErrorAborts(t *testing.T) {
	o := newOrchestrator(t, Defaults())
	disk := errors.New("disk full")
	err := o.Run(context.Background(), &recorder{}, func(string, image.Image) error { return disk })
	if !errors.Is(err, disk) {
		t.Fatalf("got %v", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	o := newOrchestrator(t, Defaults())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &recorder{}
	err := o.Run(ctx, r, func(string, image.Image) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("driver called after cancel: %v", r.calls)
	}
}

func TestNewOrchestrator_CopiesList(t *testing.T) {
	list := Defaults()
	o := newOrchestrator(t, list)
	list[0].Name = "mutated"
	if o.Names()[0] != "stand" {
		t.Fatal("orchestrator shares caller's slice")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		list []Scenario
		want string
	}{
		{"empty", nil, "no scenarios"},
		{"unnamed", []Scenario{{}}, "no name"},
		{"path", []Scenario{{Name: "a/b"}}, "invalid name"},
		{"dup", []Scenario{{Name: "a"}, {Name: "a"}}, "duplicate"},
		{"ticks", []Scenario{{Name: "a", Actions: []Action{Advance(0)}}}, "ticks > 0"},
		{"kind", []Scenario{{Name: "a", Actions: []Action{{Kind: "jump"}}}}, "unknown action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.list)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile_PreservesOrder(t *testing.T) {
	doc := `
- name: duck
  begin_run: true
  actions:
    - kind: set_input
      input: {down: true}
    - kind: advance
      ticks: 4
- name: stand
  region: "#canvas"
  actions:
    - kind: set_state
      state: {running: false, score: 0}
`
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := Names(list); !reflect.DeepEqual(got, []string{"duck", "stand"}) {
		t.Fatalf("order: %v", got)
	}
	if !list[0].BeginRun || list[0].Actions[1].Ticks != 4 || !list[0].Actions[0].Input["down"] {
		t.Fatalf("duck decoded wrong: %+v", list[0])
	}
	if list[1].CaptureRegion() != "#canvas" || list[1].Actions[0].State["running"] != false {
		t.Fatalf("stand decoded wrong: %+v", list[1])
	}
	if list[0].CaptureRegion() != DefaultRegion {
		t.Fatalf("default region: %q", list[0].CaptureRegion())
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("- name: a\n- name: a\n")); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := Parse([]byte("{not a list")); err == nil {
		t.Fatal("expected parse error")
	}
}
