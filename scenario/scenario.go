// Package scenario describes the named visual states of a target and drives a
// target into them, one after another, through its debug control surface.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRegion is the capture selector when a scenario does not set one.
const DefaultRegion = "#game"

// Input holds simulated input flags, e.g. {"up": true}.
type Input map[string]bool

// State holds arbitrary state fields to overwrite on the target.
type State map[string]any

// ActionKind names one step of a scenario script.
type ActionKind string

const (
	ActSetInput ActionKind = "set_input"
	ActSetState ActionKind = "set_state"
	ActAdvance  ActionKind = "advance"
)

// Action is one scripted step. Only the field matching Kind is used.
type Action struct {
	Kind  ActionKind `yaml:"kind"`
	Input Input      `yaml:"input,omitempty"`
	State State      `yaml:"state,omitempty"`
	// Ticks is the number of AdvanceOneTick calls for ActAdvance.
	Ticks int `yaml:"ticks,omitempty"`
}

// SetInput builds an ActSetInput step.
func SetInput(in Input) Action { return Action{Kind: ActSetInput, Input: in} }

// SetState builds an ActSetState step.
func SetState(st State) Action { return Action{Kind: ActSetState, State: st} }

// Advance builds an ActAdvance step of n ticks.
func Advance(n int) Action { return Action{Kind: ActAdvance, Ticks: n} }

// Scenario is a named scripted interaction ending in one capture.
type Scenario struct {
	Name     string   `yaml:"name"`
	BeginRun bool     `yaml:"begin_run"`
	Actions  []Action `yaml:"actions"`
	Region   string   `yaml:"region,omitempty"`
}

// CaptureRegion returns Region or DefaultRegion.
func (s Scenario) CaptureRegion() string {
	if s.Region == "" {
		return DefaultRegion
	}
	return s.Region
}

// Defaults returns the built-in scenarios in execution order.
func Defaults() []Scenario {
	idle := Input{"up": false, "down": false}
	return []Scenario{
		{
			Name: "stand",
			Actions: []Action{
				SetInput(idle),
				SetState(State{"running": false, "gameOver": false, "score": 0, "tick": 0}),
			},
		},
		{
			Name:     "run",
			BeginRun: true,
			Actions:  []Action{SetInput(idle), Advance(14)},
		},
		{
			Name:     "jump",
			BeginRun: true,
			Actions: []Action{
				SetInput(Input{"up": true, "down": false}),
				Advance(1),
				SetInput(idle),
				Advance(7),
			},
		},
		{
			Name:     "duck",
			BeginRun: true,
			Actions:  []Action{SetInput(Input{"up": false, "down": true}), Advance(4)},
		},
	}
}

// Validate checks names are present, unique and usable as file names, and
// that every action is well formed.
func Validate(list []Scenario) error {
	if len(list) == 0 {
		return fmt.Errorf("scenario: no scenarios declared")
	}
	seen := make(map[string]bool, len(list))
	for i, sc := range list {
		if sc.Name == "" {
			return fmt.Errorf("scenario: #%d has no name", i)
		}
		if strings.ContainsAny(sc.Name, `/\ `) || sc.Name == "." || sc.Name == ".." {
			return fmt.Errorf("scenario: invalid name %q", sc.Name)
		}
		if seen[sc.Name] {
			return fmt.Errorf("scenario: duplicate name %q", sc.Name)
		}
		seen[sc.Name] = true
		for j, a := range sc.Actions {
			switch a.Kind {
			case ActSetInput, ActSetState:
			case ActAdvance:
				if a.Ticks <= 0 {
					return fmt.Errorf("scenario: %s step %d: advance needs ticks > 0", sc.Name, j)
				}
			default:
				return fmt.Errorf("scenario: %s step %d: unknown action %q", sc.Name, j, a.Kind)
			}
		}
	}
	return nil
}

// Names returns the scenario names in order.
func Names(list []Scenario) []string {
	out := make([]string, len(list))
	for i, sc := range list {
		out[i] = sc.Name
	}
	return out
}

// Parse decodes a YAML sequence of scenarios and validates it.
func Parse(data []byte) ([]Scenario, error) {
	var list []Scenario
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

// LoadFile reads scenarios from a YAML file.
func LoadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	return Parse(data)
}
