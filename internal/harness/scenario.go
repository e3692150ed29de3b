package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scripted sync run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Coordinator tunes the coordinator under test.
	Coordinator CoordinatorSpec `yaml:"coordinator,omitempty"`

	// Steps run in order. Each step is exactly one action.
	Steps []Step `yaml:"steps"`

	// Expect lists trace expectations checked after the run.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// CoordinatorSpec carries the coordinator knobs a scenario may override.
// Zero values keep the coordinator defaults.
type CoordinatorSpec struct {
	DebounceMs  int    `yaml:"debounce_ms,omitempty"`
	HeartbeatMs int    `yaml:"heartbeat_ms,omitempty"`
	IgnoreOwn   *bool  `yaml:"ignore_own,omitempty"`
	Origin      string `yaml:"origin,omitempty"`
}

// Step is one scenario action: either advance the fake clock or publish an
// event. Exactly one field must be set.
type Step struct {
	// Advance moves the fake clock forward by the given duration
	// (e.g. "200ms"), firing any timers that come due.
	Advance string `yaml:"advance,omitempty"`

	// Publish writes one event to the shared mailbox.
	Publish *PublishStep `yaml:"publish,omitempty"`
}

// PublishStep publishes an event from the coordinator ("self") or from a
// named peer context. Peers are created on first use with a stable origin
// id equal to their name.
type PublishStep struct {
	From string         `yaml:"from"`
	Type string         `yaml:"type"`
	Data map[string]any `yaml:"data,omitempty"`
}

// Expectation asserts how many trace entries match a direction and type.
type Expectation struct {
	// Direction defaults to "dispatched".
	Direction string `yaml:"direction,omitempty"`
	Type      string `yaml:"type"`
	Count     int    `yaml:"count"`
}

// PublisherSelf publishes through the coordinator under test.
const PublisherSelf = "self"

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as load errors instead of silently ignored
// steps.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, exp := range s.Expect {
		if exp.Type == "" {
			return fmt.Errorf("expect[%d]: type is required", i)
		}
		if exp.Count < 0 {
			return fmt.Errorf("expect[%d]: count must be non-negative", i)
		}
	}

	return nil
}

func validateStep(index int, step *Step) error {
	hasAdvance := step.Advance != ""
	hasPublish := step.Publish != nil

	if hasAdvance == hasPublish {
		return fmt.Errorf("steps[%d]: exactly one of advance or publish is required", index)
	}

	if hasAdvance {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: bad advance duration: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
		return nil
	}

	if step.Publish.From == "" {
		return fmt.Errorf("steps[%d].publish: from is required", index)
	}
	if step.Publish.Type == "" {
		return fmt.Errorf("steps[%d].publish: type is required", index)
	}
	return nil
}
