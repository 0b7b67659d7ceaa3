// Package stress applies shock scenarios to portfolio factor exposures.
package stress

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultScenarioYAML []byte

// Severity buckets, mildest to worst.
const (
	SeverityBase     = "base"
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
	SeverityExtreme  = "extreme"
)

var validSeverities = map[string]bool{
	SeverityBase:     true,
	SeverityMild:     true,
	SeverityModerate: true,
	SeveritySevere:   true,
	SeverityExtreme:  true,
}

// Scenario is one shock definition. Shocks are fractional moves per factor,
// e.g. -0.10 for a 10% drawdown of the factor.
type Scenario struct {
	Name           string             `yaml:"name"`
	Category       string             `yaml:"category"`
	Severity       string             `yaml:"severity"`
	Active         bool               `yaml:"active"`
	Optional       bool               `yaml:"optional"`
	ShockedFactors map[string]float64 `yaml:"shocked_factors"`
}

// Library is the full scenario set.
type Library struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadLibrary reads the scenario library from path, or the embedded default
// library when path is empty.
func LoadLibrary(path string) (*Library, error) {
	data := defaultScenarioYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file: %w", err)
		}
	}

	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("failed to parse scenario library: %w", err)
	}
	if err := lib.Validate(); err != nil {
		return nil, err
	}
	return &lib, nil
}

// Validate rejects malformed scenarios.
func (l *Library) Validate() error {
	if len(l.Scenarios) == 0 {
		return fmt.Errorf("scenario library is empty")
	}
	seen := make(map[string]bool)
	for _, s := range l.Scenarios {
		if s.Name == "" {
			return fmt.Errorf("scenario with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate scenario name %q", s.Name)
		}
		seen[s.Name] = true
		if !validSeverities[s.Severity] {
			return fmt.Errorf("scenario %q has invalid severity %q", s.Name, s.Severity)
		}
		if len(s.ShockedFactors) == 0 {
			return fmt.Errorf("scenario %q shocks no factors", s.Name)
		}
	}
	return nil
}

// Active returns the scenarios that will run.
func (l *Library) Active() []Scenario {
	var out []Scenario
	for _, s := range l.Scenarios {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// SeverityMixWarnings checks the target severity distribution over active
// scenarios: at least 20% base, under 20% extreme. Violations are advisory.
func (l *Library) SeverityMixWarnings() []string {
	active := l.Active()
	if len(active) == 0 {
		return []string{"no active scenarios"}
	}

	counts := make(map[string]int)
	for _, s := range active {
		counts[s.Severity]++
	}
	total := float64(len(active))

	var warnings []string
	if float64(counts[SeverityBase])/total < 0.20 {
		warnings = append(warnings, fmt.Sprintf("base scenarios are %.0f%% of active set, target >= 20%%",
			100*float64(counts[SeverityBase])/total))
	}
	if float64(counts[SeverityExtreme])/total >= 0.20 {
		warnings = append(warnings, fmt.Sprintf("extreme scenarios are %.0f%% of active set, target < 20%%",
			100*float64(counts[SeverityExtreme])/total))
	}
	return warnings
}
