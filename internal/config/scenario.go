package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stagesync/internal/property"
)

// Scenario is an authored set of stages and the assets placed in them.
type Scenario struct {
	Version int         `yaml:"version"`
	Stages  []Stage     `yaml:"stages"`
	Assets  []AssetSpec `yaml:"assets"`
}

type Stage struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

type AssetSpec struct {
	ID        string        `yaml:"id"`
	Type      string        `yaml:"type"`
	Authority AuthoritySpec `yaml:"authority"`
	// Values are shared values, keyed by property name.
	Values map[string]any `yaml:"values"`
	// Overrides are per-stage values, keyed by stage then property name.
	Overrides map[string]map[string]any `yaml:"overrides"`
}

type AuthoritySpec struct {
	Policy string   `yaml:"policy"`
	Allow  []string `yaml:"allow"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario checks structure only. Cross-references against a catalog
// are the validate package's job.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Version != 1 {
		return fmt.Errorf("unsupported version: %d", s.Version)
	}
	if len(s.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]struct{})
	for i, stage := range s.Stages {
		if strings.TrimSpace(stage.ID) == "" {
			return fmt.Errorf("stage %d id is required", i)
		}
		if _, exists := seen[stage.ID]; exists {
			return fmt.Errorf("duplicate stage id: %s", stage.ID)
		}
		seen[stage.ID] = struct{}{}
	}
	for i, asset := range s.Assets {
		if strings.TrimSpace(asset.ID) == "" {
			return fmt.Errorf("asset %d id is required", i)
		}
		if strings.TrimSpace(asset.Type) == "" {
			return fmt.Errorf("asset %s type is required", asset.ID)
		}
	}
	return nil
}

func (s *Scenario) StageIDs() []property.StageID {
	out := make([]property.StageID, len(s.Stages))
	for i, stage := range s.Stages {
		out[i] = property.StageID(stage.ID)
	}
	return out
}

func (s *Scenario) HasStage(id string) bool {
	for _, stage := range s.Stages {
		if stage.ID == id {
			return true
		}
	}
	return false
}
