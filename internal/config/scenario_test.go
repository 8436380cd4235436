package config

import (
	"path/filepath"
	"testing"
)

func TestLoadScenario(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "valid_scenario.yaml"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	stages := scenario.StageIDs()
	if len(stages) != 3 || stages[0] != "intro" || stages[2] != "outro" {
		t.Fatalf("unexpected stages %v", stages)
	}
	door := scenario.Assets[0]
	if door.Authority.Policy != "allow_set" || len(door.Authority.Allow) != 1 {
		t.Fatalf("unexpected authority %+v", door.Authority)
	}
	if door.Overrides["outro"]["opacity"] != 0.25 {
		t.Fatalf("unexpected override %v", door.Overrides)
	}
	if !scenario.HasStage("walkthrough") || scenario.HasStage("finale") {
		t.Fatalf("HasStage mismatch")
	}
}

func TestParseScenarioErrors(t *testing.T) {
	cases := map[string]string{
		"no stages":          "version: 1\nstages: []\n",
		"duplicate stage":    "version: 1\nstages:\n  - id: a\n  - id: a\n",
		"empty stage id":     "version: 1\nstages:\n  - title: nameless\n",
		"asset without id":   "version: 1\nstages:\n  - id: a\nassets:\n  - type: door\n",
		"asset without type": "version: 1\nstages:\n  - id: a\nassets:\n  - id: d\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseScenario([]byte(contents)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
