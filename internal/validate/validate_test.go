package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"stagesync/internal/components"
	"stagesync/internal/config"
	"stagesync/internal/registry"
	"stagesync/internal/roomstate"
	"stagesync/internal/store"
)

const testCatalog = `version: 1
asset_types:
  - name: door
    components: [transform, visibility]
    properties:
      - { name: locked, type: bool, default: true, editable: true }
      - { name: hinge, type: vector3 }
`

func TestRun_CleanScenario(t *testing.T) {
	reg := loadRegistry(t, testCatalog)
	sc := loadScenario(t, `version: 1
stages:
  - id: intro
  - id: outro
assets:
  - id: front-door
    type: door
    authority: { policy: allow_set, allow: [alice] }
    values:
      locked: false
      position: { x: 1, y: 0, z: 2 }
    overrides:
      outro: { opacity: 0.5 }
`)

	report, err := Run(context.Background(), reg, sc, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", report.Issues)
	}
	if report.HasErrors() {
		t.Fatalf("clean report must not have errors")
	}
}

func TestRun_AssetIssues(t *testing.T) {
	reg := loadRegistry(t, testCatalog)
	sc := loadScenario(t, `version: 1
stages:
  - id: intro
assets:
  - id: front-door
    type: door
    authority: { policy: allow_set }
    values:
      locked: "nope"
      hinge: [0, 1, 0]
      squeak: true
    overrides:
      finale: { opacity: 0 }
  - id: front-door
    type: door
  - id: window
    type: window
  - id: gate
    type: door
    authority: { policy: everyone }
`)

	report, err := Run(context.Background(), reg, sc, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, code := range []string{
		codeEmptyAllowSet,
		codeInvalidValue,
		codeNotAuthorEditable,
		codeUnknownProperty,
		codeUnknownStage,
		codeDuplicateAsset,
		codeUnknownAssetType,
		codeInvalidPolicy,
	} {
		if !hasIssueCode(report.Issues, code) {
			t.Fatalf("expected %s issue, got %+v", code, report.Issues)
		}
	}
	if !report.HasErrors() {
		t.Fatalf("expected errors")
	}
}

func TestRun_WarningsOnly(t *testing.T) {
	reg := loadRegistry(t, testCatalog)
	sc := loadScenario(t, `version: 1
stages:
  - id: intro
assets:
  - id: front-door
    type: door
    values:
      hinge: { x: 0, y: 1, z: 0 }
`)

	report, err := Run(context.Background(), reg, sc, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Issues, codeNotAuthorEditable) {
		t.Fatalf("expected not editable warning")
	}
	if report.HasErrors() {
		t.Fatalf("warnings must not count as errors")
	}
}

func TestRun_OrphanedHandle(t *testing.T) {
	reg := loadRegistry(t, testCatalog)
	sc := loadScenario(t, `version: 1
stages:
  - id: intro
assets:
  - id: front-door
    type: door
`)

	ctx := context.Background()
	room := store.Room(store.NewMemory(), "rehearsal")
	if err := room.Set(ctx, roomstate.Key("front-door"), "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := room.Set(ctx, roomstate.Key("trapdoor"), "2"); err != nil {
		t.Fatalf("set: %v", err)
	}

	report, err := Run(ctx, reg, sc, room)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Code != codeOrphanedHandle || report.Issues[0].Asset != "trapdoor" {
		t.Fatalf("expected one orphaned handle issue, got %+v", report.Issues)
	}
}

func hasIssueCode(issues []Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func loadRegistry(t *testing.T, contents string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog, err := config.LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	reg := registry.New()
	if err := components.Register(reg); err != nil {
		t.Fatalf("register components: %v", err)
	}
	if err := reg.LoadCatalog(catalog); err != nil {
		t.Fatalf("load catalog into registry: %v", err)
	}
	return reg
}

func loadScenario(t *testing.T, contents string) *config.Scenario {
	t.Helper()
	sc, err := config.ParseScenario([]byte(contents))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return sc
}
