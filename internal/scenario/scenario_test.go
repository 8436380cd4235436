package scenario

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stagesync/internal/authority"
	"stagesync/internal/components"
	"stagesync/internal/config"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
	"stagesync/internal/registry"
	"stagesync/internal/relay"
	"stagesync/internal/session"
	"stagesync/internal/store"
)

const testCatalog = `
version: 1
asset_types:
  - name: door
    components: [transform, visibility]
    properties:
      - name: locked
        type: bool
        default: true
        editable: true
  - name: sign
    components: [label]
`

func testSession(t *testing.T) *session.Session {
	t.Helper()
	catalog, err := config.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	reg := registry.New()
	if err := components.Register(reg); err != nil {
		t.Fatalf("register components: %v", err)
	}
	if err := reg.LoadCatalog(catalog); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	loop := relay.NewLoopback("rehearsal", store.Room(store.NewMemory(), "rehearsal"), nil)
	tr, err := loop.Connect("host")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return session.New(tr, reg, session.Options{Stages: []property.StageID{"intro"}})
}

func testScenario(t *testing.T, doc string) *config.Scenario {
	t.Helper()
	sc, err := config.ParseScenario([]byte(doc))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return sc
}

func TestLoad_Basic(t *testing.T) {
	s := testSession(t)
	sc := testScenario(t, `
version: 1
stages:
  - id: intro
  - id: outro
assets:
  - id: front-door
    type: door
    authority:
      policy: allow_set
      allow: [alice]
    values:
      locked: false
      position: { x: 1, y: 0, z: 2 }
    overrides:
      outro:
        opacity: 0.25
  - id: welcome
    type: sign
    values:
      text: Welcome
`)

	result, err := Load(context.Background(), sc, s)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.AssetsLoaded != 2 || result.ValuesApplied != 3 || result.OverridesApplied != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := s.Stages(); len(got) != 2 || got[1] != "outro" {
		t.Fatalf("scenario stages must be added, got %v", got)
	}

	door, err := s.Asset("front-door")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if v, _ := door.Mediator.GetProperty("locked"); v != false {
		t.Fatalf("expected locked=false, got %v", v)
	}
	if v, _ := door.Mediator.GetProperty(components.PropPosition); v != (property.Vector3{X: 1, Z: 2}) {
		t.Fatalf("unexpected position %v", v)
	}
	if v, _ := door.Mediator.GetStageProperty("outro", components.PropOpacity); v != 0.25 {
		t.Fatalf("expected the outro override, got %v", v)
	}
	if v, _ := door.Mediator.GetStageProperty("intro", components.PropOpacity); v != 1.0 {
		t.Fatalf("intro keeps the shared opacity, got %v", v)
	}
	auth := door.Link.Authority()
	if auth.Policy() != authority.PolicyAllowSet || !auth.Contains("alice") {
		t.Fatalf("unexpected authority %+v", auth.State())
	}
}

func TestLoad_SkipsBrokenAssets(t *testing.T) {
	s := testSession(t)
	sc := testScenario(t, `
version: 1
stages:
  - id: intro
assets:
  - id: window
    type: window
  - id: gate
    type: door
    authority:
      policy: everyone
  - id: ghost
    type: door
    values:
      haunted: true
  - id: shout
    type: sign
    values:
      text: "`+strings.Repeat("a", components.MaxLabelLength+1)+`"
  - id: side-door
    type: door
    overrides:
      finale:
        locked: false
  - id: front-door
    type: door
  - id: front-door
    type: door
`)

	result, err := Load(context.Background(), sc, s)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.AssetsLoaded != 1 || result.AssetsSkipped != 6 {
		t.Fatalf("unexpected result %+v", result)
	}
	checks := []error{registry.ErrUnknownAssetType, nil, property.ErrPropertyNotFound, pipeline.ErrRejected, nil, session.ErrAssetExists}
	for i, want := range checks {
		if want != nil && !errors.Is(result.Errors[i], want) {
			t.Fatalf("error %d: expected %v, got %v", i, want, result.Errors[i])
		}
	}
	if got := s.Assets(); len(got) != 1 || got[0].ID != "front-door" {
		t.Fatalf("only the valid asset is instantiated, got %d", len(got))
	}
}

func TestLoad_ContextCancelled(t *testing.T) {
	s := testSession(t)
	sc := testScenario(t, `
version: 1
stages:
  - id: intro
assets:
  - id: front-door
    type: door
`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, sc, s); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAuthority(t *testing.T) {
	tests := []struct {
		name    string
		spec    config.AuthoritySpec
		want    authority.Policy
		wantErr bool
	}{
		{"empty is open", config.AuthoritySpec{}, authority.PolicyOpen, false},
		{"session owner only", config.AuthoritySpec{Policy: "session_owner_only"}, authority.PolicySessionOwnerOnly, false},
		{"allow set", config.AuthoritySpec{Policy: "allow_set", Allow: []string{"alice"}}, authority.PolicyAllowSet, false},
		{"unknown", config.AuthoritySpec{Policy: "everyone"}, authority.PolicyOpen, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := Authority(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authority() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && auth.Policy() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, auth.Policy())
			}
		})
	}
}
