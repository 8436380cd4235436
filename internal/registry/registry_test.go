package registry

import (
	"errors"
	"testing"

	"stagesync/internal/config"
	"stagesync/internal/mediator"
	"stagesync/internal/property"
)

type counter struct{}

func (c *counter) Kind() string { return "counter" }

func (c *counter) Definitions() []property.Definition {
	return []property.Definition{{Name: "count", Type: property.TypeInt}}
}

func (c *counter) Bind(b *mediator.Binder) error {
	return b.Method("Increment", func(...any) any {
		v, _ := b.Mediator().GetProperty("count")
		outcome, _ := b.Mediator().SetProperty("count", v.(int64)+1)
		return outcome.Value
	})
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	if err := r.RegisterComponent("counter", func() mediator.Component { return &counter{} }); err != nil {
		t.Fatalf("register component: %v", err)
	}
	return r
}

func TestRegisterAssetType(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("duplicate component", func(t *testing.T) {
		err := r.RegisterComponent("Counter", func() mediator.Component { return &counter{} })
		if !errors.Is(err, ErrAlreadyRegistered) {
			t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
		}
	})

	t.Run("unknown component", func(t *testing.T) {
		err := r.RegisterAssetType(AssetType{Name: "clock", Components: []string{"gears"}})
		if !errors.Is(err, ErrUnknownComponent) {
			t.Fatalf("expected ErrUnknownComponent, got %v", err)
		}
	})

	t.Run("invalid extra property", func(t *testing.T) {
		err := r.RegisterAssetType(AssetType{Name: "clock", Properties: []property.Definition{{Name: "tz", Type: "timezone"}}})
		if err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("registers once", func(t *testing.T) {
		if err := r.RegisterAssetType(AssetType{Name: "tally", Components: []string{"counter"}}); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := r.RegisterAssetType(AssetType{Name: "Tally"}); !errors.Is(err, ErrAlreadyRegistered) {
			t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
		}
	})
}

func TestBuild(t *testing.T) {
	r := newTestRegistry(t)
	err := r.RegisterAssetType(AssetType{
		Name:       "tally",
		Components: []string{"counter"},
		Properties: []property.Definition{{Name: "caption", Type: property.TypeString, Default: "visitors"}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	m, err := r.Build("tally-1", "TALLY", []property.StageID{"s1"}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !m.IsDataRegistrationComplete() {
		t.Fatalf("expected registration complete")
	}
	if got, ok := m.CallMethod("Increment"); !ok || got != int64(1) {
		t.Fatalf("Increment = %v, %v", got, ok)
	}
	if caption, _ := m.GetProperty("caption"); caption != "visitors" {
		t.Fatalf("unexpected caption %v", caption)
	}

	defs, err := r.Definitions("tally")
	if err != nil {
		t.Fatalf("definitions: %v", err)
	}
	if len(defs) != 2 || defs[0].Name != "count" || defs[1].Name != "caption" {
		t.Fatalf("unexpected definitions %+v", defs)
	}

	if _, err := r.Build("x", "ghost", nil, nil); !errors.Is(err, ErrUnknownAssetType) {
		t.Fatalf("expected ErrUnknownAssetType, got %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	r := newTestRegistry(t)
	catalog, err := config.ParseCatalog([]byte("version: 1\nasset_types:\n  - name: tally\n    components: [counter]\n    properties:\n      - { name: limit, type: int, default: 10 }\n"))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	if err := r.LoadCatalog(catalog); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	m, err := r.Build("t", "tally", nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if limit, _ := m.GetProperty("limit"); limit != int64(10) {
		t.Fatalf("unexpected limit %v", limit)
	}
	if names := r.AssetTypes(); len(names) != 1 || names[0] != "tally" {
		t.Fatalf("unexpected asset types %v", names)
	}
}
