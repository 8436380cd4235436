// Package registry maps asset type names to the components that make them
// up and builds mediators for new asset instances.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"stagesync/internal/config"
	"stagesync/internal/mediator"
	"stagesync/internal/property"
)

var (
	ErrUnknownAssetType  = errors.New("unknown asset type")
	ErrUnknownComponent  = errors.New("unknown component kind")
	ErrAlreadyRegistered = errors.New("already registered")
)

// Factory returns a fresh component instance; components are never shared
// between assets.
type Factory func() mediator.Component

type AssetType struct {
	Name       string
	Components []string
	// Properties are declared on top of the components' own properties.
	Properties []property.Definition
}

type Registry struct {
	factories map[string]Factory
	types     map[string]AssetType
}

func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		types:     make(map[string]AssetType),
	}
}

func (r *Registry) RegisterComponent(kind string, factory Factory) error {
	key := strings.ToLower(kind)
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("component %s: %w", kind, ErrAlreadyRegistered)
	}
	r.factories[key] = factory
	return nil
}

func (r *Registry) RegisterAssetType(assetType AssetType) error {
	key := strings.ToLower(assetType.Name)
	if key == "" {
		return fmt.Errorf("asset type name is required")
	}
	if _, exists := r.types[key]; exists {
		return fmt.Errorf("asset type %s: %w", assetType.Name, ErrAlreadyRegistered)
	}
	for _, kind := range assetType.Components {
		if _, ok := r.factories[strings.ToLower(kind)]; !ok {
			return fmt.Errorf("asset type %s: %w: %s", assetType.Name, ErrUnknownComponent, kind)
		}
	}
	for _, def := range assetType.Properties {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("asset type %s: %w", assetType.Name, err)
		}
	}
	r.types[key] = assetType
	return nil
}

// LoadCatalog registers every asset type of the catalog.
func (r *Registry) LoadCatalog(catalog *config.Catalog) error {
	for i := range catalog.AssetTypes {
		entry := &catalog.AssetTypes[i]
		defs, err := entry.Definitions()
		if err != nil {
			return err
		}
		err = r.RegisterAssetType(AssetType{
			Name:       entry.Name,
			Components: entry.Components,
			Properties: defs,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) AssetType(name string) (AssetType, bool) {
	assetType, ok := r.types[strings.ToLower(name)]
	return assetType, ok
}

func (r *Registry) AssetTypes() []string {
	names := make([]string, 0, len(r.types))
	for _, assetType := range r.types {
		names = append(names, assetType.Name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ComponentKinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Definitions lists every property an instance of the asset type carries,
// component properties first.
func (r *Registry) Definitions(name string) ([]property.Definition, error) {
	assetType, ok := r.AssetType(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssetType, name)
	}
	var defs []property.Definition
	for _, kind := range assetType.Components {
		component := r.factories[strings.ToLower(kind)]()
		if staged, ok := component.(mediator.HasStagedProperties); ok {
			defs = append(defs, staged.Definitions()...)
		}
	}
	return append(defs, assetType.Properties...), nil
}

// Build instantiates an asset: a mediator with every component of the type
// attached and registration sealed.
func (r *Registry) Build(assetID, typeName string, stages []property.StageID, logger *slog.Logger) (*mediator.Mediator, error) {
	assetType, ok := r.AssetType(typeName)
	if !ok {
		return nil, fmt.Errorf("building %s: %w: %s", assetID, ErrUnknownAssetType, typeName)
	}
	m := mediator.New(assetID, assetType.Name, stages, logger)
	for _, kind := range assetType.Components {
		factory := r.factories[strings.ToLower(kind)]
		if err := m.Attach(factory()); err != nil {
			return nil, fmt.Errorf("building %s: %w", assetID, err)
		}
	}
	if len(assetType.Properties) > 0 {
		if err := m.Attach(&dataComponent{defs: assetType.Properties}); err != nil {
			return nil, fmt.Errorf("building %s: %w", assetID, err)
		}
	}
	m.Seal()
	return m, nil
}

// dataComponent carries catalog-declared properties that no behaviour
// component owns.
type dataComponent struct {
	defs []property.Definition
}

func (d *dataComponent) Kind() string { return "data" }

func (d *dataComponent) Definitions() []property.Definition { return d.defs }

func (d *dataComponent) Bind(*mediator.Binder) error { return nil }
