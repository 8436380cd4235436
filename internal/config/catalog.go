package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stagesync/internal/property"
)

// Catalog lists the asset types a room can instantiate.
type Catalog struct {
	Version    int         `yaml:"version"`
	AssetTypes []AssetType `yaml:"asset_types"`

	typeIndex map[string]*AssetType
}

type AssetType struct {
	Name       string         `yaml:"name"`
	Components []string       `yaml:"components"`
	Properties []PropertySpec `yaml:"properties"`
}

type PropertySpec struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Default      any    `yaml:"default"`
	Editable     bool   `yaml:"editable"`
	Interpolated bool   `yaml:"interpolated"`
}

func (p PropertySpec) Definition() (property.Definition, error) {
	valueType, err := property.ParseValueType(p.Type)
	if err != nil {
		return property.Definition{}, fmt.Errorf("property %s: %w", p.Name, err)
	}
	def := property.Definition{
		Name:             strings.TrimSpace(p.Name),
		Type:             valueType,
		Default:          p.Default,
		EditableByAuthor: p.Editable,
		Interpolated:     p.Interpolated,
	}
	if err := def.Validate(); err != nil {
		return property.Definition{}, err
	}
	return def, nil
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return catalog, nil
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}

	if err := validateCatalog(&catalog); err != nil {
		return nil, err
	}

	catalog.typeIndex = make(map[string]*AssetType)
	for i := range catalog.AssetTypes {
		assetType := &catalog.AssetTypes[i]
		catalog.typeIndex[strings.ToLower(assetType.Name)] = assetType
	}
	return &catalog, nil
}

func validateCatalog(c *Catalog) error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported version: %d", c.Version)
	}
	if len(c.AssetTypes) == 0 {
		return fmt.Errorf("at least one asset type is required")
	}

	typeNames := make(map[string]struct{})
	for i, assetType := range c.AssetTypes {
		if strings.TrimSpace(assetType.Name) == "" {
			return fmt.Errorf("asset type %d name is required", i)
		}
		key := strings.ToLower(assetType.Name)
		if _, exists := typeNames[key]; exists {
			return fmt.Errorf("duplicate asset type name: %s", assetType.Name)
		}
		typeNames[key] = struct{}{}

		kinds := make(map[string]struct{})
		for _, kind := range assetType.Components {
			kind = strings.ToLower(strings.TrimSpace(kind))
			if kind == "" {
				return fmt.Errorf("asset type %s has component with empty kind", assetType.Name)
			}
			if _, exists := kinds[kind]; exists {
				return fmt.Errorf("asset type %s lists component %s twice", assetType.Name, kind)
			}
			kinds[kind] = struct{}{}
		}

		propNames := make(map[string]struct{})
		for _, prop := range assetType.Properties {
			name := strings.TrimSpace(prop.Name)
			if name == "" {
				return fmt.Errorf("asset type %s has property with empty name", assetType.Name)
			}
			if _, exists := propNames[name]; exists {
				return fmt.Errorf("asset type %s has duplicate property: %s", assetType.Name, prop.Name)
			}
			propNames[name] = struct{}{}
			if _, err := prop.Definition(); err != nil {
				return fmt.Errorf("asset type %s: %w", assetType.Name, err)
			}
		}
	}

	return nil
}

func (c *Catalog) AssetTypeByName(name string) (*AssetType, bool) {
	if c == nil {
		return nil, false
	}
	assetType, ok := c.typeIndex[strings.ToLower(name)]
	return assetType, ok
}

func (c *Catalog) IsValidAssetType(name string) bool {
	_, ok := c.AssetTypeByName(name)
	return ok
}

// Definitions returns the catalog-declared properties of an asset type.
// Component-owned properties are not included.
func (a *AssetType) Definitions() ([]property.Definition, error) {
	defs := make([]property.Definition, 0, len(a.Properties))
	for _, prop := range a.Properties {
		def, err := prop.Definition()
		if err != nil {
			return nil, fmt.Errorf("asset type %s: %w", a.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
