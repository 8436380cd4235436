// Package components holds the built-in asset behaviours.
package components

import (
	"stagesync/internal/registry"
)

// Register adds every built-in component to r.
func Register(r *registry.Registry) error {
	builtins := map[string]registry.Factory{
		KindTransform:  NewTransform,
		KindVisibility: NewVisibility,
		KindLabel:      NewLabel,
	}
	for kind, factory := range builtins {
		if err := r.RegisterComponent(kind, factory); err != nil {
			return err
		}
	}
	return nil
}
