package mediator

import (
	"fmt"

	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

// Component is one behaviour attached to an asset. Bind runs once, at
// attach time, and is where the component fills the dispatch tables.
type Component interface {
	Kind() string
	Bind(b *Binder) error
}

// HasStagedProperties is implemented by components that own staged data.
// Their definitions are declared before Bind runs.
type HasStagedProperties interface {
	Component
	Definitions() []property.Definition
}

// ParticipatesInPlaybackLifecycle is implemented by components that react
// when scenario playback switches stage.
type ParticipatesInPlaybackLifecycle interface {
	Component
	OnStageActivated(stage property.StageID)
}

// NetworkReplicated is implemented by components that care whether the
// local participant currently owns the asset.
type NetworkReplicated interface {
	Component
	OnOwnershipChanged(owned bool)
}

type Handler func(pipeline.Event)

type Method func(args ...any) any

// Binder is handed to Component.Bind.
type Binder struct {
	m        *Mediator
	kind     string
	deferred bool
	finished bool
}

func (b *Binder) Kind() string {
	return b.kind
}

func (b *Binder) Mediator() *Mediator {
	return b.m
}

func (b *Binder) Declare(defs ...property.Definition) error {
	for _, def := range defs {
		if err := b.m.data.Declare(def); err != nil {
			return fmt.Errorf("component %s: %w", b.kind, err)
		}
	}
	return nil
}

// OnChange installs the component's handler for a property. A component has
// at most one handler per property; a later call replaces the earlier one.
func (b *Binder) OnChange(name string, h Handler) error {
	if !b.m.data.Has(name) {
		return fmt.Errorf("component %s handler: %w: %s", b.kind, property.ErrPropertyNotFound, name)
	}
	handlers, ok := b.m.componentHandlers[name]
	if !ok {
		handlers = make(map[string]Handler)
		b.m.componentHandlers[name] = handlers
	}
	if _, exists := handlers[b.kind]; !exists {
		b.m.handlerOrder[name] = append(b.m.handlerOrder[name], b.kind)
	}
	handlers[b.kind] = h
	return nil
}

func (b *Binder) Method(name string, fn Method) error {
	if _, exists := b.m.methods[name]; exists {
		return fmt.Errorf("component %s: %w: %s", b.kind, ErrMethodExists, name)
	}
	b.m.methods[name] = fn
	return nil
}

func (b *Binder) Validate(name string, v pipeline.Validator) error {
	if err := b.m.pipeline.AddValidator(name, v); err != nil {
		return fmt.Errorf("component %s: %w", b.kind, err)
	}
	return nil
}

// Defer keeps the asset's registration open until the returned func is
// called, for components that finish declaring asynchronously.
func (b *Binder) Defer() func() {
	b.deferred = true
	return b.finish
}

func (b *Binder) finish() {
	if b.finished {
		return
	}
	b.finished = true
	b.m.pending--
}

// ReplicationFilter is implemented by components that can hold back
// outbound replication of their properties.
type ReplicationFilter interface {
	Component
	SuppressReplication(name string) bool
}
