// Package mediator is the per-asset entry point for property reads and
// writes, named method calls and change notifications. Callers never touch
// an asset's components or staged data directly.
package mediator

import (
	"errors"
	"fmt"
	"log/slog"

	"stagesync/internal/authority"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

var (
	ErrNotReady        = errors.New("asset data registration incomplete")
	ErrMethodExists    = errors.New("method already registered")
	ErrRegistrationEnd = errors.New("asset registration already sealed")
)

// Gate is the ownership view consulted before a local write reaches the
// pipeline.
type Gate interface {
	CanWrite() bool
	// Acquire requests ownership and runs apply once it is held. It returns
	// an error wrapping authority.ErrNotAuthorized when the local
	// participant may never own the asset.
	Acquire(apply func()) error
}

type HandlerID uint64

type observer struct {
	id      HandlerID
	handler Handler
}

type Mediator struct {
	assetID   string
	assetType string
	data      *property.Data
	pipeline  *pipeline.Pipeline
	logger    *slog.Logger

	components []Component
	pending    int
	sealed     bool

	componentHandlers map[string]map[string]Handler
	handlerOrder      map[string][]string
	observers         map[string][]observer
	nextID            HandlerID
	methods           map[string]Method

	gate      Gate
	active    property.StageID
	editStage property.StageID
}

func New(assetID, assetType string, stages []property.StageID, logger *slog.Logger) *Mediator {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mediator{
		assetID:           assetID,
		assetType:         assetType,
		data:              property.NewData(stages...),
		logger:            logger.With("asset", assetID),
		componentHandlers: make(map[string]map[string]Handler),
		handlerOrder:      make(map[string][]string),
		observers:         make(map[string][]observer),
		methods:           make(map[string]Method),
	}
	m.pipeline = pipeline.New(m.data, m.dispatch, m.logger)
	if len(stages) > 0 {
		m.active = stages[0]
	}
	return m
}

func (m *Mediator) AssetID() string   { return m.assetID }
func (m *Mediator) AssetType() string { return m.assetType }

// Attach declares the component's properties and lets it bind handlers,
// methods and validators. An error leaves the asset unusable; the caller
// is expected to discard it.
func (m *Mediator) Attach(c Component) error {
	if m.sealed {
		return fmt.Errorf("attaching %s: %w", c.Kind(), ErrRegistrationEnd)
	}
	if staged, ok := c.(HasStagedProperties); ok {
		for _, def := range staged.Definitions() {
			if err := m.data.Declare(def); err != nil {
				return fmt.Errorf("attaching %s: %w", c.Kind(), err)
			}
		}
	}
	b := &Binder{m: m, kind: c.Kind()}
	m.pending++
	if err := c.Bind(b); err != nil {
		b.finish()
		return fmt.Errorf("attaching %s: %w", c.Kind(), err)
	}
	if !b.deferred {
		b.finish()
	}
	m.components = append(m.components, c)
	return nil
}

// Seal closes attachment. Registration is complete once the asset is sealed
// and every deferred binder has finished.
func (m *Mediator) Seal() {
	m.sealed = true
}

func (m *Mediator) IsDataRegistrationComplete() bool {
	return m.sealed && m.pending == 0
}

func (m *Mediator) Components() []Component {
	out := make([]Component, len(m.components))
	copy(out, m.components)
	return out
}

func (m *Mediator) SetGate(g Gate) {
	m.gate = g
}

func (m *Mediator) Definitions() []property.Definition {
	return m.data.Definitions()
}

func (m *Mediator) Definition(name string) (property.Definition, error) {
	slot, err := m.data.Slot(name)
	if err != nil {
		return property.Definition{}, err
	}
	return slot.Definition(), nil
}

func (m *Mediator) Stages() []property.StageID {
	return m.data.Stages()
}

func (m *Mediator) ActiveStage() property.StageID {
	return m.active
}

// SetActiveStage switches playback and notifies lifecycle components.
func (m *Mediator) SetActiveStage(stage property.StageID) {
	m.active = stage
	for _, c := range m.components {
		if lifecycle, ok := c.(ParticipatesInPlaybackLifecycle); ok {
			lifecycle.OnStageActivated(stage)
		}
	}
}

// SetEditStage selects where SetProperty writes: an empty stage writes the
// shared value, any other stage writes that stage's override.
func (m *Mediator) SetEditStage(stage property.StageID) {
	m.editStage = stage
}

func (m *Mediator) EditStage() property.StageID {
	return m.editStage
}

func (m *Mediator) AddStage(stage property.StageID) {
	m.data.AddStage(stage)
}

// RemoveStage drops the stage from every property. Moving playback off a
// removed active stage is the caller's job.
func (m *Mediator) RemoveStage(stage property.StageID) {
	m.data.RemoveStage(stage)
	if m.editStage == stage {
		m.editStage = ""
	}
}

// GetProperty reads a property at the active stage, falling back to the
// shared value.
func (m *Mediator) GetProperty(name string) (any, error) {
	return m.GetStageProperty(m.active, name)
}

func (m *Mediator) GetStageProperty(stage property.StageID, name string) (any, error) {
	if !m.IsDataRegistrationComplete() {
		return nil, ErrNotReady
	}
	value, _, err := m.data.Value(stage, name, true)
	return value, err
}

func (m *Mediator) SharedValue(name string) (any, error) {
	slot, err := m.data.Slot(name)
	if err != nil {
		return nil, err
	}
	return slot.Shared(), nil
}

// SetProperty proposes a local mutation in the current edit context.
func (m *Mediator) SetProperty(name string, value any) (pipeline.Outcome, error) {
	return m.SetStageProperty(m.editStage, name, value)
}

// SetStageProperty proposes a local mutation of one stage's override, or of
// the shared value when stage is empty. Without ownership the mutation stays
// Proposed until ownership arrives; if ownership can never be granted it
// fails closed with a Rejected outcome.
func (m *Mediator) SetStageProperty(stage property.StageID, name string, value any) (pipeline.Outcome, error) {
	mutation := pipeline.Mutation{Property: name, Value: value, Stage: stage, Origin: pipeline.OriginLocal}
	if !m.IsDataRegistrationComplete() {
		return pipeline.Outcome{State: pipeline.StateProposed}, ErrNotReady
	}
	if !m.data.Has(name) {
		return pipeline.Outcome{State: pipeline.StateProposed}, fmt.Errorf("%w: %s", property.ErrPropertyNotFound, name)
	}
	if m.gate == nil || m.gate.CanWrite() {
		return m.pipeline.Propose(mutation)
	}

	err := m.gate.Acquire(func() {
		outcome, err := m.pipeline.Propose(mutation)
		if err != nil {
			m.logger.Error("deferred mutation failed", "property", name, "error", err)
			return
		}
		if outcome.State == pipeline.StateRejected {
			m.logger.Info("deferred mutation rejected", "property", name, "reason", outcome.Reason)
		}
	})
	if err != nil {
		if !errors.Is(err, authority.ErrNotAuthorized) {
			m.logger.Warn("ownership request failed", "property", name, "error", err)
		}
		return pipeline.Outcome{State: pipeline.StateRejected, Value: value, Reason: err.Error()}, nil
	}
	return pipeline.Outcome{State: pipeline.StateProposed, Value: value}, nil
}

// ApplyRemote runs a mutation received from a peer. The sender already held
// ownership, so the gate is bypassed.
func (m *Mediator) ApplyRemote(mutation pipeline.Mutation) (pipeline.Outcome, error) {
	mutation.Origin = pipeline.OriginRemote
	if !m.IsDataRegistrationComplete() {
		return pipeline.Outcome{State: pipeline.StateProposed}, ErrNotReady
	}
	return m.pipeline.Propose(mutation)
}

// AddValidator registers a validator from outside the asset's components.
func (m *Mediator) AddValidator(name string, v pipeline.Validator) error {
	return m.pipeline.AddValidator(name, v)
}

// CallMethod invokes a method registered by one of the asset's components.
// An unknown name yields nil and false.
func (m *Mediator) CallMethod(name string, args ...any) (any, bool) {
	fn, ok := m.methods[name]
	if !ok {
		m.logger.Debug("unknown method", "method", name)
		return nil, false
	}
	return fn(args...), true
}

func (m *Mediator) HasMethod(name string) bool {
	_, ok := m.methods[name]
	return ok
}

// RegisterPropertyChange subscribes h to changes of one property.
func (m *Mediator) RegisterPropertyChange(name string, h Handler) (HandlerID, error) {
	if !m.data.Has(name) {
		return 0, fmt.Errorf("%w: %s", property.ErrPropertyNotFound, name)
	}
	return m.subscribe(name, h), nil
}

func (m *Mediator) UnregisterPropertyChange(name string, id HandlerID) bool {
	list := m.observers[name]
	for i, obs := range list {
		if obs.id == id {
			m.observers[name] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// OnPropertyChanged subscribes h to every property of the asset.
func (m *Mediator) OnPropertyChanged(h Handler) HandlerID {
	return m.subscribe("", h)
}

func (m *Mediator) RemovePropertyChanged(id HandlerID) bool {
	return m.UnregisterPropertyChange("", id)
}

func (m *Mediator) subscribe(name string, h Handler) HandlerID {
	m.nextID++
	m.observers[name] = append(m.observers[name], observer{id: m.nextID, handler: h})
	return m.nextID
}

func (m *Mediator) dispatch(event pipeline.Event) {
	handlers := m.componentHandlers[event.Property]
	for _, kind := range m.handlerOrder[event.Property] {
		handlers[kind](event)
	}
	for _, key := range []string{event.Property, ""} {
		list := append([]observer(nil), m.observers[key]...)
		for _, obs := range list {
			obs.handler(event)
		}
	}
}

// NotifyOwnership tells replicated components whether the local participant
// now owns the asset.
func (m *Mediator) NotifyOwnership(owned bool) {
	for _, c := range m.components {
		if replicated, ok := c.(NetworkReplicated); ok {
			replicated.OnOwnershipChanged(owned)
		}
	}
}

// ReplicationSuppressed reports whether any component currently holds back
// outbound replication of the property.
func (m *Mediator) ReplicationSuppressed(name string) bool {
	for _, c := range m.components {
		if filter, ok := c.(ReplicationFilter); ok && filter.SuppressReplication(name) {
			return true
		}
	}
	return false
}

func (m *Mediator) Snapshot() map[string]property.SlotSnapshot {
	return m.data.Snapshot()
}

// Restore overwrites staged data from a peer snapshot without running the
// pipeline; it is used once, when a late joiner attaches to an existing
// asset. Restored properties are announced as remote changes.
func (m *Mediator) Restore(snapshots map[string]property.SlotSnapshot) error {
	unknown, err := m.data.Restore(snapshots)
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		m.logger.Warn("snapshot carries undeclared properties", "properties", unknown)
	}
	for _, name := range m.data.Names() {
		if _, ok := snapshots[name]; !ok {
			continue
		}
		value, _, _ := m.data.Value(m.active, name, true)
		m.dispatch(pipeline.Event{Property: name, Value: value, Origin: pipeline.OriginRemote})
	}
	return nil
}
