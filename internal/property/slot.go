package property

import "fmt"

// Slot is the type-erased view of a Staged value that lets one asset hold
// properties of different types behind a single table.
type Slot interface {
	Definition() Definition
	Value(stage StageID, useInitialFallback bool) (any, bool)
	Shared() any
	SetShared(value any) error
	SetStageOverride(stage StageID, value any) error
	UseShared(stage StageID) bool
	AddStage(stage StageID)
	RemoveStage(stage StageID)
	Snapshot() SlotSnapshot
	Restore(snapshot SlotSnapshot) error
}

type SlotSnapshot struct {
	Shared any             `json:"shared"`
	Stages []StageSnapshot `json:"stages"`
}

type StageSnapshot struct {
	Stage     StageID `json:"stage"`
	UseShared bool    `json:"use_shared"`
	Local     any     `json:"local,omitempty"`
}

type typedSlot[T any] struct {
	def    Definition
	staged *Staged[T]
}

// NewSlot builds the slot for def seeded with its default value and an
// entry for each of stages.
func NewSlot(def Definition, stages []StageID) (Slot, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	switch def.Type {
	case TypeBool:
		return newTypedSlot[bool](def, stages)
	case TypeInt:
		return newTypedSlot[int64](def, stages)
	case TypeFloat:
		return newTypedSlot[float64](def, stages)
	case TypeString:
		return newTypedSlot[string](def, stages)
	case TypeVector3:
		return newTypedSlot[Vector3](def, stages)
	case TypeQuaternion:
		return newTypedSlot[Quaternion](def, stages)
	case TypeColor:
		return newTypedSlot[Color](def, stages)
	}
	return nil, fmt.Errorf("property %s: unknown value type %q", def.Name, def.Type)
}

func newTypedSlot[T any](def Definition, stages []StageID) (Slot, error) {
	initial, err := def.DefaultValue()
	if err != nil {
		return nil, err
	}
	value, ok := initial.(T)
	if !ok {
		return nil, fmt.Errorf("property %s: %w", def.Name, ErrTypeMismatch)
	}
	return &typedSlot[T]{def: def, staged: NewStaged(value, stages...)}, nil
}

func (s *typedSlot[T]) convert(value any) (T, error) {
	var zero T
	coerced, err := Coerce(s.def.Type, value)
	if err != nil {
		return zero, fmt.Errorf("property %s: %w", s.def.Name, err)
	}
	typed, ok := coerced.(T)
	if !ok {
		return zero, fmt.Errorf("property %s: %w", s.def.Name, ErrTypeMismatch)
	}
	return typed, nil
}

func (s *typedSlot[T]) Definition() Definition { return s.def }

func (s *typedSlot[T]) Value(stage StageID, useInitialFallback bool) (any, bool) {
	value, ok := s.staged.Value(stage, useInitialFallback)
	if !ok {
		return nil, false
	}
	return value, true
}

func (s *typedSlot[T]) Shared() any { return s.staged.Shared() }

func (s *typedSlot[T]) SetShared(value any) error {
	typed, err := s.convert(value)
	if err != nil {
		return err
	}
	s.staged.SetShared(typed)
	return nil
}

func (s *typedSlot[T]) SetStageOverride(stage StageID, value any) error {
	typed, err := s.convert(value)
	if err != nil {
		return err
	}
	s.staged.SetStageOverride(stage, typed)
	return nil
}

func (s *typedSlot[T]) UseShared(stage StageID) bool { return s.staged.UseShared(stage) }

func (s *typedSlot[T]) AddStage(stage StageID) { s.staged.AddStage(stage) }

func (s *typedSlot[T]) RemoveStage(stage StageID) { s.staged.RemoveStage(stage) }

func (s *typedSlot[T]) Snapshot() SlotSnapshot {
	snapshot := SlotSnapshot{Shared: s.staged.Shared()}
	for _, stage := range s.staged.Stages() {
		entry, _ := s.staged.Override(stage)
		item := StageSnapshot{Stage: stage, UseShared: entry.UseShared}
		if !entry.UseShared {
			item.Local = entry.Local
		}
		snapshot.Stages = append(snapshot.Stages, item)
	}
	return snapshot
}

// Restore overwrites the shared value and the entries of stages this slot
// already knows. Stages missing locally are ignored.
func (s *typedSlot[T]) Restore(snapshot SlotSnapshot) error {
	shared, err := s.convert(snapshot.Shared)
	if err != nil {
		return err
	}
	type pending struct {
		stage StageID
		local T
		use   bool
	}
	entries := make([]pending, 0, len(snapshot.Stages))
	for _, item := range snapshot.Stages {
		if _, ok := s.staged.Override(item.Stage); !ok {
			continue
		}
		entry := pending{stage: item.Stage, use: item.UseShared}
		if !item.UseShared {
			local, err := s.convert(item.Local)
			if err != nil {
				return err
			}
			entry.local = local
		}
		entries = append(entries, entry)
	}

	s.staged.SetShared(shared)
	for _, entry := range entries {
		if entry.use {
			s.staged.UseShared(entry.stage)
			continue
		}
		s.staged.SetStageOverride(entry.stage, entry.local)
	}
	return nil
}
