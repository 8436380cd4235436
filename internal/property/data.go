package property

import (
	"fmt"
)

// Data is the complete staged state of one asset instance: one slot per
// declared property, all sharing the same authored stage list.
type Data struct {
	stages []StageID
	known  map[StageID]struct{}
	slots  map[string]Slot
	order  []string
}

func NewData(stages ...StageID) *Data {
	d := &Data{
		known: make(map[StageID]struct{}, len(stages)),
		slots: make(map[string]Slot),
	}
	for _, stage := range stages {
		if _, ok := d.known[stage]; ok {
			continue
		}
		d.known[stage] = struct{}{}
		d.stages = append(d.stages, stage)
	}
	return d
}

func (d *Data) Declare(def Definition) error {
	if _, exists := d.slots[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProperty, def.Name)
	}
	slot, err := NewSlot(def, d.stages)
	if err != nil {
		return err
	}
	d.slots[def.Name] = slot
	d.order = append(d.order, def.Name)
	return nil
}

func (d *Data) Has(name string) bool {
	_, ok := d.slots[name]
	return ok
}

func (d *Data) Slot(name string) (Slot, error) {
	slot, ok := d.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	return slot, nil
}

// Names returns property names in declaration order.
func (d *Data) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Data) Definitions() []Definition {
	out := make([]Definition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.slots[name].Definition())
	}
	return out
}

func (d *Data) Stages() []StageID {
	out := make([]StageID, len(d.stages))
	copy(out, d.stages)
	return out
}

func (d *Data) HasStage(stage StageID) bool {
	_, ok := d.known[stage]
	return ok
}

func (d *Data) Value(stage StageID, name string, useInitialFallback bool) (any, bool, error) {
	slot, err := d.Slot(name)
	if err != nil {
		return nil, false, err
	}
	value, ok := slot.Value(stage, useInitialFallback)
	return value, ok, nil
}

func (d *Data) SetShared(name string, value any) error {
	slot, err := d.Slot(name)
	if err != nil {
		return err
	}
	return slot.SetShared(value)
}

func (d *Data) SetStageOverride(name string, stage StageID, value any) error {
	slot, err := d.Slot(name)
	if err != nil {
		return err
	}
	if !d.HasStage(stage) {
		return fmt.Errorf("property %s: unknown stage %q", name, stage)
	}
	return slot.SetStageOverride(stage, value)
}

func (d *Data) UseShared(name string, stage StageID) error {
	slot, err := d.Slot(name)
	if err != nil {
		return err
	}
	if !slot.UseShared(stage) {
		return fmt.Errorf("property %s: unknown stage %q", name, stage)
	}
	return nil
}

// AddStage registers stage on every property with a use-shared entry.
func (d *Data) AddStage(stage StageID) {
	if _, ok := d.known[stage]; ok {
		return
	}
	d.known[stage] = struct{}{}
	d.stages = append(d.stages, stage)
	for _, name := range d.order {
		d.slots[name].AddStage(stage)
	}
}

func (d *Data) RemoveStage(stage StageID) {
	if _, ok := d.known[stage]; !ok {
		return
	}
	delete(d.known, stage)
	for i, id := range d.stages {
		if id == stage {
			d.stages = append(d.stages[:i], d.stages[i+1:]...)
			break
		}
	}
	for _, name := range d.order {
		d.slots[name].RemoveStage(stage)
	}
}

func (d *Data) Snapshot() map[string]SlotSnapshot {
	out := make(map[string]SlotSnapshot, len(d.order))
	for _, name := range d.order {
		out[name] = d.slots[name].Snapshot()
	}
	return out
}

// Restore applies snapshots for known properties; unknown names are
// returned so the caller can report them.
func (d *Data) Restore(snapshots map[string]SlotSnapshot) ([]string, error) {
	var unknown []string
	for name, snapshot := range snapshots {
		slot, ok := d.slots[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if err := slot.Restore(snapshot); err != nil {
			return unknown, err
		}
	}
	return unknown, nil
}

// Get reads a property as its concrete Go type.
func Get[T any](d *Data, stage StageID, name string) (T, error) {
	var zero T
	value, _, err := d.Value(stage, name, true)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("property %s: %w: have %T", name, ErrTypeMismatch, value)
	}
	return typed, nil
}

// StagedOf exposes the typed store behind a property.
func StagedOf[T any](d *Data, name string) (*Staged[T], error) {
	slot, err := d.Slot(name)
	if err != nil {
		return nil, err
	}
	typed, ok := slot.(*typedSlot[T])
	if !ok {
		return nil, fmt.Errorf("property %s: %w", name, ErrTypeMismatch)
	}
	return typed.staged, nil
}
