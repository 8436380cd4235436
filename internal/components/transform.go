package components

import (
	"fmt"

	"stagesync/internal/mediator"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

const (
	KindTransform = "transform"

	PropPosition = "position"
	PropRotation = "rotation"
	PropScale    = "scale"

	MethodSuspendTransformSync = "SuspendTransformSync"
	MethodResumeTransformSync  = "ResumeTransformSync"
	MethodTranslate            = "Translate"
)

// Pose is the transform as last applied.
type Pose struct {
	Position property.Vector3
	Rotation property.Quaternion
	Scale    property.Vector3
}

// Transform places an asset in the room. Its properties are interpolated
// channels, streamed while a participant manipulates the asset.
type Transform struct {
	m         *mediator.Mediator
	pose      Pose
	suspended bool
	owned     bool
}

func NewTransform() mediator.Component {
	return &Transform{pose: Pose{Rotation: property.IdentityRotation, Scale: property.Vector3{X: 1, Y: 1, Z: 1}}}
}

func (t *Transform) Kind() string { return KindTransform }

func (t *Transform) Definitions() []property.Definition {
	return []property.Definition{
		{Name: PropPosition, Type: property.TypeVector3, EditableByAuthor: true, Interpolated: true},
		{Name: PropRotation, Type: property.TypeQuaternion, EditableByAuthor: true, Interpolated: true},
		{Name: PropScale, Type: property.TypeVector3, Default: property.Vector3{X: 1, Y: 1, Z: 1}, EditableByAuthor: true, Interpolated: true},
	}
}

func (t *Transform) Bind(b *mediator.Binder) error {
	t.m = b.Mediator()
	if err := b.OnChange(PropPosition, func(e pipeline.Event) { t.pose.Position = e.Value.(property.Vector3) }); err != nil {
		return err
	}
	if err := b.OnChange(PropRotation, func(e pipeline.Event) { t.pose.Rotation = e.Value.(property.Quaternion) }); err != nil {
		return err
	}
	if err := b.OnChange(PropScale, func(e pipeline.Event) { t.pose.Scale = e.Value.(property.Vector3) }); err != nil {
		return err
	}
	if err := b.Validate(PropScale, validateScale); err != nil {
		return err
	}
	if err := b.Method(MethodSuspendTransformSync, func(...any) any {
		t.suspended = true
		return nil
	}); err != nil {
		return err
	}
	if err := b.Method(MethodResumeTransformSync, func(...any) any {
		t.suspended = false
		return nil
	}); err != nil {
		return err
	}
	return b.Method(MethodTranslate, t.translate)
}

func validateScale(m pipeline.Mutation) (any, error) {
	scale := m.Value.(property.Vector3)
	if scale.X <= 0 || scale.Y <= 0 || scale.Z <= 0 {
		return nil, fmt.Errorf("scale must be positive, got %v", scale)
	}
	return nil, nil
}

// translate moves the asset by an offset and returns the resulting outcome
// state.
func (t *Transform) translate(args ...any) any {
	if len(args) != 1 {
		return pipeline.StateRejected
	}
	offset, err := property.Coerce(property.TypeVector3, args[0])
	if err != nil {
		return pipeline.StateRejected
	}
	current, err := t.m.GetProperty(PropPosition)
	if err != nil {
		return pipeline.StateRejected
	}
	pos := current.(property.Vector3)
	delta := offset.(property.Vector3)
	outcome, err := t.m.SetProperty(PropPosition, property.Vector3{X: pos.X + delta.X, Y: pos.Y + delta.Y, Z: pos.Z + delta.Z})
	if err != nil {
		return pipeline.StateRejected
	}
	return outcome.State
}

func (t *Transform) Pose() Pose {
	return t.pose
}

func (t *Transform) Suspended() bool {
	return t.suspended
}

// OnStageActivated snaps the cached pose to the new stage's values.
func (t *Transform) OnStageActivated(stage property.StageID) {
	if v, err := t.m.GetStageProperty(stage, PropPosition); err == nil {
		t.pose.Position = v.(property.Vector3)
	}
	if v, err := t.m.GetStageProperty(stage, PropRotation); err == nil {
		t.pose.Rotation = v.(property.Quaternion)
	}
	if v, err := t.m.GetStageProperty(stage, PropScale); err == nil {
		t.pose.Scale = v.(property.Vector3)
	}
}

// OnOwnershipChanged clears a suspension when ownership moves away; the
// next owner streams from scratch.
func (t *Transform) OnOwnershipChanged(owned bool) {
	t.owned = owned
	if !owned {
		t.suspended = false
	}
}

func (t *Transform) SuppressReplication(name string) bool {
	if !t.suspended {
		return false
	}
	switch name {
	case PropPosition, PropRotation, PropScale:
		return true
	}
	return false
}
