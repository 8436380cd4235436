package components

import (
	"stagesync/internal/mediator"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

const (
	KindVisibility = "visibility"

	PropVisible = "visible"
	PropOpacity = "opacity"

	MethodShow      = "Show"
	MethodHide      = "Hide"
	MethodIsVisible = "IsVisible"
)

type Visibility struct {
	m       *mediator.Mediator
	visible bool
	opacity float64
}

func NewVisibility() mediator.Component {
	return &Visibility{visible: true, opacity: 1}
}

func (v *Visibility) Kind() string { return KindVisibility }

func (v *Visibility) Definitions() []property.Definition {
	return []property.Definition{
		{Name: PropVisible, Type: property.TypeBool, Default: true, EditableByAuthor: true},
		{Name: PropOpacity, Type: property.TypeFloat, Default: 1.0, EditableByAuthor: true},
	}
}

func (v *Visibility) Bind(b *mediator.Binder) error {
	v.m = b.Mediator()
	if err := b.OnChange(PropVisible, func(e pipeline.Event) { v.visible = e.Value.(bool) }); err != nil {
		return err
	}
	if err := b.OnChange(PropOpacity, func(e pipeline.Event) { v.opacity = e.Value.(float64) }); err != nil {
		return err
	}
	if err := b.Validate(PropOpacity, clampOpacity); err != nil {
		return err
	}
	if err := b.Method(MethodShow, func(...any) any { return v.set(true) }); err != nil {
		return err
	}
	if err := b.Method(MethodHide, func(...any) any { return v.set(false) }); err != nil {
		return err
	}
	return b.Method(MethodIsVisible, func(...any) any { return v.visible && v.opacity > 0 })
}

func clampOpacity(m pipeline.Mutation) (any, error) {
	opacity := m.Value.(float64)
	switch {
	case opacity < 0:
		return 0.0, nil
	case opacity > 1:
		return 1.0, nil
	}
	return nil, nil
}

func (v *Visibility) set(visible bool) pipeline.State {
	outcome, err := v.m.SetProperty(PropVisible, visible)
	if err != nil {
		return pipeline.StateRejected
	}
	return outcome.State
}

func (v *Visibility) OnStageActivated(stage property.StageID) {
	if value, err := v.m.GetStageProperty(stage, PropVisible); err == nil {
		v.visible = value.(bool)
	}
	if value, err := v.m.GetStageProperty(stage, PropOpacity); err == nil {
		v.opacity = value.(float64)
	}
}
