package components

import (
	"fmt"
	"unicode/utf8"

	"stagesync/internal/mediator"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

const (
	KindLabel = "label"

	PropText = "text"

	MethodSetText = "SetText"

	MaxLabelLength = 256
)

type Label struct {
	m    *mediator.Mediator
	text string
}

func NewLabel() mediator.Component {
	return &Label{}
}

func (l *Label) Kind() string { return KindLabel }

func (l *Label) Definitions() []property.Definition {
	return []property.Definition{
		{Name: PropText, Type: property.TypeString, EditableByAuthor: true},
	}
}

func (l *Label) Bind(b *mediator.Binder) error {
	l.m = b.Mediator()
	if err := b.OnChange(PropText, func(e pipeline.Event) { l.text = e.Value.(string) }); err != nil {
		return err
	}
	if err := b.Validate(PropText, func(m pipeline.Mutation) (any, error) {
		if n := utf8.RuneCountInString(m.Value.(string)); n > MaxLabelLength {
			return nil, fmt.Errorf("label has %d characters, limit is %d", n, MaxLabelLength)
		}
		return nil, nil
	}); err != nil {
		return err
	}
	return b.Method(MethodSetText, func(args ...any) any {
		if len(args) != 1 {
			return pipeline.StateRejected
		}
		outcome, err := l.m.SetProperty(PropText, args[0])
		if err != nil {
			return pipeline.StateRejected
		}
		return outcome.State
	})
}

func (l *Label) Text() string {
	return l.text
}
