package property

import (
	"fmt"
	"strings"
)

// Definition is the static description of one property of an asset type.
// Interpolated marks values streamed continuously (transform channels); the
// network layer treats them differently right after an ownership change.
type Definition struct {
	Name             string
	Type             ValueType
	Default          any
	EditableByAuthor bool
	Interpolated     bool
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("property name is required")
	}
	if _, err := ParseValueType(string(d.Type)); err != nil {
		return fmt.Errorf("property %s: %w", d.Name, err)
	}
	if _, err := d.DefaultValue(); err != nil {
		return fmt.Errorf("property %s default: %w", d.Name, err)
	}
	return nil
}

func (d Definition) DefaultValue() (any, error) {
	if d.Default == nil {
		return ZeroValue(d.Type), nil
	}
	return Coerce(d.Type, d.Default)
}
