// Package property holds the staged value model: every property of an asset
// keeps one shared value plus an optional override per authored stage.
package property

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrPropertyNotFound  = errors.New("property not found")
	ErrDuplicateProperty = errors.New("duplicate property")
	ErrTypeMismatch      = errors.New("value does not match property type")
)

// StageID identifies an authored stage of a scenario.
type StageID string

type ValueType string

const (
	TypeBool       ValueType = "bool"
	TypeInt        ValueType = "int"
	TypeFloat      ValueType = "float"
	TypeString     ValueType = "string"
	TypeVector3    ValueType = "vector3"
	TypeQuaternion ValueType = "quaternion"
	TypeColor      ValueType = "color"
)

func ParseValueType(name string) (ValueType, error) {
	t := ValueType(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case TypeBool, TypeInt, TypeFloat, TypeString, TypeVector3, TypeQuaternion, TypeColor:
		return t, nil
	}
	return "", fmt.Errorf("unknown value type %q", name)
}

type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

type Quaternion struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

var IdentityRotation = Quaternion{W: 1}

type Color struct {
	R float64 `json:"r" yaml:"r"`
	G float64 `json:"g" yaml:"g"`
	B float64 `json:"b" yaml:"b"`
	A float64 `json:"a" yaml:"a"`
}

// ZeroValue returns the value a property of type t holds when its
// definition declares no default.
func ZeroValue(t ValueType) any {
	switch t {
	case TypeBool:
		return false
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeString:
		return ""
	case TypeVector3:
		return Vector3{}
	case TypeQuaternion:
		return IdentityRotation
	case TypeColor:
		return Color{R: 1, G: 1, B: 1, A: 1}
	}
	return nil
}

// Coerce converts v into the canonical Go representation for t. Values
// decoded from yaml, json or cbor arrive as generic maps, slices and numbers;
// Coerce is the single place where they are normalised.
func Coerce(t ValueType, v any) (any, error) {
	switch t {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInt:
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return int64(f), nil
		}
	case TypeFloat:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeVector3:
		if vec, ok := v.(Vector3); ok {
			return vec, nil
		}
		if parts, ok := components(v, []string{"x", "y", "z"}, nil); ok {
			return Vector3{X: parts[0], Y: parts[1], Z: parts[2]}, nil
		}
	case TypeQuaternion:
		if q, ok := v.(Quaternion); ok {
			return q, nil
		}
		if parts, ok := components(v, []string{"x", "y", "z", "w"}, nil); ok {
			return Quaternion{X: parts[0], Y: parts[1], Z: parts[2], W: parts[3]}, nil
		}
	case TypeColor:
		if c, ok := v.(Color); ok {
			return c, nil
		}
		alpha := 1.0
		if parts, ok := components(v, []string{"r", "g", "b", "a"}, &alpha); ok {
			return Color{R: parts[0], G: parts[1], B: parts[2], A: parts[3]}, nil
		}
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
	return nil, fmt.Errorf("%w: %s from %T", ErrTypeMismatch, t, v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// components reads named float fields out of a generic map or positional
// slice. When last is non-nil the final component may be omitted and takes
// *last instead.
func components(v any, names []string, last *float64) ([]float64, bool) {
	out := make([]float64, len(names))
	switch raw := v.(type) {
	case map[string]any:
		for i, name := range names {
			value, ok := raw[name]
			if !ok {
				value, ok = raw[strings.ToUpper(name)]
			}
			if !ok {
				if i == len(names)-1 && last != nil {
					out[i] = *last
					continue
				}
				return nil, false
			}
			f, ok := toFloat(value)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	case []any:
		return positional(len(raw), func(i int) (float64, bool) { return toFloat(raw[i]) }, out, last)
	case []float64:
		return positional(len(raw), func(i int) (float64, bool) { return raw[i], true }, out, last)
	}
	return nil, false
}

func positional(n int, at func(int) (float64, bool), out []float64, last *float64) ([]float64, bool) {
	switch {
	case n == len(out):
	case n == len(out)-1 && last != nil:
		out[len(out)-1] = *last
	default:
		return nil, false
	}
	for i := 0; i < n; i++ {
		f, ok := at(i)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
