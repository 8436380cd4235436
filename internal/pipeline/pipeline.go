// Package pipeline turns a proposed property mutation into a validated,
// applied and announced state transition.
//
// Every attempt walks Proposed -> Validated -> Applied -> Notified, or stops
// at Rejected. Validators run in registration order; the first veto aborts.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"stagesync/internal/netid"
	"stagesync/internal/property"
	"stagesync/internal/telemetry"
)

var ErrRejected = errors.New("property rejected")

type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

type State int

const (
	StateProposed State = iota
	StateValidated
	StateApplied
	StateNotified
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateValidated:
		return "validated"
	case StateApplied:
		return "applied"
	case StateNotified:
		return "notified"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mutation is one proposed change. An empty Stage targets the shared value.
// Rollback marks an authoritative correction from a peer; it skips
// validation.
type Mutation struct {
	Property string
	Value    any
	Stage    property.StageID
	Origin   Origin
	Sender   netid.Participant
	Rollback bool
}

// Event is raised exactly once per successful mutation.
type Event struct {
	Property string
	Value    any
	Previous any
	Stage    property.StageID
	Origin   Origin
	Sender   netid.Participant
	Rollback bool
}

type Outcome struct {
	State    State
	Value    any
	Previous any
	Reason   string
}

func (o Outcome) Applied() bool {
	return o.State == StateNotified
}

// Err reports a rejection as an error wrapping ErrRejected.
func (o Outcome) Err() error {
	if o.State != StateRejected {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRejected, o.Reason)
}

// Validator inspects a proposed mutation. It may return a replacement value
// (nil keeps the proposed one) or an error to veto. Validators must not have
// side effects; a panic counts as a veto.
type Validator func(m Mutation) (any, error)

type Pipeline struct {
	data       *property.Data
	validators map[string][]Validator
	notify     func(Event)
	logger     *slog.Logger
}

func New(data *property.Data, notify func(Event), logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		data:       data,
		validators: make(map[string][]Validator),
		notify:     notify,
		logger:     logger,
	}
}

// AddValidator fails when the property is not declared; callers treat that
// as a construction error of the asset.
func (p *Pipeline) AddValidator(name string, v Validator) error {
	if !p.data.Has(name) {
		return fmt.Errorf("adding validator: %w: %s", property.ErrPropertyNotFound, name)
	}
	p.validators[name] = append(p.validators[name], v)
	return nil
}

// Propose runs m through the pipeline. The only error returned is
// property.ErrPropertyNotFound; vetoes come back as a Rejected outcome.
func (p *Pipeline) Propose(m Mutation) (Outcome, error) {
	slot, err := p.data.Slot(m.Property)
	if err != nil {
		return Outcome{State: StateProposed}, err
	}
	def := slot.Definition()

	var previous any
	if m.Stage == "" {
		previous = slot.Shared()
	} else {
		if !p.data.HasStage(m.Stage) {
			return p.reject(m, previous, fmt.Sprintf("unknown stage %q", m.Stage)), nil
		}
		previous, _ = slot.Value(m.Stage, true)
	}

	value, err := property.Coerce(def.Type, m.Value)
	if err != nil {
		return p.reject(m, previous, err.Error()), nil
	}

	if !m.Rollback {
		for i, validator := range p.validators[m.Property] {
			proposed := m
			proposed.Value = value
			replaced, err := p.runValidator(validator, proposed)
			if err != nil {
				p.logger.Debug("mutation vetoed",
					"property", m.Property, "validator", i, "origin", m.Origin.String(), "reason", err.Error())
				return p.reject(m, previous, err.Error()), nil
			}
			if replaced == nil {
				continue
			}
			value, err = property.Coerce(def.Type, replaced)
			if err != nil {
				return p.reject(m, previous, fmt.Sprintf("validator %d replaced value: %v", i, err)), nil
			}
		}
	}

	if m.Stage == "" {
		err = slot.SetShared(value)
	} else {
		err = slot.SetStageOverride(m.Stage, value)
	}
	if err != nil {
		return p.reject(m, previous, err.Error()), nil
	}

	event := Event{
		Property: m.Property,
		Value:    value,
		Previous: previous,
		Stage:    m.Stage,
		Origin:   m.Origin,
		Sender:   m.Sender,
		Rollback: m.Rollback,
	}
	if p.notify != nil {
		p.notify(event)
	}
	telemetry.PropertyMutations.WithLabelValues(m.Origin.String(), "applied").Inc()

	return Outcome{State: StateNotified, Value: value, Previous: previous}, nil
}

func (p *Pipeline) runValidator(v Validator, m Mutation) (replaced any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("validator panicked", "property", m.Property, "panic", fmt.Sprint(r))
			replaced = nil
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return v(m)
}

func (p *Pipeline) reject(m Mutation, previous any, reason string) Outcome {
	telemetry.PropertyMutations.WithLabelValues(m.Origin.String(), "rejected").Inc()
	return Outcome{State: StateRejected, Value: m.Value, Previous: previous, Reason: reason}
}
