// Package authority decides who may request ownership of an asset.
package authority

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"stagesync/internal/netid"
)

var ErrNotAuthorized = errors.New("participant not authorized")

type Policy int

const (
	PolicyOpen Policy = iota
	PolicySessionOwnerOnly
	PolicyAllowSet
)

func (p Policy) String() string {
	switch p {
	case PolicyOpen:
		return "open"
	case PolicySessionOwnerOnly:
		return "session_owner_only"
	case PolicyAllowSet:
		return "allow_set"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "open":
		return PolicyOpen, nil
	case "session_owner_only", "session-owner-only", "owner":
		return PolicySessionOwnerOnly, nil
	case "allow_set", "allow-set", "allowset":
		return PolicyAllowSet, nil
	}
	return PolicyOpen, fmt.Errorf("unknown authority policy %q", name)
}

// State is the replicated form of an Authority.
type State struct {
	Policy  Policy              `json:"policy"`
	Allowed []netid.Participant `json:"allowed,omitempty"`
}

// Authority is owned by one asset. The session owner is always permitted;
// the allow-set names the participants permitted in addition.
type Authority struct {
	policy  Policy
	allowed map[netid.Participant]struct{}
}

func New(policy Policy, allowed ...netid.Participant) *Authority {
	a := &Authority{policy: policy, allowed: make(map[netid.Participant]struct{}, len(allowed))}
	for _, p := range allowed {
		a.allowed[p] = struct{}{}
	}
	return a
}

func (a *Authority) Policy() Policy {
	return a.policy
}

func (a *Authority) Allowed() []netid.Participant {
	out := make([]netid.Participant, 0, len(a.allowed))
	for p := range a.allowed {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Authority) Contains(p netid.Participant) bool {
	_, ok := a.allowed[p]
	return ok
}

// Permits reports whether p may own the asset.
func (a *Authority) Permits(p, sessionOwner netid.Participant) bool {
	if p != "" && p == sessionOwner {
		return true
	}
	switch a.policy {
	case PolicyOpen:
		return true
	case PolicyAllowSet:
		return a.Contains(p)
	}
	return false
}

// Exempt reports whether p keeps ownership after a manipulation ends instead
// of handing it back to the session owner.
func (a *Authority) Exempt(p netid.Participant) bool {
	return a.policy == PolicyAllowSet && a.Contains(p)
}

func (a *Authority) SetPolicy(actor, sessionOwner netid.Participant, policy Policy) error {
	if err := a.check(actor, sessionOwner); err != nil {
		return err
	}
	a.policy = policy
	return nil
}

func (a *Authority) Add(actor, sessionOwner, p netid.Participant) error {
	if err := a.check(actor, sessionOwner); err != nil {
		return err
	}
	a.allowed[p] = struct{}{}
	return nil
}

func (a *Authority) Remove(actor, sessionOwner, p netid.Participant) error {
	if err := a.check(actor, sessionOwner); err != nil {
		return err
	}
	delete(a.allowed, p)
	return nil
}

// Forget drops a departed participant from the allow-set. It reports
// whether the set changed.
func (a *Authority) Forget(p netid.Participant) bool {
	if _, ok := a.allowed[p]; !ok {
		return false
	}
	delete(a.allowed, p)
	return true
}

func (a *Authority) State() State {
	return State{Policy: a.policy, Allowed: a.Allowed()}
}

// Apply replaces the authority with a replicated state sent by actor.
func (a *Authority) Apply(actor, sessionOwner netid.Participant, state State) error {
	if err := a.check(actor, sessionOwner); err != nil {
		return err
	}
	a.policy = state.Policy
	a.allowed = make(map[netid.Participant]struct{}, len(state.Allowed))
	for _, p := range state.Allowed {
		a.allowed[p] = struct{}{}
	}
	return nil
}

func (a *Authority) check(actor, sessionOwner netid.Participant) error {
	if !a.Permits(actor, sessionOwner) {
		return fmt.Errorf("%w: %s under %s", ErrNotAuthorized, actor, a.policy)
	}
	return nil
}
