package authority

import (
	"errors"
	"testing"

	"stagesync/internal/netid"
)

const (
	host  netid.Participant = "host"
	alice netid.Participant = "alice"
	bob   netid.Participant = "bob"
)

func TestPermits(t *testing.T) {
	tests := []struct {
		name      string
		authority *Authority
		who       netid.Participant
		want      bool
	}{
		{name: "open admits anyone", authority: New(PolicyOpen), who: bob, want: true},
		{name: "owner only admits host", authority: New(PolicySessionOwnerOnly), who: host, want: true},
		{name: "owner only rejects others", authority: New(PolicySessionOwnerOnly), who: alice, want: false},
		{name: "allow set admits member", authority: New(PolicyAllowSet, alice), who: alice, want: true},
		{name: "allow set rejects non member", authority: New(PolicyAllowSet, alice), who: bob, want: false},
		{name: "allow set always admits host", authority: New(PolicyAllowSet, alice), who: host, want: true},
		{name: "empty participant", authority: New(PolicySessionOwnerOnly), who: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.authority.Permits(tt.who, host); got != tt.want {
				t.Fatalf("Permits(%s) = %v, want %v", tt.who, got, tt.want)
			}
		})
	}
}

func TestAddAuthorityGrantsAccess(t *testing.T) {
	a := New(PolicyAllowSet, alice)
	if a.Permits(bob, host) {
		t.Fatalf("bob must not be permitted before being added")
	}
	if err := a.Add(alice, host, bob); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !a.Permits(bob, host) {
		t.Fatalf("bob must be permitted after being added")
	}
}

func TestMutationsRequireAuthority(t *testing.T) {
	a := New(PolicyAllowSet, alice)

	if err := a.Add(bob, host, bob); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := a.SetPolicy(bob, host, PolicyOpen); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := a.SetPolicy(host, host, PolicySessionOwnerOnly); err != nil {
		t.Fatalf("host must be able to change policy: %v", err)
	}
	if err := a.Remove(alice, host, alice); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("alice lost authority when the policy tightened, got %v", err)
	}
}

func TestExempt(t *testing.T) {
	if New(PolicyOpen).Exempt(alice) {
		t.Fatalf("open policy has no exemptions")
	}
	if !New(PolicyAllowSet, alice).Exempt(alice) {
		t.Fatalf("allow-set member must be exempt")
	}
}

func TestForgetAndApply(t *testing.T) {
	a := New(PolicyAllowSet, alice, bob)
	if !a.Forget(bob) {
		t.Fatalf("expected forget to change the set")
	}
	if a.Forget(bob) {
		t.Fatalf("second forget must be a no-op")
	}

	replica := New(PolicyOpen)
	if err := replica.Apply(host, host, a.State()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if replica.Policy() != PolicyAllowSet || !replica.Contains(alice) || replica.Contains(bob) {
		t.Fatalf("unexpected replica state %+v", replica.State())
	}
}

func TestParsePolicy(t *testing.T) {
	for input, want := range map[string]Policy{
		"":                   PolicyOpen,
		"Open":               PolicyOpen,
		"session_owner_only": PolicySessionOwnerOnly,
		"allow-set":          PolicyAllowSet,
	} {
		got, err := ParsePolicy(input)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v (%v), want %v", input, got, err, want)
		}
	}
	if _, err := ParsePolicy("closed"); err == nil {
		t.Fatalf("expected error")
	}
}
