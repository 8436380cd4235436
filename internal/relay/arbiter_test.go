package relay

import (
	"errors"
	"sync"
	"testing"

	"stagesync/internal/netid"
)

type recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recorder) Deliver(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) of(op Op) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Frame
	for _, f := range r.frames {
		if f.Op == op {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func joinAll(t *testing.T, a *Arbiter, ps ...netid.Participant) map[netid.Participant]*recorder {
	t.Helper()
	recs := make(map[netid.Participant]*recorder)
	for _, p := range ps {
		rec := &recorder{}
		if err := a.Join(p, rec); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
		recs[p] = rec
	}
	return recs
}

func TestArbiterJoin(t *testing.T) {
	a := NewArbiter("rehearsal", nil)
	recs := joinAll(t, a, "host", "alice")

	if a.SessionOwner() != "host" {
		t.Fatalf("expected host as session owner, got %s", a.SessionOwner())
	}
	welcome := recs["alice"].of(OpWelcome)
	if len(welcome) != 1 {
		t.Fatalf("expected one welcome frame, got %d", len(welcome))
	}
	if welcome[0].SessionOwner != "host" || len(welcome[0].Participants) != 2 {
		t.Fatalf("unexpected welcome %+v", welcome[0])
	}
	if joined := recs["host"].of(OpJoined); len(joined) != 1 || joined[0].Participant != "alice" {
		t.Fatalf("host must hear about alice, got %+v", joined)
	}
	if joined := recs["alice"].of(OpJoined); len(joined) != 0 {
		t.Fatalf("a participant must not hear about its own join")
	}

	if err := a.Join("alice", &recorder{}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
	if err := a.Join("", &recorder{}); err == nil {
		t.Fatalf("expected error for empty participant")
	}
}

func TestArbiterAllocateAndRequest(t *testing.T) {
	a := NewArbiter("rehearsal", nil)
	recs := joinAll(t, a, "host", "alice", "bob")

	h, err := a.Allocate("alice")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if owner, ok := a.Owner(h); !ok || owner != "host" {
		t.Fatalf("new handles belong to the session owner, got %s", owner)
	}
	if len(recs["bob"].of(OpAllocated)) != 1 {
		t.Fatalf("allocation must be announced")
	}

	if err := a.Request("alice", h); err != nil {
		t.Fatalf("request: %v", err)
	}
	requests := recs["host"].of(OpOwnershipRequest)
	if len(requests) != 1 || requests[0].Participant != "alice" || requests[0].Handle != h {
		t.Fatalf("request must reach the owner, got %+v", requests)
	}
	if len(recs["bob"].of(OpOwnershipRequest)) != 0 {
		t.Fatalf("request must reach the owner only")
	}

	if err := a.Request("alice", 99); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
	if _, err := a.Allocate("mallory"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestArbiterTransfer(t *testing.T) {
	a := NewArbiter("rehearsal", nil)
	recs := joinAll(t, a, "host", "alice", "bob")
	h, _ := a.Allocate("host")

	t.Run("owner transfers", func(t *testing.T) {
		if err := a.Transfer("host", h, "alice"); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if owner, _ := a.Owner(h); owner != "alice" {
			t.Fatalf("expected alice to own, got %s", owner)
		}
		for p, rec := range recs {
			got := rec.of(OpTransferred)
			if len(got) != 1 || got[0].Participant != "alice" || got[0].Previous != "host" {
				t.Fatalf("%s: unexpected transferred frames %+v", p, got)
			}
		}
	})

	t.Run("non owner is refused", func(t *testing.T) {
		if err := a.Transfer("bob", h, "bob"); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if owner, _ := a.Owner(h); owner != "alice" {
			t.Fatalf("ownership must not change, got %s", owner)
		}
		if failed := recs["bob"].of(OpTransferFailed); len(failed) != 1 || failed[0].Error == "" {
			t.Fatalf("expected a failure report, got %+v", failed)
		}
	})

	t.Run("absent recipient is refused", func(t *testing.T) {
		if err := a.Transfer("alice", h, "mallory"); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if len(recs["alice"].of(OpTransferFailed)) != 1 {
			t.Fatalf("expected a failure report to the owner")
		}
	})
}

func TestArbiterLeave(t *testing.T) {
	a := NewArbiter("rehearsal", nil)
	recs := joinAll(t, a, "host", "alice", "bob")
	h1, _ := a.Allocate("host")
	h2, _ := a.Allocate("host")
	if err := a.Transfer("host", h2, "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	for _, rec := range recs {
		rec.reset()
	}

	a.Leave("host")
	if a.SessionOwner() != "alice" {
		t.Fatalf("expected alice re-elected, got %s", a.SessionOwner())
	}
	if owner, _ := a.Owner(h1); owner != "alice" {
		t.Fatalf("handles of the departed owner fall back to the session owner, got %s", owner)
	}
	if owner, _ := a.Owner(h2); owner != "bob" {
		t.Fatalf("other handles keep their owner, got %s", owner)
	}
	rec := recs["bob"]
	if len(rec.of(OpLeft)) != 1 || len(rec.of(OpSessionOwnerMoved)) != 1 || len(rec.of(OpTransferred)) != 1 {
		t.Fatalf("unexpected frames after leave: %+v", rec.frames)
	}

	a.Leave("alice")
	a.Leave("bob")
	if a.Len() != 0 {
		t.Fatalf("room should be empty")
	}
	if _, ok := a.Owner(h2); ok {
		t.Fatalf("handles of an empty room are unowned")
	}

	carol := &recorder{}
	if err := a.Join("carol", carol); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := a.Request("carol", h2); err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(carol.of(OpOwnershipRequest)) != 1 {
		t.Fatalf("requests for unowned handles go to the session owner")
	}
	if err := a.Transfer("carol", h2, "carol"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if owner, _ := a.Owner(h2); owner != "carol" {
		t.Fatalf("session owner may claim unowned handles, got %s", owner)
	}
}

func TestArbiterSend(t *testing.T) {
	a := NewArbiter("rehearsal", nil)
	recs := joinAll(t, a, "host", "alice", "bob")

	if err := a.Send("alice", []byte("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(recs["alice"].of(OpMessage)) != 0 {
		t.Fatalf("broadcast must skip the sender")
	}
	if len(recs["host"].of(OpMessage)) != 1 || len(recs["bob"].of(OpMessage)) != 1 {
		t.Fatalf("broadcast must reach everyone else")
	}

	if err := a.Send("alice", []byte("psst"), "bob", "mallory"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := recs["bob"].of(OpMessage)
	if len(msgs) != 2 || string(msgs[1].Payload) != "psst" || msgs[1].Participant != "alice" {
		t.Fatalf("unexpected direct message %+v", msgs)
	}
	if len(recs["host"].of(OpMessage)) != 1 {
		t.Fatalf("direct message leaked to host")
	}
}
