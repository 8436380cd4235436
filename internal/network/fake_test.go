package network

import (
	"context"
	"errors"
	"testing"

	"stagesync/internal/authority"
	"stagesync/internal/mediator"
	"stagesync/internal/netid"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

const (
	host  netid.Participant = "host"
	alice netid.Participant = "alice"
	bob   netid.Participant = "bob"
)

type transfer struct {
	handle netid.Handle
	to     netid.Participant
}

type sentMessage struct {
	payload    []byte
	recipients []netid.Participant
}

// fakeTransport records outgoing calls; tests drive callbacks by hand.
type fakeTransport struct {
	local        netid.Participant
	sessionOwner netid.Participant
	inRoom       bool
	owners       map[netid.Handle]netid.Participant
	requests     []netid.Handle
	transfers    []transfer
	sent         []sentMessage
	failTransfer error
}

func newFakeTransport(local netid.Participant) *fakeTransport {
	return &fakeTransport{
		local:        local,
		sessionOwner: host,
		inRoom:       true,
		owners:       make(map[netid.Handle]netid.Participant),
	}
}

func (f *fakeTransport) LocalParticipant() netid.Participant { return f.local }
func (f *fakeTransport) SessionOwner() netid.Participant     { return f.sessionOwner }
func (f *fakeTransport) Participants() []netid.Participant {
	return []netid.Participant{host, alice, bob}
}
func (f *fakeTransport) InRoom() bool   { return f.inRoom }
func (f *fakeTransport) Bind(h Handler) {}

func (f *fakeTransport) SendReliable(payload []byte, recipients ...netid.Participant) error {
	f.sent = append(f.sent, sentMessage{payload: payload, recipients: recipients})
	return nil
}

func (f *fakeTransport) AllocateObjectHandle(ctx context.Context) (netid.Handle, error) {
	return netid.Handle(len(f.owners) + 1), nil
}

func (f *fakeTransport) RequestOwnership(h netid.Handle) error {
	f.requests = append(f.requests, h)
	return nil
}

func (f *fakeTransport) TransferOwnership(h netid.Handle, to netid.Participant) error {
	if f.failTransfer != nil {
		return f.failTransfer
	}
	f.transfers = append(f.transfers, transfer{handle: h, to: to})
	return nil
}

func (f *fakeTransport) Owner(h netid.Handle) (netid.Participant, bool) {
	owner, ok := f.owners[h]
	return owner, ok
}

func (f *fakeTransport) messages(t *testing.T) []Message {
	t.Helper()
	out := make([]Message, 0, len(f.sent))
	for _, s := range f.sent {
		msg, err := DecodeMessage(s.payload)
		if err != nil {
			t.Fatalf("decoding sent message: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// puppet is a minimal replicated component: an interpolated position and a
// note whose validator vetoes the word "forbidden".
type puppet struct{}

func (p *puppet) Kind() string { return "puppet" }

func (p *puppet) Definitions() []property.Definition {
	return []property.Definition{
		{Name: "position", Type: property.TypeVector3, Interpolated: true},
		{Name: "note", Type: property.TypeString},
	}
}

func (p *puppet) Bind(b *mediator.Binder) error {
	return b.Validate("note", func(m pipeline.Mutation) (any, error) {
		if m.Value == "forbidden" {
			return nil, errors.New("forbidden note")
		}
		return nil, nil
	})
}

func newPuppet(t *testing.T, id string) *mediator.Mediator {
	t.Helper()
	m := mediator.New(id, "puppet", []property.StageID{"s1", "s2"}, nil)
	if err := m.Attach(&puppet{}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	m.Seal()
	return m
}

func track(t *testing.T, tr *fakeTransport, opts Options, policy authority.Policy, allowed ...netid.Participant) (*Negotiator, *Link) {
	t.Helper()
	n := NewNegotiator(tr, opts)
	link := n.Track("puppet-1", 1, authority.New(policy, allowed...), newPuppet(t, "puppet-1"))
	return n, link
}
