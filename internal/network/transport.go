// Package network carries asset state between participants: the ownership
// negotiator that decides who may write an asset, and the replicator that
// turns property changes into messages and back.
package network

import (
	"context"

	"stagesync/internal/netid"
)

// Transport is the room connection. Ownership is tracked by the transport;
// this package requests, grants and releases it but never stores the
// authoritative mapping.
type Transport interface {
	LocalParticipant() netid.Participant
	SessionOwner() netid.Participant
	Participants() []netid.Participant
	InRoom() bool

	// SendReliable delivers payload in order. No recipients means every
	// other participant in the room.
	SendReliable(payload []byte, recipients ...netid.Participant) error
	Bind(h Handler)

	AllocateObjectHandle(ctx context.Context) (netid.Handle, error)
	RequestOwnership(h netid.Handle) error
	TransferOwnership(h netid.Handle, to netid.Participant) error
	Owner(h netid.Handle) (netid.Participant, bool)
}

// Handler receives transport callbacks.
type Handler interface {
	HandleMessage(from netid.Participant, payload []byte)
	HandleOwnershipRequest(h netid.Handle, requester netid.Participant)
	HandleOwnershipTransferred(h netid.Handle, newOwner, previous netid.Participant)
	HandleOwnershipTransferFailed(h netid.Handle, reason string)
	HandleParticipantJoined(p netid.Participant)
	HandleParticipantLeft(p netid.Participant)
	HandleSessionOwnerChanged(owner netid.Participant)
}
