// Package relay is the room transport: an arbiter that tracks participants,
// the session owner and object handle ownership, exposed in-process through
// Loopback and over websockets through Server and Dial.
package relay

import (
	"fmt"

	"stagesync/internal/codec"
	"stagesync/internal/netid"
	"stagesync/internal/network"
)

type Op string

// Participant to relay.
const (
	OpJoin     Op = "join"
	OpLeave    Op = "leave"
	OpSend     Op = "send"
	OpAllocate Op = "allocate"
	OpRequest  Op = "request"
	OpTransfer Op = "transfer"
	OpStoreGet Op = "store_get"
	OpStoreSet Op = "store_set"
)

// Relay to participant.
const (
	OpWelcome           Op = "welcome"
	OpReply             Op = "reply"
	OpMessage           Op = "message"
	OpAllocated         Op = "allocated"
	OpOwnershipRequest  Op = "ownership_request"
	OpTransferred       Op = "transferred"
	OpTransferFailed    Op = "transfer_failed"
	OpJoined            Op = "joined"
	OpLeft              Op = "left"
	OpSessionOwnerMoved Op = "session_owner"
)

// Frame is one relay protocol unit. ID correlates a reply with its call.
type Frame struct {
	Op           Op                                 `cbor:"op"`
	ID           string                             `cbor:"id,omitempty"`
	Room         string                             `cbor:"room,omitempty"`
	Participant  netid.Participant                  `cbor:"participant,omitempty"`
	Previous     netid.Participant                  `cbor:"previous,omitempty"`
	Recipients   []netid.Participant                `cbor:"recipients,omitempty"`
	Handle       netid.Handle                       `cbor:"handle,omitempty"`
	Payload      []byte                             `cbor:"payload,omitempty"`
	Key          string                             `cbor:"key,omitempty"`
	Value        string                             `cbor:"value,omitempty"`
	Found        bool                               `cbor:"found,omitempty"`
	Error        string                             `cbor:"error,omitempty"`
	Participants []netid.Participant                `cbor:"participants,omitempty"`
	SessionOwner netid.Participant                  `cbor:"session_owner,omitempty"`
	Owners       map[netid.Handle]netid.Participant `cbor:"owners,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	data, err := codec.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Op, err)
	}
	return data, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	if f.Op == "" {
		return Frame{}, fmt.Errorf("decoding frame: missing op")
	}
	return f, nil
}

// Dispatch turns a relay-to-participant frame into the matching handler
// callback. It reports false for frames that carry no callback.
func Dispatch(f Frame, h network.Handler) bool {
	switch f.Op {
	case OpMessage:
		h.HandleMessage(f.Participant, f.Payload)
	case OpOwnershipRequest:
		h.HandleOwnershipRequest(f.Handle, f.Participant)
	case OpTransferred:
		h.HandleOwnershipTransferred(f.Handle, f.Participant, f.Previous)
	case OpTransferFailed:
		h.HandleOwnershipTransferFailed(f.Handle, f.Error)
	case OpJoined:
		h.HandleParticipantJoined(f.Participant)
	case OpLeft:
		h.HandleParticipantLeft(f.Participant)
	case OpSessionOwnerMoved:
		h.HandleSessionOwnerChanged(f.Participant)
	default:
		return false
	}
	return true
}
