// Package netid holds the identifiers shared by the transport, the ownership
// negotiator and the room state mapper.
package netid

import (
	"strconv"

	"github.com/google/uuid"
)

// Participant identifies one connected process in a room.
type Participant string

func NewParticipant() Participant {
	return Participant(uuid.NewString())
}

// Handle is the transport-level identity of a networked object. Zero means
// no handle has been allocated.
type Handle int64

const NoHandle Handle = 0

func (h Handle) String() string {
	return strconv.FormatInt(int64(h), 10)
}

func ParseHandle(s string) (Handle, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NoHandle, err
	}
	return Handle(n), nil
}
