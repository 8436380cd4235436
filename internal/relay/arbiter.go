package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"stagesync/internal/netid"
)

var (
	ErrClosed        = errors.New("relay connection closed")
	ErrNotJoined     = errors.New("participant not in room")
	ErrAlreadyJoined = errors.New("participant already in room")
	ErrUnknownHandle = errors.New("unknown object handle")
)

// Endpoint receives the frames the arbiter addresses to one participant.
// Deliver is called with the arbiter's lock held and must not call back
// into the arbiter.
type Endpoint interface {
	Deliver(f Frame)
}

// Arbiter is the authoritative state of one room: who is in it, in which
// order they joined, who the session owner is and who owns each object
// handle. The earliest joined participant is the session owner.
type Arbiter struct {
	room   string
	logger *slog.Logger

	mu        sync.Mutex
	order     []netid.Participant
	endpoints map[netid.Participant]Endpoint
	owners    map[netid.Handle]netid.Participant
	next      netid.Handle
}

func NewArbiter(room string, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		room:      room,
		logger:    logger.With("room", room),
		endpoints: make(map[netid.Participant]Endpoint),
		owners:    make(map[netid.Handle]netid.Participant),
	}
}

func (a *Arbiter) Room() string { return a.room }

// Join admits p. The welcome frame describing the room as p finds it is
// the first frame p receives; everyone already present is told about p.
func (a *Arbiter) Join(p netid.Participant, ep Endpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p == "" {
		return fmt.Errorf("joining %s: empty participant id", a.room)
	}
	if _, ok := a.endpoints[p]; ok {
		return fmt.Errorf("joining %s as %s: %w", a.room, p, ErrAlreadyJoined)
	}
	a.broadcast(Frame{Op: OpJoined, Participant: p})
	a.order = append(a.order, p)
	a.endpoints[p] = ep
	a.logger.Info("participant joined", "participant", p, "session_owner", a.order[0])

	ep.Deliver(Frame{
		Op:           OpWelcome,
		Room:         a.room,
		Participant:  p,
		Participants: slices.Clone(a.order),
		SessionOwner: a.order[0],
		Owners:       maps.Clone(a.owners),
	})
	return nil
}

// Leave removes p. Handles p owned fall back to the session owner, which is
// re-elected first if p held that role. An empty room keeps its handles,
// unowned.
func (a *Arbiter) Leave(p netid.Participant) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := slices.Index(a.order, p)
	if i < 0 {
		return
	}
	a.order = slices.Delete(a.order, i, i+1)
	delete(a.endpoints, p)
	a.logger.Info("participant left", "participant", p)

	a.broadcast(Frame{Op: OpLeft, Participant: p})
	if len(a.order) == 0 {
		for h, owner := range a.owners {
			if owner == p {
				a.owners[h] = ""
			}
		}
		return
	}

	custodian := a.order[0]
	if i == 0 {
		a.logger.Info("session owner re-elected", "session_owner", custodian)
		a.broadcast(Frame{Op: OpSessionOwnerMoved, Participant: custodian})
	}
	for _, h := range a.handlesLocked() {
		if a.owners[h] != p {
			continue
		}
		a.owners[h] = custodian
		a.broadcast(Frame{Op: OpTransferred, Handle: h, Participant: custodian, Previous: p})
	}
}

func (a *Arbiter) SessionOwner() netid.Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.order) == 0 {
		return ""
	}
	return a.order[0]
}

func (a *Arbiter) Participants() []netid.Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.order)
}

func (a *Arbiter) Contains(p netid.Participant) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.endpoints[p]
	return ok
}

func (a *Arbiter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Owner reports the current owner of h. Handles of an empty room, and
// handles never allocated, have none.
func (a *Arbiter) Owner(h netid.Handle) (netid.Participant, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.owners[h]
	return owner, ok && owner != ""
}

// Allocate creates a handle owned by the session owner.
func (a *Arbiter) Allocate(p netid.Participant) (netid.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.endpoints[p]; !ok {
		return netid.NoHandle, fmt.Errorf("allocating handle: %s: %w", p, ErrNotJoined)
	}
	a.next++
	h := a.next
	a.owners[h] = a.order[0]
	a.broadcast(Frame{Op: OpAllocated, Handle: h, Participant: a.order[0]})
	return h, nil
}

// Request forwards an ownership request to the current owner of h, or to the
// session owner when h has none. Only the receiver decides; the arbiter never
// grants on its own.
func (a *Arbiter) Request(p netid.Participant, h netid.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.endpoints[p]; !ok {
		return fmt.Errorf("requesting %s: %s: %w", h, p, ErrNotJoined)
	}
	owner, ok := a.owners[h]
	if !ok {
		return fmt.Errorf("requesting %s: %w", h, ErrUnknownHandle)
	}
	if owner == "" {
		owner = a.order[0]
	}
	a.endpoints[owner].Deliver(Frame{Op: OpOwnershipRequest, Handle: h, Participant: p})
	return nil
}

// Transfer moves h from actor to to. Only the current owner may transfer,
// or the session owner for an unowned handle. A refused transfer is reported
// to both parties as transfer_failed and leaves ownership unchanged.
func (a *Arbiter) Transfer(actor netid.Participant, h netid.Handle, to netid.Participant) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.endpoints[actor]; !ok {
		return fmt.Errorf("transferring %s: %s: %w", h, actor, ErrNotJoined)
	}
	current, ok := a.owners[h]
	if !ok {
		return fmt.Errorf("transferring %s: %w", h, ErrUnknownHandle)
	}
	effective := current
	if effective == "" {
		effective = a.order[0]
	}

	var reason string
	switch _, present := a.endpoints[to]; {
	case actor != effective:
		reason = fmt.Sprintf("%s does not own %s", actor, h)
	case !present:
		reason = fmt.Sprintf("%s is not in the room", to)
	}
	if reason != "" {
		a.logger.Warn("ownership transfer refused", "handle", h, "actor", actor, "to", to, "reason", reason)
		failed := Frame{Op: OpTransferFailed, Handle: h, Error: reason}
		a.endpoints[actor].Deliver(failed)
		if ep, ok := a.endpoints[to]; ok && to != actor {
			ep.Deliver(failed)
		}
		return nil
	}

	a.owners[h] = to
	a.broadcast(Frame{Op: OpTransferred, Handle: h, Participant: to, Previous: current})
	return nil
}

// Send delivers payload from one participant. No recipients means everyone
// else in the room; recipients not in the room are skipped.
func (a *Arbiter) Send(from netid.Participant, payload []byte, recipients ...netid.Participant) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.endpoints[from]; !ok {
		return fmt.Errorf("sending: %s: %w", from, ErrNotJoined)
	}
	f := Frame{Op: OpMessage, Participant: from, Payload: payload}
	if len(recipients) == 0 {
		for _, p := range a.order {
			if p != from {
				a.endpoints[p].Deliver(f)
			}
		}
		return nil
	}
	for _, p := range recipients {
		ep, ok := a.endpoints[p]
		if !ok {
			a.logger.Debug("dropping message for absent participant", "from", from, "to", p)
			continue
		}
		ep.Deliver(f)
	}
	return nil
}

func (a *Arbiter) broadcast(f Frame) {
	for _, p := range a.order {
		a.endpoints[p].Deliver(f)
	}
}

func (a *Arbiter) handlesLocked() []netid.Handle {
	handles := make([]netid.Handle, 0, len(a.owners))
	for h := range a.owners {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}
