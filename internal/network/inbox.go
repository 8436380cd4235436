package network

import (
	"sync"

	"stagesync/internal/netid"
)

var _ Handler = (*Inbox)(nil)

// Inbox queues transport callbacks, which may fire on any goroutine, until
// the owning session drains them on its own tick.
type Inbox struct {
	mu     sync.Mutex
	queue  []func(Handler)
	notify chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

// Ready is signalled whenever the queue goes from empty to non-empty.
func (i *Inbox) Ready() <-chan struct{} {
	return i.notify
}

func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue)
}

// Drain runs every queued callback against h in arrival order and returns
// how many ran. Callbacks queued while draining wait for the next call.
func (i *Inbox) Drain(h Handler) int {
	i.mu.Lock()
	queue := i.queue
	i.queue = nil
	i.mu.Unlock()

	for _, fn := range queue {
		fn(h)
	}
	return len(queue)
}

func (i *Inbox) push(fn func(Handler)) {
	i.mu.Lock()
	i.queue = append(i.queue, fn)
	first := len(i.queue) == 1
	i.mu.Unlock()
	if first {
		select {
		case i.notify <- struct{}{}:
		default:
		}
	}
}

func (i *Inbox) HandleMessage(from netid.Participant, payload []byte) {
	buf := append([]byte(nil), payload...)
	i.push(func(h Handler) { h.HandleMessage(from, buf) })
}

func (i *Inbox) HandleOwnershipRequest(handle netid.Handle, requester netid.Participant) {
	i.push(func(h Handler) { h.HandleOwnershipRequest(handle, requester) })
}

func (i *Inbox) HandleOwnershipTransferred(handle netid.Handle, newOwner, previous netid.Participant) {
	i.push(func(h Handler) { h.HandleOwnershipTransferred(handle, newOwner, previous) })
}

func (i *Inbox) HandleOwnershipTransferFailed(handle netid.Handle, reason string) {
	i.push(func(h Handler) { h.HandleOwnershipTransferFailed(handle, reason) })
}

func (i *Inbox) HandleParticipantJoined(p netid.Participant) {
	i.push(func(h Handler) { h.HandleParticipantJoined(p) })
}

func (i *Inbox) HandleParticipantLeft(p netid.Participant) {
	i.push(func(h Handler) { h.HandleParticipantLeft(p) })
}

func (i *Inbox) HandleSessionOwnerChanged(owner netid.Participant) {
	i.push(func(h Handler) { h.HandleSessionOwnerChanged(owner) })
}
