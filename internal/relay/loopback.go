package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"stagesync/internal/netid"
	"stagesync/internal/network"
	"stagesync/internal/roomstate"
)

// Loopback is an in-process room: every participant runs in the same
// process and talks to one arbiter directly.
type Loopback struct {
	arbiter *Arbiter
	shared  roomstate.SharedStore
	logger  *slog.Logger
}

func NewLoopback(room string, shared roomstate.SharedStore, logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loopback{arbiter: NewArbiter(room, logger), shared: shared, logger: logger}
}

func (l *Loopback) Arbiter() *Arbiter { return l.arbiter }

// Connect joins p to the room. Callbacks are held until the transport is
// bound; the bound handler must not call back into the transport
// synchronously, which is what network.Inbox is for.
func (l *Loopback) Connect(p netid.Participant) (*LocalTransport, error) {
	t := &LocalTransport{loop: l, participant: p, joined: true}
	if err := l.arbiter.Join(p, t); err != nil {
		return nil, err
	}
	return t, nil
}

var _ network.Transport = (*LocalTransport)(nil)

// LocalTransport is one participant's connection to a Loopback.
type LocalTransport struct {
	loop        *Loopback
	participant netid.Participant

	mu      sync.Mutex
	joined  bool
	handler network.Handler
	held    []Frame
}

func (t *LocalTransport) Deliver(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		t.held = append(t.held, f)
		return
	}
	Dispatch(f, t.handler)
}

func (t *LocalTransport) Bind(h network.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
	for _, f := range t.held {
		Dispatch(f, h)
	}
	t.held = nil
}

func (t *LocalTransport) LocalParticipant() netid.Participant { return t.participant }
func (t *LocalTransport) SessionOwner() netid.Participant     { return t.loop.arbiter.SessionOwner() }
func (t *LocalTransport) Participants() []netid.Participant   { return t.loop.arbiter.Participants() }

func (t *LocalTransport) InRoom() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined
}

func (t *LocalTransport) SendReliable(payload []byte, recipients ...netid.Participant) error {
	return t.loop.arbiter.Send(t.participant, payload, recipients...)
}

func (t *LocalTransport) AllocateObjectHandle(ctx context.Context) (netid.Handle, error) {
	if err := ctx.Err(); err != nil {
		return netid.NoHandle, err
	}
	return t.loop.arbiter.Allocate(t.participant)
}

func (t *LocalTransport) RequestOwnership(h netid.Handle) error {
	return t.loop.arbiter.Request(t.participant, h)
}

func (t *LocalTransport) TransferOwnership(h netid.Handle, to netid.Participant) error {
	return t.loop.arbiter.Transfer(t.participant, h, to)
}

func (t *LocalTransport) Owner(h netid.Handle) (netid.Participant, bool) {
	return t.loop.arbiter.Owner(h)
}

func (t *LocalTransport) Get(ctx context.Context, key string) (string, bool, error) {
	return t.loop.shared.Get(ctx, key)
}

func (t *LocalTransport) Set(ctx context.Context, key, value string) error {
	return t.loop.shared.Set(ctx, key, value)
}

// Leave disconnects from the room. Leaving twice fails with ErrClosed.
func (t *LocalTransport) Leave() error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return fmt.Errorf("leaving %s: %w", t.loop.arbiter.Room(), ErrClosed)
	}
	t.joined = false
	t.mu.Unlock()

	t.loop.arbiter.Leave(t.participant)
	t.loop.logger.Debug("loopback participant left", "participant", t.participant)
	return nil
}
