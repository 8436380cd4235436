package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stagesync/internal/netid"
	"stagesync/internal/network"
)

var _ network.Transport = (*Client)(nil)

// Client is a participant's websocket connection to a relay Server. It
// mirrors the room state the relay announces so ownership and session
// owner queries are answered locally.
type Client struct {
	conn        *websocket.Conn
	room        string
	participant netid.Participant
	logger      *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	mu           sync.Mutex
	closed       bool
	participants []netid.Participant
	sessionOwner netid.Participant
	owners       map[netid.Handle]netid.Participant
	calls        map[string]chan Frame
	handler      network.Handler
	held         []Frame

	welcome chan Frame
	done    chan struct{}
}

// Dial connects to the relay at url and joins room as participant. It
// returns once the relay has admitted the participant.
func Dial(ctx context.Context, url, room string, participant netid.Participant, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}
	c := &Client{
		conn:        conn,
		room:        room,
		participant: participant,
		logger:      logger.With("room", room, "participant", participant),
		owners:      make(map[netid.Handle]netid.Participant),
		calls:       make(map[string]chan Frame),
		welcome:     make(chan Frame, 1),
		done:        make(chan struct{}),
	}
	go c.readLoop()

	joinID := uuid.NewString()
	reply := c.register(joinID)
	if err := c.write(Frame{Op: OpJoin, ID: joinID, Room: room, Participant: participant}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("joining %s: %w", room, err)
	}
	select {
	case <-c.welcome:
		c.unregister(joinID)
		return c, nil
	case f := <-reply:
		_ = c.Close()
		return nil, fmt.Errorf("joining %s: %s", room, f.Error)
	case <-c.done:
		return nil, fmt.Errorf("joining %s: %w", room, ErrClosed)
	case <-ctx.Done():
		_ = c.Close()
		return nil, fmt.Errorf("joining %s: %w", room, ctx.Err())
	}
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("relay read ended", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		f, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.receive(f)
	}
}

func (c *Client) receive(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Op {
	case OpWelcome:
		c.participants = f.Participants
		c.sessionOwner = f.SessionOwner
		for h, p := range f.Owners {
			c.owners[h] = p
		}
		select {
		case c.welcome <- f:
		default:
		}
		return
	case OpReply:
		if ch, ok := c.calls[f.ID]; ok {
			ch <- f
		}
		return
	case OpAllocated, OpTransferred:
		c.owners[f.Handle] = f.Participant
	case OpJoined:
		if !slices.Contains(c.participants, f.Participant) {
			c.participants = append(c.participants, f.Participant)
		}
	case OpLeft:
		c.participants = slices.DeleteFunc(c.participants, func(p netid.Participant) bool { return p == f.Participant })
	case OpSessionOwnerMoved:
		c.sessionOwner = f.Participant
	}

	if c.handler == nil {
		c.held = append(c.held, f)
		return
	}
	Dispatch(f, c.handler)
}

func (c *Client) Bind(h network.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	for _, f := range c.held {
		Dispatch(f, h)
	}
	c.held = nil
}

func (c *Client) LocalParticipant() netid.Participant { return c.participant }

func (c *Client) SessionOwner() netid.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionOwner
}

func (c *Client) Participants() []netid.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.participants)
}

func (c *Client) InRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Client) Owner(h netid.Handle) (netid.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[h]
	return owner, ok && owner != ""
}

func (c *Client) SendReliable(payload []byte, recipients ...netid.Participant) error {
	return c.write(Frame{Op: OpSend, Payload: payload, Recipients: recipients})
}

func (c *Client) AllocateObjectHandle(ctx context.Context) (netid.Handle, error) {
	reply, err := c.call(ctx, Frame{Op: OpAllocate})
	if err != nil {
		return netid.NoHandle, fmt.Errorf("allocating handle: %w", err)
	}
	// The allocated frame precedes the reply, so the owner mirror is current.
	return reply.Handle, nil
}

// RequestOwnership is fire and forget; the answer, if any, arrives as a
// transfer callback.
func (c *Client) RequestOwnership(h netid.Handle) error {
	return c.write(Frame{Op: OpRequest, Handle: h})
}

func (c *Client) TransferOwnership(h netid.Handle, to netid.Participant) error {
	return c.write(Frame{Op: OpTransfer, Handle: h, Participant: to})
}

// Get reads the room's shared store.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	reply, err := c.call(ctx, Frame{Op: OpStoreGet, Key: key})
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return reply.Value, reply.Found, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	if _, err := c.call(ctx, Frame{Op: OpStoreSet, Key: key, Value: value}); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Leave tells the relay the participant is leaving and closes the
// connection.
func (c *Client) Leave() error {
	if err := c.write(Frame{Op: OpLeave}); err != nil {
		return err
	}
	return c.Close()
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.shutdown()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) call(ctx context.Context, f Frame) (Frame, error) {
	f.ID = uuid.NewString()
	reply := c.register(f.ID)
	defer c.unregister(f.ID)

	if err := c.write(f); err != nil {
		return Frame{}, err
	}
	select {
	case r := <-reply:
		if r.Error != "" {
			return Frame{}, errors.New(r.Error)
		}
		return r, nil
	case <-c.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Client) register(id string) chan Frame {
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.calls[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Client) write(f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Op, err)
	}
	return nil
}
