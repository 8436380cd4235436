package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stagesync/internal/netid"
	"stagesync/internal/store"
	"stagesync/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 1 << 20
	outboundBuffer = 256
)

// Server relays rooms over websockets. Each connection joins exactly one
// room with its first frame; the room's shared store is backed by a
// store.Store scoped to the room name.
type Server struct {
	store    store.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*Arbiter
}

func NewServer(s store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  s,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*Arbiter),
	}
}

// Rooms lists rooms with at least one participant.
func (s *Server) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, a := range s.rooms {
		if a.Len() > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Server) arbiter(room string) *Arbiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rooms[room]
	if !ok {
		a = NewArbiter(room, s.logger)
		s.rooms[room] = a
	}
	return a
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)
	telemetry.RelayConnections.Inc()
	defer telemetry.RelayConnections.Dec()

	p := &peer{
		conn: conn,
		out:  make(chan Frame, outboundBuffer),
		done: make(chan struct{}),
	}
	defer p.close()

	join, err := p.read()
	if err != nil || join.Op != OpJoin {
		s.logger.Warn("connection closed before join", "remote", r.RemoteAddr, "error", err)
		return
	}
	telemetry.RelayFrames.WithLabelValues(string(join.Op)).Inc()

	a := s.arbiter(join.Room)
	if err := a.Join(join.Participant, p); err != nil {
		_ = p.write(Frame{Op: OpReply, ID: join.ID, Error: err.Error()})
		return
	}
	defer a.Leave(join.Participant)
	go p.writeLoop(s.logger)

	logger := s.logger.With("room", join.Room, "participant", join.Participant)
	shared := store.Room(s.store, join.Room)
	for {
		f, err := p.read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("connection read ended", "error", err)
			}
			return
		}
		telemetry.RelayFrames.WithLabelValues(string(f.Op)).Inc()
		if f.Op == OpLeave {
			return
		}
		s.handle(r.Context(), a, shared, join.Participant, p, f, logger)
	}
}

func (s *Server) handle(ctx context.Context, a *Arbiter, shared *store.RoomView, from netid.Participant, p *peer, f Frame, logger *slog.Logger) {
	reply := Frame{Op: OpReply, ID: f.ID}
	var err error

	switch f.Op {
	case OpSend:
		err = a.Send(from, f.Payload, f.Recipients...)
	case OpAllocate:
		reply.Handle, err = a.Allocate(from)
		if err == nil {
			reply.Participant, _ = a.Owner(reply.Handle)
		}
	case OpRequest:
		if err = a.Request(from, f.Handle); err != nil {
			p.Deliver(Frame{Op: OpTransferFailed, Handle: f.Handle, Error: err.Error()})
			err = nil
		}
	case OpTransfer:
		err = a.Transfer(from, f.Handle, f.Participant)
	case OpStoreGet:
		reply.Key = f.Key
		reply.Value, reply.Found, err = shared.Get(ctx, f.Key)
	case OpStoreSet:
		reply.Key = f.Key
		err = shared.Set(ctx, f.Key, f.Value)
	default:
		logger.Warn("unsupported frame", "op", f.Op)
		return
	}

	if err != nil {
		logger.Warn("frame failed", "op", f.Op, "error", err)
		reply.Error = err.Error()
	}
	if f.ID != "" {
		p.Deliver(reply)
	}
}

// peer is the server side of one websocket connection.
type peer struct {
	conn *websocket.Conn
	out  chan Frame
	done chan struct{}
	once sync.Once
}

// Deliver queues f for the writer. A peer that falls a full buffer behind
// is disconnected.
func (p *peer) Deliver(f Frame) {
	select {
	case <-p.done:
	case p.out <- f:
	default:
		p.close()
	}
}

func (p *peer) read() (Frame, error) {
	kind, data, err := p.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if kind != websocket.BinaryMessage {
		return Frame{}, errors.New("expected a binary frame")
	}
	return DecodeFrame(data)
}

func (p *peer) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			if err := p.write(f); err != nil {
				logger.Debug("writing frame failed", "op", f.Op, "error", err)
				p.close()
				return
			}
		}
	}
}

func (p *peer) write(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
