package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory is a process-local Store for tests and single-host relays.
type Memory struct {
	mu     sync.Mutex
	rooms  map[string]map[string]Entry
	closed bool
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[string]Entry), now: time.Now}
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *Memory) Get(ctx context.Context, room, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	entry, ok := m.rooms[room][key]
	return entry.Value, ok, nil
}

func (m *Memory) Set(ctx context.Context, room, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	entries, ok := m.rooms[room]
	if !ok {
		entries = make(map[string]Entry)
		m.rooms[room] = entries
	}
	entries[key] = Entry{Room: room, Key: key, Value: value, UpdatedAt: m.now()}
	return nil
}

func (m *Memory) List(ctx context.Context, room string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Entry, 0, len(m.rooms[room]))
	for _, entry := range m.rooms[room] {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) ClearRoom(ctx context.Context, room string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := int64(len(m.rooms[room]))
	delete(m.rooms, room)
	return n, nil
}
