// Package store persists the room object map: the shared, last-writer-wins
// key-value space participants use to agree on object handles.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("store closed")

type Entry struct {
	Room      string
	Key       string
	Value     string
	UpdatedAt time.Time
}

type Store interface {
	Close(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	Get(ctx context.Context, room, key string) (string, bool, error)
	Set(ctx context.Context, room, key, value string) error
	List(ctx context.Context, room string) ([]Entry, error)
	ClearRoom(ctx context.Context, room string) (int64, error)
}

// RoomView scopes a Store to one room.
type RoomView struct {
	store Store
	room  string
}

func Room(s Store, room string) *RoomView {
	return &RoomView{store: s, room: room}
}

func (r *RoomView) Get(ctx context.Context, key string) (string, bool, error) {
	return r.store.Get(ctx, r.room, key)
}

func (r *RoomView) Set(ctx context.Context, key, value string) error {
	return r.store.Set(ctx, r.room, key, value)
}

func (r *RoomView) List(ctx context.Context) ([]Entry, error) {
	return r.store.List(ctx, r.room)
}
