// Package roomstate maps application asset ids to transport object handles
// through the room's shared key-value store, so late joiners can attach to
// assets that already exist.
//
// The store is last-writer-wins with no compare-and-swap. Allocation writes,
// re-reads and adopts whatever value won; the store value always beats the
// local one.
package roomstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stagesync/internal/netid"
	"stagesync/internal/telemetry"
)

var ErrHandleNotFound = errors.New("handle not found")

const keyPrefix = "asset/"

type SharedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type Allocator interface {
	AllocateObjectHandle(ctx context.Context) (netid.Handle, error)
}

type Mapper struct {
	store    SharedStore
	alloc    Allocator
	logger   *slog.Logger
	handles  map[string]netid.Handle
	byHandle map[netid.Handle]string
}

func New(store SharedStore, alloc Allocator, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		store:    store,
		alloc:    alloc,
		logger:   logger,
		handles:  make(map[string]netid.Handle),
		byHandle: make(map[netid.Handle]string),
	}
}

func Key(assetID string) string {
	return keyPrefix + assetID
}

// AssetFromKey reverses Key.
func AssetFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, keyPrefix)
}

// AllocateHandle returns the room-wide handle for assetID, allocating one if
// the room has none yet.
func (m *Mapper) AllocateHandle(ctx context.Context, assetID string) (netid.Handle, error) {
	if h, ok, err := m.lookup(ctx, assetID); err != nil {
		return netid.NoHandle, err
	} else if ok {
		m.adopt(assetID, h)
		return h, nil
	}

	allocated, err := m.alloc.AllocateObjectHandle(ctx)
	if err != nil {
		return netid.NoHandle, fmt.Errorf("allocating handle for %s: %w", assetID, err)
	}
	if err := m.store.Set(ctx, Key(assetID), allocated.String()); err != nil {
		return netid.NoHandle, fmt.Errorf("storing handle for %s: %w", assetID, err)
	}

	winner, ok, err := m.lookup(ctx, assetID)
	if err != nil {
		return netid.NoHandle, err
	}
	if !ok {
		winner = allocated
	}
	if winner != allocated {
		telemetry.HandleConflicts.Inc()
		m.logger.Warn("stale handle conflict", "asset", assetID, "allocated", allocated, "adopted", winner)
	}
	m.adopt(assetID, winner)
	return winner, nil
}

// ResolveHandle reads the room store for an asset some other participant
// already registered.
func (m *Mapper) ResolveHandle(ctx context.Context, assetID string) (netid.Handle, error) {
	h, ok, err := m.lookup(ctx, assetID)
	if err != nil {
		return netid.NoHandle, err
	}
	if !ok {
		return netid.NoHandle, fmt.Errorf("%w: %s", ErrHandleNotFound, assetID)
	}
	m.adopt(assetID, h)
	return h, nil
}

// Reconcile re-reads the store and adopts its value when it differs from the
// local one. It reports whether the local handle changed.
func (m *Mapper) Reconcile(ctx context.Context, assetID string) (netid.Handle, bool, error) {
	current, known := m.handles[assetID]
	h, ok, err := m.lookup(ctx, assetID)
	if err != nil {
		return current, false, err
	}
	if !ok {
		if known {
			return current, false, nil
		}
		return netid.NoHandle, false, fmt.Errorf("%w: %s", ErrHandleNotFound, assetID)
	}
	if known && h == current {
		return h, false, nil
	}
	if known {
		telemetry.HandleConflicts.Inc()
		m.logger.Warn("stale handle conflict", "asset", assetID, "local", current, "adopted", h)
	}
	m.adopt(assetID, h)
	return h, known, nil
}

func (m *Mapper) Handle(assetID string) (netid.Handle, bool) {
	h, ok := m.handles[assetID]
	return h, ok
}

func (m *Mapper) AssetFor(h netid.Handle) (string, bool) {
	assetID, ok := m.byHandle[h]
	return assetID, ok
}

// Forget drops the local mapping. Room store entries are only cleared with
// the room.
func (m *Mapper) Forget(assetID string) {
	if h, ok := m.handles[assetID]; ok {
		delete(m.byHandle, h)
		delete(m.handles, assetID)
	}
}

func (m *Mapper) adopt(assetID string, h netid.Handle) {
	if previous, ok := m.handles[assetID]; ok && previous != h {
		delete(m.byHandle, previous)
	}
	m.handles[assetID] = h
	m.byHandle[h] = assetID
}

func (m *Mapper) lookup(ctx context.Context, assetID string) (netid.Handle, bool, error) {
	raw, ok, err := m.store.Get(ctx, Key(assetID))
	if err != nil {
		return netid.NoHandle, false, fmt.Errorf("reading handle for %s: %w", assetID, err)
	}
	if !ok {
		return netid.NoHandle, false, nil
	}
	h, err := netid.ParseHandle(raw)
	if err != nil {
		return netid.NoHandle, false, fmt.Errorf("reading handle for %s: %w", assetID, err)
	}
	return h, true, nil
}
