// Package session is the per-room arena: it owns every asset instance a
// participant has in a room, wires each one to the ownership negotiator and
// the replicator, and tears them all down when the participant leaves.
//
// A Session is single-threaded. Transport callbacks are queued in an inbox
// and applied on Tick; use Loop to drive a session from other goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"stagesync/internal/authority"
	"stagesync/internal/mediator"
	"stagesync/internal/netid"
	"stagesync/internal/network"
	"stagesync/internal/property"
	"stagesync/internal/registry"
	"stagesync/internal/roomstate"
)

// reconcileTimeout bounds the room store reads a transport callback may
// trigger.
const reconcileTimeout = 5 * time.Second

var (
	ErrAssetExists   = errors.New("asset already exists")
	ErrAssetNotFound = errors.New("asset not found")
	ErrLeft          = errors.New("session has left the room")
	ErrUnknownStage  = errors.New("unknown stage")
)

// Transport is a room connection that also carries the room's shared
// key-value store.
type Transport interface {
	network.Transport
	roomstate.SharedStore
	Leave() error
}

type Options struct {
	Network network.Options
	Stages  []property.StageID
	Logger  *slog.Logger
}

// Asset is one instantiated, networked asset.
type Asset struct {
	ID       string
	Type     string
	Handle   netid.Handle
	Mediator *mediator.Mediator
	Link     *network.Link
}

type Session struct {
	transport  Transport
	registry   *registry.Registry
	mapper     *roomstate.Mapper
	negotiator *network.Negotiator
	replicator *network.Replicator
	inbox      *network.Inbox
	logger     *slog.Logger

	stages []property.StageID
	active property.StageID
	assets map[string]*Asset
	order  []string
	left   bool
}

var _ network.Handler = (*Session)(nil)

func New(transport Transport, reg *registry.Registry, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("participant", transport.LocalParticipant())
	netOpts := opts.Network
	netOpts.Logger = logger

	negotiator := network.NewNegotiator(transport, netOpts)
	s := &Session{
		transport:  transport,
		registry:   reg,
		mapper:     roomstate.New(transport, transport, logger),
		negotiator: negotiator,
		replicator: network.NewReplicator(transport, negotiator, logger),
		inbox:      network.NewInbox(),
		logger:     logger,
		stages:     slices.Clone(opts.Stages),
		assets:     make(map[string]*Asset),
	}
	if len(s.stages) > 0 {
		s.active = s.stages[0]
	}
	transport.Bind(s.inbox)
	return s
}

func (s *Session) Participant() netid.Participant  { return s.transport.LocalParticipant() }
func (s *Session) SessionOwner() netid.Participant { return s.transport.SessionOwner() }
func (s *Session) Negotiator() *network.Negotiator { return s.negotiator }
func (s *Session) Registry() *registry.Registry    { return s.registry }
func (s *Session) Inbox() *network.Inbox           { return s.inbox }
func (s *Session) ActiveStage() property.StageID   { return s.active }
func (s *Session) Stages() []property.StageID      { return slices.Clone(s.stages) }

func (s *Session) OnOwnershipChanged(fn func(network.OwnershipChange)) {
	s.negotiator.OnOwnershipChanged(fn)
}

// Seed writes authored values into a freshly built asset before it is
// attached to the room. Its writes are not replicated.
type Seed func(m *mediator.Mediator) error

// Instantiate builds an asset of typeName and attaches it to the room. If
// the room already knows assetID, the existing handle is adopted and the
// current owner is asked for a snapshot; otherwise a handle is allocated. A
// nil auth means an open policy.
func (s *Session) Instantiate(ctx context.Context, typeName, assetID string, auth *authority.Authority) (*Asset, error) {
	return s.InstantiateSeeded(ctx, typeName, assetID, auth, nil)
}

// InstantiateSeeded is Instantiate with authored values applied by seed
// first. A seed error aborts the instantiation.
func (s *Session) InstantiateSeeded(ctx context.Context, typeName, assetID string, auth *authority.Authority, seed Seed) (*Asset, error) {
	if s.left {
		return nil, ErrLeft
	}
	if _, ok := s.assets[assetID]; ok {
		return nil, fmt.Errorf("instantiating %s: %w", assetID, ErrAssetExists)
	}
	m, err := s.registry.Build(assetID, typeName, s.stages, s.logger)
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", assetID, err)
	}
	if s.active != "" {
		m.SetActiveStage(s.active)
	}
	if seed != nil {
		if err := seed(m); err != nil {
			return nil, fmt.Errorf("instantiating %s: %w", assetID, err)
		}
	}

	handle, existing, err := s.handleFor(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", assetID, err)
	}
	if auth == nil {
		auth = authority.New(authority.PolicyOpen)
	}

	link := s.negotiator.Track(assetID, handle, auth, m)
	s.replicator.Attach(link)
	asset := &Asset{ID: assetID, Type: typeName, Handle: handle, Mediator: m, Link: link}
	s.assets[assetID] = asset
	s.order = append(s.order, assetID)

	s.logger.Info("asset instantiated", "asset", assetID, "type", typeName, "handle", handle, "existing", existing)
	if existing && link.State() != network.OwnedByMe {
		s.replicator.RequestState(link)
	}
	return asset, nil
}

func (s *Session) handleFor(ctx context.Context, assetID string) (netid.Handle, bool, error) {
	h, err := s.mapper.ResolveHandle(ctx, assetID)
	if err == nil {
		return h, true, nil
	}
	if !errors.Is(err, roomstate.ErrHandleNotFound) {
		return netid.NoHandle, false, err
	}
	h, err = s.mapper.AllocateHandle(ctx, assetID)
	return h, false, err
}

// Destroy detaches an asset from the room and drops it from the arena. The
// room object map keeps its handle.
func (s *Session) Destroy(assetID string) error {
	asset, ok := s.assets[assetID]
	if !ok {
		return fmt.Errorf("destroying %s: %w", assetID, ErrAssetNotFound)
	}
	s.replicator.Detach(asset.Link)
	s.negotiator.Untrack(assetID)
	s.mapper.Forget(assetID)
	delete(s.assets, assetID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == assetID })
	s.logger.Info("asset destroyed", "asset", assetID)
	return nil
}

func (s *Session) Asset(assetID string) (*Asset, error) {
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", assetID, ErrAssetNotFound)
	}
	return asset, nil
}

// Assets returns every asset in instantiation order.
func (s *Session) Assets() []*Asset {
	out := make([]*Asset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.assets[id])
	}
	return out
}

// AddStage appends a stage to every asset.
func (s *Session) AddStage(stage property.StageID) {
	if slices.Contains(s.stages, stage) {
		return
	}
	s.stages = append(s.stages, stage)
	for _, asset := range s.assets {
		asset.Mediator.AddStage(stage)
	}
	if s.active == "" {
		_ = s.SetActiveStage(stage)
	}
}

// RemoveStage drops a stage from every asset. Removing the active stage
// activates the first remaining one.
func (s *Session) RemoveStage(stage property.StageID) {
	i := slices.Index(s.stages, stage)
	if i < 0 {
		return
	}
	s.stages = slices.Delete(s.stages, i, i+1)
	for _, asset := range s.assets {
		asset.Mediator.RemoveStage(stage)
	}
	if s.active != stage {
		return
	}
	s.active = ""
	if len(s.stages) > 0 {
		_ = s.SetActiveStage(s.stages[0])
	}
}

func (s *Session) SetActiveStage(stage property.StageID) error {
	if !slices.Contains(s.stages, stage) {
		return fmt.Errorf("activating stage %s: %w", stage, ErrUnknownStage)
	}
	s.active = stage
	for _, id := range s.order {
		s.assets[id].Mediator.SetActiveStage(stage)
	}
	return nil
}

// Tick applies every transport callback queued since the last tick, then
// sends the changes a closed grace window held back.
func (s *Session) Tick() int {
	n := s.inbox.Drain(s)
	s.replicator.Flush()
	return n
}

// Reconcile re-reads the room object map for every asset and moves each one
// whose local handle lost an allocation race to the handle the room agreed
// on. It returns the number of assets moved.
func (s *Session) Reconcile(ctx context.Context) (int, error) {
	if s.left {
		return 0, ErrLeft
	}
	moved := 0
	var errs []error
	for _, id := range s.order {
		asset := s.assets[id]
		h, changed, err := s.mapper.Reconcile(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !changed {
			continue
		}
		if err := s.negotiator.Rehandle(id, h); err != nil {
			errs = append(errs, err)
			continue
		}
		asset.Handle = h
		moved++
	}
	return moved, errors.Join(errs...)
}

// reconcileUnknown runs when an ownership request arrives for a handle no
// local asset uses, which happens when this participant kept a handle that
// lost an allocation race. Broadcast transfers do not trigger it.
func (s *Session) reconcileUnknown(h netid.Handle) {
	if _, ok := s.negotiator.Link(h); ok || s.left {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	moved, err := s.Reconcile(ctx)
	if err != nil {
		s.logger.Warn("reconciling room handles", "handle", h, "error", err)
	}
	if moved > 0 {
		s.logger.Info("reconciled room handles", "handle", h, "moved", moved)
	}
}

// Leave tears down every asset and disconnects from the room.
func (s *Session) Leave() error {
	if s.left {
		return ErrLeft
	}
	for _, id := range slices.Clone(s.order) {
		_ = s.Destroy(id)
	}
	s.left = true
	if err := s.transport.Leave(); err != nil {
		return fmt.Errorf("leaving room: %w", err)
	}
	s.logger.Info("left room")
	return nil
}

func (s *Session) HandleMessage(from netid.Participant, payload []byte) {
	s.replicator.HandleMessage(from, payload)
}

func (s *Session) HandleOwnershipRequest(h netid.Handle, requester netid.Participant) {
	s.reconcileUnknown(h)
	s.negotiator.HandleOwnershipRequest(h, requester)
}

func (s *Session) HandleOwnershipTransferred(h netid.Handle, newOwner, previous netid.Participant) {
	s.negotiator.HandleOwnershipTransferred(h, newOwner, previous)
}

func (s *Session) HandleOwnershipTransferFailed(h netid.Handle, reason string) {
	s.negotiator.HandleOwnershipTransferFailed(h, reason)
}

func (s *Session) HandleParticipantJoined(p netid.Participant) {
	s.logger.Info("participant joined", "joined", p)
}

func (s *Session) HandleParticipantLeft(p netid.Participant) {
	s.logger.Info("participant left", "left", p)
	s.negotiator.HandleParticipantLeft(p)
}

func (s *Session) HandleSessionOwnerChanged(owner netid.Participant) {
	s.negotiator.HandleSessionOwnerChanged(owner)
}
