package network

import (
	"fmt"
	"log/slog"
	"time"

	"stagesync/internal/authority"
	"stagesync/internal/mediator"
	"stagesync/internal/netid"
	"stagesync/internal/property"
	"stagesync/internal/telemetry"
)

type OwnershipState int

const (
	Unowned OwnershipState = iota
	OwnedByMe
	PendingTransfer
	OwnedByOther
)

func (s OwnershipState) String() string {
	switch s {
	case Unowned:
		return "unowned"
	case OwnedByMe:
		return "owned_by_me"
	case PendingTransfer:
		return "pending_transfer"
	case OwnedByOther:
		return "owned_by_other"
	}
	return fmt.Sprintf("ownership(%d)", int(s))
}

// OwnershipChange is published whenever a tracked asset changes local state.
type OwnershipChange struct {
	AssetID  string
	Handle   netid.Handle
	State    OwnershipState
	Previous OwnershipState
	Owner    netid.Participant
}

type Options struct {
	// GraceWindow suppresses outbound replication of interpolated
	// properties after ownership arrives from another participant.
	GraceWindow time.Duration
	// FailClosed refuses to request ownership the local authority view
	// already forbids.
	FailClosed bool
	Now        func() time.Time
	Logger     *slog.Logger
}

// Negotiator runs the ownership protocol for every tracked asset of one
// participant. It is not safe for concurrent use; the session drives it
// from a single goroutine.
type Negotiator struct {
	transport Transport
	opts      Options
	logger    *slog.Logger

	links   map[netid.Handle]*Link
	byAsset map[string]*Link

	changeListeners    []func(OwnershipChange)
	releaseListeners   []func(*Link)
	authorityListeners []func(*Link)
}

func NewNegotiator(transport Transport, opts Options) *Negotiator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		transport: transport,
		opts:      opts,
		logger:    logger,
		links:     make(map[netid.Handle]*Link),
		byAsset:   make(map[string]*Link),
	}
}

// OnOwnershipChanged registers fn for every local ownership state change.
func (n *Negotiator) OnOwnershipChanged(fn func(OwnershipChange)) {
	n.changeListeners = append(n.changeListeners, fn)
}

// OnRelease registers fn to run just before ownership is handed back to the
// session owner.
func (n *Negotiator) OnRelease(fn func(*Link)) {
	n.releaseListeners = append(n.releaseListeners, fn)
}

// OnAuthorityChanged registers fn for local authority edits.
func (n *Negotiator) OnAuthorityChanged(fn func(*Link)) {
	n.authorityListeners = append(n.authorityListeners, fn)
}

// Track starts negotiating ownership for an asset and installs the link as
// the mediator's write gate.
func (n *Negotiator) Track(assetID string, handle netid.Handle, auth *authority.Authority, m *mediator.Mediator) *Link {
	link := &Link{
		n:         n,
		assetID:   assetID,
		handle:    handle,
		authority: auth,
		mediator:  m,
		logger:    n.logger.With("asset", assetID, "handle", handle),
	}
	if owner, ok := n.transport.Owner(handle); ok {
		link.owner = owner
		if owner == n.transport.LocalParticipant() {
			link.state = OwnedByMe
		} else {
			link.state = OwnedByOther
		}
	}
	n.links[handle] = link
	n.byAsset[assetID] = link
	if m != nil {
		m.SetGate(link)
		if link.state == OwnedByMe {
			m.NotifyOwnership(true)
		}
	}
	return link
}

func (n *Negotiator) Untrack(assetID string) {
	link, ok := n.byAsset[assetID]
	if !ok {
		return
	}
	delete(n.byAsset, assetID)
	delete(n.links, link.handle)
	link.pending = nil
	link.deferred = nil
	if link.mediator != nil {
		link.mediator.SetGate(nil)
	}
}

// Rehandle moves a tracked asset to handle after the room object map settled
// on a different one. Ownership restarts from the transport's view of the
// new handle, and a request in flight on the old handle is sent again.
func (n *Negotiator) Rehandle(assetID string, handle netid.Handle) error {
	link, ok := n.byAsset[assetID]
	if !ok {
		return fmt.Errorf("rehandling %s: not tracked", assetID)
	}
	if link.handle == handle {
		return nil
	}
	previous := link.handle
	wasOwned := link.state == OwnedByMe
	wasPending := link.state == PendingTransfer

	delete(n.links, previous)
	link.handle = handle
	link.logger = n.logger.With("asset", assetID, "handle", handle)
	n.links[handle] = link
	link.logger.Info("asset moved to room handle", "previous", previous)

	link.owner = ""
	state := Unowned
	if owner, ok := n.transport.Owner(handle); ok {
		link.owner = owner
		state = OwnedByOther
		if owner == n.local() {
			state = OwnedByMe
		}
	}
	link.setState(state)

	switch {
	case state == OwnedByMe:
		if !wasOwned && link.mediator != nil {
			link.mediator.NotifyOwnership(true)
		}
		link.applyPending()
	case wasOwned:
		link.deferred = nil
		if link.mediator != nil {
			link.mediator.NotifyOwnership(false)
		}
	}
	if state != OwnedByMe && (wasPending || len(link.pending) > 0) {
		if err := link.request(); err != nil {
			link.logger.Warn("re-requesting ownership failed", "error", err)
		}
	}
	return nil
}

func (n *Negotiator) Link(handle netid.Handle) (*Link, bool) {
	link, ok := n.links[handle]
	return link, ok
}

func (n *Negotiator) LinkFor(assetID string) (*Link, bool) {
	link, ok := n.byAsset[assetID]
	return link, ok
}

func (n *Negotiator) local() netid.Participant {
	return n.transport.LocalParticipant()
}

func (n *Negotiator) sessionOwner() netid.Participant {
	return n.transport.SessionOwner()
}

// HandleOwnershipRequest grants the request iff the asset's authority
// permits the requester. Denial is silence.
func (n *Negotiator) HandleOwnershipRequest(handle netid.Handle, requester netid.Participant) {
	link, ok := n.links[handle]
	if !ok {
		n.logger.Debug("ownership request for untracked handle", "handle", handle, "requester", requester)
		return
	}
	if link.state != OwnedByMe && !(link.state == Unowned && n.local() == n.sessionOwner()) {
		link.logger.Debug("ignoring ownership request, not the owner", "requester", requester, "state", link.state)
		return
	}
	if !link.authority.Permits(requester, n.sessionOwner()) {
		link.logger.Info("ownership request denied", "requester", requester, "policy", link.authority.Policy())
		return
	}
	if err := n.transport.TransferOwnership(handle, requester); err != nil {
		link.logger.Warn("granting ownership failed", "requester", requester, "error", err)
	}
}

func (n *Negotiator) HandleOwnershipTransferred(handle netid.Handle, newOwner, previous netid.Participant) {
	link, ok := n.links[handle]
	if !ok {
		return
	}
	link.transferred(newOwner, previous)
}

func (n *Negotiator) HandleOwnershipTransferFailed(handle netid.Handle, reason string) {
	telemetry.OwnershipTransferFailures.Inc()
	link, ok := n.links[handle]
	if !ok {
		n.logger.Warn("ownership transfer failed", "handle", handle, "reason", reason)
		return
	}
	link.logger.Warn("ownership transfer failed", "reason", reason, "state", link.state)
	if link.state != PendingTransfer {
		return
	}
	switch {
	case link.owner == "":
		link.setState(Unowned)
	case link.owner == n.local():
		link.setState(OwnedByMe)
	default:
		link.setState(OwnedByOther)
	}
}

// HandleParticipantLeft prunes the participant from every allow-set. The
// transport reassigns assets it owned.
func (n *Negotiator) HandleParticipantLeft(p netid.Participant) {
	for _, link := range n.links {
		if link.authority.Forget(p) {
			link.logger.Info("pruned departed participant from allow-set", "participant", p)
		}
	}
}

// HandleSessionOwnerChanged re-checks every owner against authority; the new
// session owner may be the custodian now.
func (n *Negotiator) HandleSessionOwnerChanged(owner netid.Participant) {
	n.logger.Info("session owner changed", "owner", owner)
	for _, link := range n.links {
		link.revalidate()
	}
}

// Link is the negotiator's per-asset state. It implements mediator.Gate.
type Link struct {
	n         *Negotiator
	assetID   string
	handle    netid.Handle
	authority *authority.Authority
	mediator  *mediator.Mediator
	logger    *slog.Logger

	state        OwnershipState
	owner        netid.Participant
	manipulating bool
	graceUntil   time.Time
	pending      []func()
	deferred     []deferredChange
}

// deferredChange is a local change held back by the grace window.
type deferredChange struct {
	property string
	stage    property.StageID
}

var _ mediator.Gate = (*Link)(nil)

func (l *Link) AssetID() string                 { return l.assetID }
func (l *Link) Handle() netid.Handle            { return l.handle }
func (l *Link) State() OwnershipState           { return l.state }
func (l *Link) Owner() netid.Participant        { return l.owner }
func (l *Link) Authority() *authority.Authority { return l.authority }
func (l *Link) Mediator() *mediator.Mediator    { return l.mediator }
func (l *Link) Manipulating() bool              { return l.manipulating }
func (l *Link) PendingWrites() int              { return len(l.pending) }

// CanWrite reports whether a local write may go straight to the pipeline.
// Outside a room every write is local-only.
func (l *Link) CanWrite() bool {
	return !l.n.transport.InRoom() || l.state == OwnedByMe
}

// Acquire queues apply until ownership arrives, requesting it if no request
// is in flight. Queued writes live until ownership arrives or the asset is
// untracked; a silently denied request keeps them queued, and every write
// made meanwhile is queued behind them in order.
func (l *Link) Acquire(apply func()) error {
	if err := l.checkAuthority(); err != nil {
		return err
	}
	l.pending = append(l.pending, apply)
	if l.state == PendingTransfer {
		return nil
	}
	if err := l.request(); err != nil {
		l.pending = l.pending[:len(l.pending)-1]
		return err
	}
	return nil
}

// BeginManipulation starts a gesture and requests ownership when it is not
// already held locally.
func (l *Link) BeginManipulation() error {
	l.manipulating = true
	if !l.n.transport.InRoom() || l.state == OwnedByMe || l.state == PendingTransfer {
		return nil
	}
	if err := l.checkAuthority(); err != nil {
		return err
	}
	return l.request()
}

// EndManipulation finishes a gesture. A participant that is neither the
// session owner nor exempt hands ownership back, re-sending terminal values
// first. A grant still in flight is released when it lands.
func (l *Link) EndManipulation() {
	l.manipulating = false
	if l.state == OwnedByMe {
		l.releaseIfRequired()
	}
}

// SuppressOutbound reports whether a change to def must not be replicated
// yet because ownership only just arrived.
func (l *Link) SuppressOutbound(def property.Definition) bool {
	return def.Interpolated && l.n.opts.Now().Before(l.graceUntil)
}

func (l *Link) deferOutbound(name string, stage property.StageID) {
	change := deferredChange{property: name, stage: stage}
	for _, d := range l.deferred {
		if d == change {
			return
		}
	}
	l.deferred = append(l.deferred, change)
}

// takeDeferred returns the held back changes once the grace window is over.
// With force set the window is ignored.
func (l *Link) takeDeferred(force bool) []deferredChange {
	if len(l.deferred) == 0 || l.state != OwnedByMe {
		l.deferred = nil
		return nil
	}
	if !force && l.n.opts.Now().Before(l.graceUntil) {
		return nil
	}
	out := l.deferred
	l.deferred = nil
	return out
}

func (l *Link) SetPolicy(policy authority.Policy) error {
	if err := l.authority.SetPolicy(l.n.local(), l.n.sessionOwner(), policy); err != nil {
		return err
	}
	l.authorityChanged()
	return nil
}

func (l *Link) AddAuthority(p netid.Participant) error {
	if err := l.authority.Add(l.n.local(), l.n.sessionOwner(), p); err != nil {
		return err
	}
	l.authorityChanged()
	return nil
}

func (l *Link) RemoveAuthority(p netid.Participant) error {
	if err := l.authority.Remove(l.n.local(), l.n.sessionOwner(), p); err != nil {
		return err
	}
	l.authorityChanged()
	return nil
}

// ApplyAuthority installs a replicated authority state sent by actor.
func (l *Link) ApplyAuthority(actor netid.Participant, state authority.State) error {
	if err := l.authority.Apply(actor, l.n.sessionOwner(), state); err != nil {
		return err
	}
	l.revalidate()
	return nil
}

func (l *Link) authorityChanged() {
	for _, fn := range l.n.authorityListeners {
		fn(l)
	}
	l.revalidate()
}

func (l *Link) checkAuthority() error {
	local := l.n.local()
	if !l.n.opts.FailClosed || l.authority.Permits(local, l.n.sessionOwner()) {
		return nil
	}
	return fmt.Errorf("%s on %s: %w", local, l.assetID, authority.ErrNotAuthorized)
}

func (l *Link) request() error {
	if !l.n.transport.InRoom() {
		return fmt.Errorf("requesting ownership of %s: not in a room", l.assetID)
	}
	if err := l.n.transport.RequestOwnership(l.handle); err != nil {
		return fmt.Errorf("requesting ownership of %s: %w", l.assetID, err)
	}
	l.setState(PendingTransfer)
	return nil
}

// revalidate is the custodian check: the session owner takes an asset back
// from an owner the authority no longer permits.
func (l *Link) revalidate() {
	local := l.n.local()
	if local != l.n.sessionOwner() || l.owner == "" || l.owner == local {
		return
	}
	if l.authority.Permits(l.owner, local) || l.state == PendingTransfer {
		return
	}
	l.logger.Info("owner no longer permitted, reclaiming", "owner", l.owner, "policy", l.authority.Policy())
	if err := l.request(); err != nil {
		l.logger.Warn("reclaiming ownership failed", "error", err)
	}
}

func (l *Link) transferred(newOwner, previous netid.Participant) {
	local := l.n.local()
	l.owner = newOwner

	switch {
	case newOwner == local:
		l.setState(OwnedByMe)
		if l.mediator != nil {
			l.mediator.NotifyOwnership(true)
		}
		// Queued writes replicate before the grace window opens.
		l.applyPending()
		if previous != "" && previous != local {
			l.graceUntil = l.n.opts.Now().Add(l.n.opts.GraceWindow)
		}
		if !l.manipulating {
			l.releaseIfRequired()
		}
	case previous == local:
		l.setState(OwnedByOther)
		l.deferred = nil
		if l.mediator != nil {
			l.mediator.NotifyOwnership(false)
		}
	case l.state == PendingTransfer:
		// Someone else won the race; our request is still with the new owner.
	default:
		l.setState(OwnedByOther)
	}

	l.revalidate()
}

func (l *Link) applyPending() {
	pending := l.pending
	l.pending = nil
	for _, apply := range pending {
		apply()
	}
}

func (l *Link) releaseIfRequired() {
	local := l.n.local()
	custodian := l.n.sessionOwner()
	if local == custodian || custodian == "" || l.authority.Exempt(local) {
		return
	}
	for _, fn := range l.n.releaseListeners {
		fn(l)
	}
	if err := l.n.transport.TransferOwnership(l.handle, custodian); err != nil {
		l.logger.Warn("returning ownership failed", "custodian", custodian, "error", err)
	}
}

func (l *Link) setState(state OwnershipState) {
	if state == l.state {
		return
	}
	change := OwnershipChange{AssetID: l.assetID, Handle: l.handle, State: state, Previous: l.state, Owner: l.owner}
	l.state = state
	telemetry.OwnershipTransitions.WithLabelValues(state.String()).Inc()
	l.logger.Debug("ownership state", "from", change.Previous, "to", state, "owner", l.owner)
	for _, fn := range l.n.changeListeners {
		fn(change)
	}
}
