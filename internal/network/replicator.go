package network

import (
	"errors"
	"log/slog"

	"stagesync/internal/mediator"
	"stagesync/internal/netid"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

// Replicator sends local property changes of owned assets to the room and
// applies changes received from peers.
type Replicator struct {
	transport  Transport
	negotiator *Negotiator
	logger     *slog.Logger
	observers  map[string]mediator.HandlerID
}

func NewReplicator(transport Transport, negotiator *Negotiator, logger *slog.Logger) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Replicator{
		transport:  transport,
		negotiator: negotiator,
		logger:     logger,
		observers:  make(map[string]mediator.HandlerID),
	}
	negotiator.OnRelease(r.ResendTerminal)
	negotiator.OnAuthorityChanged(r.BroadcastAuthority)
	return r
}

// Attach starts replicating the link's asset.
func (r *Replicator) Attach(link *Link) {
	m := link.Mediator()
	id := m.OnPropertyChanged(func(e pipeline.Event) { r.outbound(link, e) })
	r.observers[link.AssetID()] = id
}

func (r *Replicator) Detach(link *Link) {
	if id, ok := r.observers[link.AssetID()]; ok {
		link.Mediator().RemovePropertyChanged(id)
		delete(r.observers, link.AssetID())
	}
}

func (r *Replicator) outbound(link *Link, e pipeline.Event) {
	if e.Origin != pipeline.OriginLocal || !r.transport.InRoom() || link.State() != OwnedByMe {
		return
	}
	m := link.Mediator()
	if m.ReplicationSuppressed(e.Property) {
		return
	}
	if def, err := m.Definition(e.Property); err == nil && link.SuppressOutbound(def) {
		link.deferOutbound(e.Property, e.Stage)
		return
	}
	r.send(Message{
		Kind:     KindPropertyChanged,
		Asset:    link.AssetID(),
		Property: e.Property,
		Stage:    e.Stage,
		Value:    e.Value,
	})
}

// Flush sends the current value of every change the grace window held back,
// for each owned asset whose window has closed.
func (r *Replicator) Flush() {
	for _, link := range r.negotiator.links {
		r.flushLink(link, false)
	}
}

func (r *Replicator) flushLink(link *Link, force bool) {
	m := link.Mediator()
	for _, d := range link.takeDeferred(force) {
		value, err := r.valueAt(m, d.stage, d.property)
		if err != nil {
			continue
		}
		r.send(Message{Kind: KindPropertyChanged, Asset: link.AssetID(), Property: d.property, Stage: d.stage, Value: value})
	}
}

// ResendTerminal sends the current value of every interpolated property so
// the next owner snaps to it instead of interpolating toward a stale target.
func (r *Replicator) ResendTerminal(link *Link) {
	r.flushLink(link, true)
	m := link.Mediator()
	stage := m.EditStage()
	for _, def := range m.Definitions() {
		if !def.Interpolated {
			continue
		}
		value, err := r.valueAt(m, stage, def.Name)
		if err != nil {
			continue
		}
		r.send(Message{Kind: KindPropertyChanged, Asset: link.AssetID(), Property: def.Name, Stage: stage, Value: value})
	}
}

func (r *Replicator) BroadcastAuthority(link *Link) {
	state := link.Authority().State()
	r.send(Message{Kind: KindAuthorityChanged, Asset: link.AssetID(), Authority: &state})
}

// RequestState asks the asset's owner for a full snapshot.
func (r *Replicator) RequestState(link *Link) {
	var recipients []netid.Participant
	if owner := link.Owner(); owner != "" && owner != r.transport.LocalParticipant() {
		recipients = append(recipients, owner)
	}
	r.send(Message{Kind: KindStateRequest, Asset: link.AssetID()}, recipients...)
}

// HandleMessage applies one replication message from a peer.
func (r *Replicator) HandleMessage(from netid.Participant, payload []byte) {
	msg, err := DecodeMessage(payload)
	if err != nil {
		r.logger.Warn("dropping malformed message", "from", from, "error", err)
		return
	}
	link, ok := r.negotiator.LinkFor(msg.Asset)
	if !ok {
		r.logger.Debug("message for unknown asset", "from", from, "asset", msg.Asset, "kind", msg.Kind)
		return
	}
	logger := r.logger.With("asset", msg.Asset, "from", from, "kind", msg.Kind)

	switch msg.Kind {
	case KindPropertyChanged:
		r.applyRemote(link, from, msg, logger)
	case KindPropertyRejected:
		r.rollback(link, from, msg, logger)
	case KindAuthorityChanged:
		if msg.Authority == nil {
			return
		}
		if err := link.ApplyAuthority(from, *msg.Authority); err != nil {
			logger.Warn("authority change refused", "error", err)
		}
	case KindStateRequest:
		if link.State() != OwnedByMe {
			return
		}
		state := link.Authority().State()
		r.send(Message{
			Kind:      KindStateSnapshot,
			Asset:     msg.Asset,
			Authority: &state,
			Snapshot:  link.Mediator().Snapshot(),
		}, from)
	case KindStateSnapshot:
		if err := link.Mediator().Restore(msg.Snapshot); err != nil {
			logger.Warn("restoring snapshot failed", "error", err)
		}
		if msg.Authority != nil {
			if err := link.ApplyAuthority(from, *msg.Authority); err != nil {
				logger.Warn("snapshot authority refused", "error", err)
			}
		}
	default:
		logger.Warn("unknown message kind")
	}
}

func (r *Replicator) applyRemote(link *Link, from netid.Participant, msg Message, logger *slog.Logger) {
	m := link.Mediator()
	outcome, err := m.ApplyRemote(pipeline.Mutation{
		Property: msg.Property, Value: msg.Value, Stage: msg.Stage, Sender: from,
	})
	if err != nil {
		if errors.Is(err, property.ErrPropertyNotFound) {
			logger.Warn("remote change to undeclared property", "property", msg.Property)
		} else {
			logger.Warn("remote change not applied", "property", msg.Property, "error", err)
		}
		return
	}
	if outcome.State != pipeline.StateRejected {
		return
	}
	current, err := r.valueAt(m, msg.Stage, msg.Property)
	if err != nil {
		return
	}
	logger.Info("remote change rejected", "property", msg.Property, "reason", outcome.Reason)
	r.send(Message{
		Kind:     KindPropertyRejected,
		Asset:    msg.Asset,
		Property: msg.Property,
		Stage:    msg.Stage,
		Value:    current,
		Reason:   outcome.Reason,
	}, from)
}

// rollback applies a rejection. The owner rolls back and re-broadcasts the
// corrected value so every replica converges; a non-owner only accepts the
// owner's value.
func (r *Replicator) rollback(link *Link, from netid.Participant, msg Message, logger *slog.Logger) {
	owned := link.State() == OwnedByMe
	if !owned && from != link.Owner() {
		logger.Debug("ignoring rejection from a non-owner", "property", msg.Property, "owner", link.Owner())
		return
	}
	m := link.Mediator()
	_, err := m.ApplyRemote(pipeline.Mutation{
		Property: msg.Property, Value: msg.Value, Stage: msg.Stage, Sender: from, Rollback: true,
	})
	if err != nil {
		logger.Warn("rollback failed", "property", msg.Property, "error", err)
		return
	}
	logger.Info("local change rolled back", "property", msg.Property, "reason", msg.Reason)
	if !owned {
		return
	}
	corrected, err := r.valueAt(m, msg.Stage, msg.Property)
	if err != nil {
		return
	}
	r.send(Message{Kind: KindPropertyChanged, Asset: msg.Asset, Property: msg.Property, Stage: msg.Stage, Value: corrected})
}

func (r *Replicator) valueAt(m *mediator.Mediator, stage property.StageID, name string) (any, error) {
	if stage == "" {
		return m.SharedValue(name)
	}
	return m.GetStageProperty(stage, name)
}

func (r *Replicator) send(msg Message, recipients ...netid.Participant) {
	if !r.transport.InRoom() {
		return
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		r.logger.Error("encoding message failed", "asset", msg.Asset, "kind", msg.Kind, "error", err)
		return
	}
	if err := r.transport.SendReliable(payload, recipients...); err != nil {
		r.logger.Warn("sending message failed", "asset", msg.Asset, "kind", msg.Kind, "error", err)
	}
}
