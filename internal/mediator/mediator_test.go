package mediator

import (
	"errors"
	"fmt"
	"testing"

	"stagesync/internal/authority"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
)

type lamp struct {
	kind      string
	handled   []pipeline.Event
	activated []property.StageID
	owned     []bool
	deferred  bool
	done      func()
}

func (l *lamp) Kind() string { return l.kind }

func (l *lamp) Definitions() []property.Definition {
	return []property.Definition{
		{Name: "brightness", Type: property.TypeFloat, Default: 1.0},
		{Name: "on", Type: property.TypeBool},
	}
}

func (l *lamp) Bind(b *Binder) error {
	if err := b.OnChange("brightness", func(e pipeline.Event) { l.handled = append(l.handled, e) }); err != nil {
		return err
	}
	if err := b.Method("toggle", func(args ...any) any {
		current, _ := b.Mediator().GetProperty("on")
		next := !current.(bool)
		_, _ = b.Mediator().SetProperty("on", next)
		return next
	}); err != nil {
		return err
	}
	if l.deferred {
		l.done = b.Defer()
	}
	return nil
}

func (l *lamp) OnStageActivated(stage property.StageID) { l.activated = append(l.activated, stage) }
func (l *lamp) OnOwnershipChanged(owned bool)           { l.owned = append(l.owned, owned) }

func newLampAsset(t *testing.T) (*Mediator, *lamp) {
	t.Helper()
	m := New("lamp-1", "lamp", []property.StageID{"intro", "outro"}, nil)
	l := &lamp{kind: "lamp"}
	if err := m.Attach(l); err != nil {
		t.Fatalf("attach: %v", err)
	}
	m.Seal()
	return m, l
}

func TestRegistrationGuard(t *testing.T) {
	m := New("lamp-1", "lamp", []property.StageID{"intro"}, nil)
	l := &lamp{kind: "lamp", deferred: true}
	if err := m.Attach(l); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := m.GetProperty("brightness"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before seal, got %v", err)
	}
	m.Seal()
	if m.IsDataRegistrationComplete() {
		t.Fatalf("deferred binder still open")
	}
	if _, err := m.SetProperty("brightness", 0.2); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady while deferred, got %v", err)
	}

	l.done()
	l.done()
	if !m.IsDataRegistrationComplete() {
		t.Fatalf("expected registration complete")
	}
	if err := m.Attach(&lamp{kind: "late"}); !errors.Is(err, ErrRegistrationEnd) {
		t.Fatalf("expected ErrRegistrationEnd, got %v", err)
	}
}

func TestDuplicateDeclarationFailsAttach(t *testing.T) {
	m := New("lamp-1", "lamp", nil, nil)
	if err := m.Attach(&lamp{kind: "a"}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Attach(&lamp{kind: "b"}); !errors.Is(err, property.ErrDuplicateProperty) {
		t.Fatalf("expected ErrDuplicateProperty, got %v", err)
	}
}

func TestSetPropertyRoutesToComponentAndObservers(t *testing.T) {
	m, l := newLampAsset(t)

	var specific, all []string
	id, err := m.RegisterPropertyChange("brightness", func(e pipeline.Event) {
		specific = append(specific, fmt.Sprint(e.Value))
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m.OnPropertyChanged(func(e pipeline.Event) { all = append(all, e.Property) })

	if outcome, err := m.SetProperty("brightness", 0.25); err != nil || !outcome.Applied() {
		t.Fatalf("set: %+v (%v)", outcome, err)
	}
	if len(l.handled) != 1 || l.handled[0].Value != 0.25 {
		t.Fatalf("component handler saw %+v", l.handled)
	}
	if len(specific) != 1 || len(all) != 1 {
		t.Fatalf("observers: specific=%v all=%v", specific, all)
	}

	if !m.UnregisterPropertyChange("brightness", id) {
		t.Fatalf("expected unregister to succeed")
	}
	if m.UnregisterPropertyChange("brightness", id) {
		t.Fatalf("second unregister must report false")
	}
	_, _ = m.SetProperty("brightness", 0.5)
	if len(specific) != 1 {
		t.Fatalf("unregistered handler still called")
	}
	if len(all) != 2 {
		t.Fatalf("catch-all observer missed a change")
	}

	if _, err := m.RegisterPropertyChange("missing", func(pipeline.Event) {}); !errors.Is(err, property.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
}

func TestOnChangeLastRegistrationWins(t *testing.T) {
	m := New("a", "t", nil, nil)
	var calls []string
	comp := componentFunc{kind: "c", bind: func(b *Binder) error {
		if err := b.Declare(property.Definition{Name: "x", Type: property.TypeInt}); err != nil {
			return err
		}
		_ = b.OnChange("x", func(pipeline.Event) { calls = append(calls, "first") })
		return b.OnChange("x", func(pipeline.Event) { calls = append(calls, "second") })
	}}
	if err := m.Attach(comp); err != nil {
		t.Fatalf("attach: %v", err)
	}
	m.Seal()
	_, _ = m.SetProperty("x", 3)
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("unexpected handler calls %v", calls)
	}
}

func TestStageContext(t *testing.T) {
	m, l := newLampAsset(t)

	m.SetEditStage("outro")
	if _, err := m.SetProperty("brightness", 0.1); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.SetEditStage("")

	if v, _ := m.GetProperty("brightness"); v != 1.0 {
		t.Fatalf("intro must read shared value, got %v", v)
	}
	m.SetActiveStage("outro")
	if v, _ := m.GetProperty("brightness"); v != 0.1 {
		t.Fatalf("outro must read override, got %v", v)
	}
	if len(l.activated) != 1 || l.activated[0] != "outro" {
		t.Fatalf("lifecycle not notified: %v", l.activated)
	}
	if shared, _ := m.SharedValue("brightness"); shared != 1.0 {
		t.Fatalf("shared value changed: %v", shared)
	}
}

func TestCallMethod(t *testing.T) {
	m, _ := newLampAsset(t)

	result, ok := m.CallMethod("toggle")
	if !ok || result != true {
		t.Fatalf("toggle = %v, %v", result, ok)
	}
	if v, _ := m.GetProperty("on"); v != true {
		t.Fatalf("expected lamp on, got %v", v)
	}
	if result, ok := m.CallMethod("explode"); ok || result != nil {
		t.Fatalf("unknown method must return nil, false; got %v, %v", result, ok)
	}
}

type fakeGate struct {
	owned   bool
	denied  bool
	pending []func()
}

func (g *fakeGate) CanWrite() bool { return g.owned }

func (g *fakeGate) Acquire(apply func()) error {
	if g.denied {
		return fmt.Errorf("lamp: %w", authority.ErrNotAuthorized)
	}
	g.pending = append(g.pending, apply)
	return nil
}

func (g *fakeGate) grant() {
	g.owned = true
	for _, fn := range g.pending {
		fn()
	}
	g.pending = nil
}

func TestGateDefersLocalWrites(t *testing.T) {
	m, l := newLampAsset(t)
	gate := &fakeGate{}
	m.SetGate(gate)

	outcome, err := m.SetProperty("brightness", 0.3)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if outcome.State != pipeline.StateProposed {
		t.Fatalf("expected proposed, got %s", outcome.State)
	}
	_, _ = m.SetProperty("brightness", 0.4)
	if v, _ := m.GetProperty("brightness"); v != 1.0 {
		t.Fatalf("value applied before ownership: %v", v)
	}

	gate.grant()
	if v, _ := m.GetProperty("brightness"); v != 0.4 {
		t.Fatalf("expected last queued write to win, got %v", v)
	}
	if len(l.handled) != 2 {
		t.Fatalf("expected both mutations notified, got %d", len(l.handled))
	}

	if outcome, err := m.ApplyRemote(pipeline.Mutation{Property: "brightness", Value: 0.9}); err != nil || !outcome.Applied() {
		t.Fatalf("remote apply: %+v (%v)", outcome, err)
	}
	if l.handled[2].Origin != pipeline.OriginRemote {
		t.Fatalf("expected remote origin")
	}
}

func TestGateFailsClosed(t *testing.T) {
	m, l := newLampAsset(t)
	m.SetGate(&fakeGate{denied: true})

	outcome, err := m.SetProperty("brightness", 0.3)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if outcome.State != pipeline.StateRejected {
		t.Fatalf("expected rejection, got %s", outcome.State)
	}
	if len(l.handled) != 0 {
		t.Fatalf("rejected write notified")
	}
}

func TestOwnershipAndRestore(t *testing.T) {
	m, l := newLampAsset(t)
	m.NotifyOwnership(true)
	if len(l.owned) != 1 || !l.owned[0] {
		t.Fatalf("ownership not forwarded: %v", l.owned)
	}

	_, _ = m.SetProperty("brightness", 0.7)
	snap := m.Snapshot()

	replica, rl := newLampAsset(t)
	if err := replica.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v, _ := replica.GetProperty("brightness"); v != 0.7 {
		t.Fatalf("restored brightness %v", v)
	}
	if len(rl.handled) != 1 || rl.handled[0].Origin != pipeline.OriginRemote {
		t.Fatalf("restore must announce remote changes, got %+v", rl.handled)
	}
}

type componentFunc struct {
	kind string
	bind func(b *Binder) error
}

func (c componentFunc) Kind() string         { return c.kind }
func (c componentFunc) Bind(b *Binder) error { return c.bind(b) }
