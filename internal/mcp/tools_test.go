package mcp

import (
	"context"
	"testing"
	"time"

	"stagesync/internal/components"
	"stagesync/internal/property"
	"stagesync/internal/registry"
	"stagesync/internal/relay"
	"stagesync/internal/session"
	"stagesync/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	if err := components.Register(reg); err != nil {
		t.Fatalf("register components: %v", err)
	}
	err := reg.RegisterAssetType(registry.AssetType{
		Name:       "door",
		Components: []string{components.KindTransform, components.KindVisibility},
	})
	if err != nil {
		t.Fatalf("register door: %v", err)
	}

	loop := relay.NewLoopback("rehearsal", store.Room(store.NewMemory(), "rehearsal"), nil)
	tr, err := loop.Connect("host")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sess := session.New(tr, reg, session.Options{Stages: []property.StageID{"intro", "outro"}})
	if _, err := sess.Instantiate(context.Background(), "door", "front-door", nil); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessionLoop := session.NewLoop(sess, 5*time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sessionLoop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewServer(sessionLoop, "test")
}

func TestListAssets(t *testing.T) {
	server := newTestServer(t)

	_, output, err := server.handleListAssets(context.Background(), nil, ListAssetsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Participant != "host" || output.SessionOwner != "host" || output.ActiveStage != "intro" {
		t.Fatalf("unexpected session fields: %+v", output)
	}
	if len(output.Assets) != 1 || output.Assets[0].ID != "front-door" || output.Assets[0].State != "owned_by_me" {
		t.Fatalf("unexpected assets: %+v", output.Assets)
	}
}

func TestDescribeAssetType(t *testing.T) {
	server := newTestServer(t)

	_, output, err := server.handleDescribeAssetType(context.Background(), nil, DescribeAssetTypeInput{Type: "Door"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Name != "door" || len(output.Components) != 2 || len(output.Properties) != 5 {
		t.Fatalf("unexpected asset type output: %+v", output)
	}
	if !output.Properties[0].Interpolated {
		t.Fatalf("transform properties come first and are interpolated")
	}

	if _, _, err := server.handleDescribeAssetType(context.Background(), nil, DescribeAssetTypeInput{Type: "window"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestSetAndGetProperty(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	_, set, err := server.handleSetProperty(ctx, nil, SetPropertyInput{Asset: "front-door", Property: components.PropOpacity, Value: 2.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.State != "notified" || set.Value != 1.0 {
		t.Fatalf("expected a clamped, applied value, got %+v", set)
	}

	_, set, err = server.handleSetProperty(ctx, nil, SetPropertyInput{
		Asset: "front-door", Property: components.PropPosition, Stage: "outro",
		Value: map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
	})
	if err != nil || set.State != "notified" {
		t.Fatalf("stage write failed: %+v %v", set, err)
	}

	_, got, err := server.handleGetProperty(ctx, nil, GetPropertyInput{Asset: "front-door", Property: components.PropPosition, Stage: "outro"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != (property.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("unexpected outro position %v", got.Value)
	}
	_, got, _ = server.handleGetProperty(ctx, nil, GetPropertyInput{Asset: "front-door", Property: components.PropPosition})
	if got.Value != (property.Vector3{}) {
		t.Fatalf("intro keeps the shared position, got %v", got.Value)
	}

	_, set, err = server.handleSetProperty(ctx, nil, SetPropertyInput{Asset: "front-door", Property: components.PropVisible, Value: "yes"})
	if err != nil || set.State != "rejected" {
		t.Fatalf("expected a rejected outcome, got %+v %v", set, err)
	}

	if _, _, err := server.handleSetProperty(ctx, nil, SetPropertyInput{Asset: "trapdoor", Property: components.PropVisible, Value: true}); err == nil {
		t.Fatalf("expected error for unknown asset")
	}
	if _, _, err := server.handleGetProperty(ctx, nil, GetPropertyInput{Asset: "front-door", Property: "squeak"}); err == nil {
		t.Fatalf("expected error for unknown property")
	}
}

func TestCallMethod(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	_, output, err := server.handleCallMethod(ctx, nil, CallMethodInput{Asset: "front-door", Method: components.MethodHide})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !output.Found || output.Result != "notified" {
		t.Fatalf("unexpected method output: %+v", output)
	}

	_, output, _ = server.handleCallMethod(ctx, nil, CallMethodInput{Asset: "front-door", Method: components.MethodIsVisible})
	if output.Result != false {
		t.Fatalf("expected the door hidden, got %+v", output)
	}

	_, output, _ = server.handleCallMethod(ctx, nil, CallMethodInput{Asset: "front-door", Method: "Slam"})
	if output.Found {
		t.Fatalf("unknown methods are not found")
	}
}

func TestOwnershipTools(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	_, owned, err := server.handleSetAuthority(ctx, nil, SetAuthorityInput{Asset: "front-door", Policy: "allow_set", Add: []string{"alice", "bob"}, Remove: []string{"bob"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owned.Policy != "allow_set" || len(owned.Allowed) != 1 || owned.Allowed[0] != "alice" {
		t.Fatalf("unexpected authority output: %+v", owned)
	}

	if _, _, err := server.handleSetAuthority(ctx, nil, SetAuthorityInput{Asset: "front-door", Policy: "everyone"}); err == nil {
		t.Fatalf("expected error for unknown policy")
	}

	_, owned, err = server.handleBeginManipulation(ctx, nil, AssetInput{Asset: "front-door"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !owned.Manipulating || owned.State != "owned_by_me" {
		t.Fatalf("unexpected manipulation output: %+v", owned)
	}

	_, owned, err = server.handleEndManipulation(ctx, nil, AssetInput{Asset: "front-door"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owned.Manipulating || owned.State != "owned_by_me" {
		t.Fatalf("the session owner keeps ownership, got %+v", owned)
	}

	_, owned, err = server.handleGetOwnership(ctx, nil, AssetInput{Asset: "front-door"})
	if err != nil || owned.Owner != "host" {
		t.Fatalf("unexpected ownership output: %+v %v", owned, err)
	}
	if _, _, err := server.handleGetOwnership(ctx, nil, AssetInput{}); err == nil {
		t.Fatalf("expected error for a missing asset id")
	}
}
