package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"stagesync/internal/authority"
	"stagesync/internal/netid"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
	"stagesync/internal/session"
)

type ListAssetsInput struct{}

type DescribeAssetTypeInput struct {
	Type string `json:"type" jsonschema:"asset type name"`
}

type GetPropertyInput struct {
	Asset    string `json:"asset" jsonschema:"asset id"`
	Property string `json:"property" jsonschema:"property name"`
	Stage    string `json:"stage,omitempty" jsonschema:"stage to read, defaults to the active stage"`
}

type SetPropertyInput struct {
	Asset    string `json:"asset" jsonschema:"asset id"`
	Property string `json:"property" jsonschema:"property name"`
	Value    any    `json:"value" jsonschema:"new value"`
	Stage    string `json:"stage,omitempty" jsonschema:"stage override to write, defaults to the shared value"`
}

type CallMethodInput struct {
	Asset  string `json:"asset" jsonschema:"asset id"`
	Method string `json:"method" jsonschema:"method name"`
	Args   []any  `json:"args,omitempty" jsonschema:"method arguments"`
}

type AssetInput struct {
	Asset string `json:"asset" jsonschema:"asset id"`
}

type SetAuthorityInput struct {
	Asset  string   `json:"asset" jsonschema:"asset id"`
	Policy string   `json:"policy,omitempty" jsonschema:"open, session_owner_only or allow_set"`
	Add    []string `json:"add,omitempty" jsonschema:"participants to add to the allow-set"`
	Remove []string `json:"remove,omitempty" jsonschema:"participants to remove from the allow-set"`
}

type AssetOutput struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Handle int64  `json:"handle"`
	State  string `json:"state"`
	Owner  string `json:"owner,omitempty"`
}

type ListAssetsOutput struct {
	Participant  string        `json:"participant"`
	SessionOwner string        `json:"session_owner"`
	ActiveStage  string        `json:"active_stage,omitempty"`
	Assets       []AssetOutput `json:"assets"`
}

type PropertyOutput struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Default      any    `json:"default,omitempty"`
	Editable     bool   `json:"editable"`
	Interpolated bool   `json:"interpolated"`
}

type AssetTypeOutput struct {
	Name       string           `json:"name"`
	Components []string         `json:"components"`
	Properties []PropertyOutput `json:"properties"`
}

type ValueOutput struct {
	Asset    string `json:"asset"`
	Property string `json:"property"`
	Stage    string `json:"stage,omitempty"`
	Value    any    `json:"value"`
}

type SetPropertyOutput struct {
	State  string `json:"state"`
	Value  any    `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type CallMethodOutput struct {
	Found  bool `json:"found"`
	Result any  `json:"result,omitempty"`
}

type OwnershipOutput struct {
	Asset         string   `json:"asset"`
	State         string   `json:"state"`
	Owner         string   `json:"owner,omitempty"`
	Policy        string   `json:"policy"`
	Allowed       []string `json:"allowed,omitempty"`
	Manipulating  bool     `json:"manipulating"`
	PendingWrites int      `json:"pending_writes"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_assets",
		Description: "List the assets instantiated in the room and who owns them",
	}, s.handleListAssets)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "describe_asset_type",
		Description: "Return the components and property definitions of an asset type",
	}, s.handleDescribeAssetType)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_property",
		Description: "Read a property of an asset",
	}, s.handleGetProperty)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "set_property",
		Description: "Propose a new property value; ownership is requested when needed",
	}, s.handleSetProperty)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "call_method",
		Description: "Invoke a component method on an asset",
	}, s.handleCallMethod)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_ownership",
		Description: "Return the ownership state and authority of an asset",
	}, s.handleGetOwnership)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "set_authority",
		Description: "Change who may own an asset",
	}, s.handleSetAuthority)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "begin_manipulation",
		Description: "Start a gesture on an asset, requesting ownership",
	}, s.handleBeginManipulation)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "end_manipulation",
		Description: "Finish a gesture, handing ownership back when required",
	}, s.handleEndManipulation)
}

func (s *Server) handleListAssets(ctx context.Context, req *sdk.CallToolRequest, input ListAssetsInput) (*sdk.CallToolResult, ListAssetsOutput, error) {
	var out ListAssetsOutput
	err := s.loop.Do(ctx, func(sess *session.Session) error {
		out = ListAssetsOutput{
			Participant:  string(sess.Participant()),
			SessionOwner: string(sess.SessionOwner()),
			ActiveStage:  string(sess.ActiveStage()),
			Assets:       make([]AssetOutput, 0),
		}
		for _, asset := range sess.Assets() {
			out.Assets = append(out.Assets, assetOutput(asset))
		}
		return nil
	})
	if err != nil {
		return nil, ListAssetsOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleDescribeAssetType(ctx context.Context, req *sdk.CallToolRequest, input DescribeAssetTypeInput) (*sdk.CallToolResult, AssetTypeOutput, error) {
	if input.Type == "" {
		return nil, AssetTypeOutput{}, fmt.Errorf("type is required")
	}
	var out AssetTypeOutput
	err := s.loop.Do(ctx, func(sess *session.Session) error {
		reg := sess.Registry()
		assetType, ok := reg.AssetType(input.Type)
		if !ok {
			return fmt.Errorf("unknown asset type: %s", input.Type)
		}
		defs, err := reg.Definitions(input.Type)
		if err != nil {
			return err
		}
		out = AssetTypeOutput{
			Name:       assetType.Name,
			Components: append([]string{}, assetType.Components...),
			Properties: make([]PropertyOutput, 0, len(defs)),
		}
		for _, def := range defs {
			out.Properties = append(out.Properties, propertyOutput(def))
		}
		return nil
	})
	if err != nil {
		return nil, AssetTypeOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleGetProperty(ctx context.Context, req *sdk.CallToolRequest, input GetPropertyInput) (*sdk.CallToolResult, ValueOutput, error) {
	if input.Property == "" {
		return nil, ValueOutput{}, fmt.Errorf("property is required")
	}
	out := ValueOutput{Asset: input.Asset, Property: input.Property, Stage: input.Stage}
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		var err error
		if input.Stage == "" {
			out.Value, err = asset.Mediator.GetProperty(input.Property)
		} else {
			out.Value, err = asset.Mediator.GetStageProperty(property.StageID(input.Stage), input.Property)
		}
		return err
	})
	if err != nil {
		return nil, ValueOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleSetProperty(ctx context.Context, req *sdk.CallToolRequest, input SetPropertyInput) (*sdk.CallToolResult, SetPropertyOutput, error) {
	if input.Property == "" {
		return nil, SetPropertyOutput{}, fmt.Errorf("property is required")
	}
	var outcome pipeline.Outcome
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		var err error
		if input.Stage == "" {
			outcome, err = asset.Mediator.SetProperty(input.Property, input.Value)
		} else {
			outcome, err = asset.Mediator.SetStageProperty(property.StageID(input.Stage), input.Property, input.Value)
		}
		return err
	})
	if err != nil {
		return nil, SetPropertyOutput{}, err
	}
	return nil, SetPropertyOutput{State: outcome.State.String(), Value: outcome.Value, Reason: outcome.Reason}, nil
}

func (s *Server) handleCallMethod(ctx context.Context, req *sdk.CallToolRequest, input CallMethodInput) (*sdk.CallToolResult, CallMethodOutput, error) {
	if input.Method == "" {
		return nil, CallMethodOutput{}, fmt.Errorf("method is required")
	}
	var out CallMethodOutput
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		result, found := asset.Mediator.CallMethod(input.Method, input.Args...)
		if state, ok := result.(pipeline.State); ok {
			result = state.String()
		}
		out = CallMethodOutput{Found: found, Result: result}
		return nil
	})
	if err != nil {
		return nil, CallMethodOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleGetOwnership(ctx context.Context, req *sdk.CallToolRequest, input AssetInput) (*sdk.CallToolResult, OwnershipOutput, error) {
	var out OwnershipOutput
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		out = ownershipOutput(asset)
		return nil
	})
	if err != nil {
		return nil, OwnershipOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleSetAuthority(ctx context.Context, req *sdk.CallToolRequest, input SetAuthorityInput) (*sdk.CallToolResult, OwnershipOutput, error) {
	var out OwnershipOutput
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		link := asset.Link
		if input.Policy != "" {
			policy, err := authority.ParsePolicy(input.Policy)
			if err != nil {
				return err
			}
			if err := link.SetPolicy(policy); err != nil {
				return err
			}
		}
		for _, p := range input.Add {
			if err := link.AddAuthority(netid.Participant(p)); err != nil {
				return err
			}
		}
		for _, p := range input.Remove {
			if err := link.RemoveAuthority(netid.Participant(p)); err != nil {
				return err
			}
		}
		out = ownershipOutput(asset)
		return nil
	})
	if err != nil {
		return nil, OwnershipOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleBeginManipulation(ctx context.Context, req *sdk.CallToolRequest, input AssetInput) (*sdk.CallToolResult, OwnershipOutput, error) {
	var out OwnershipOutput
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		if err := asset.Link.BeginManipulation(); err != nil {
			return err
		}
		out = ownershipOutput(asset)
		return nil
	})
	if err != nil {
		return nil, OwnershipOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleEndManipulation(ctx context.Context, req *sdk.CallToolRequest, input AssetInput) (*sdk.CallToolResult, OwnershipOutput, error) {
	var out OwnershipOutput
	err := s.withAsset(ctx, input.Asset, func(sess *session.Session, asset *session.Asset) error {
		asset.Link.EndManipulation()
		out = ownershipOutput(asset)
		return nil
	})
	if err != nil {
		return nil, OwnershipOutput{}, err
	}
	return nil, out, nil
}

func assetOutput(asset *session.Asset) AssetOutput {
	return AssetOutput{
		ID:     asset.ID,
		Type:   asset.Type,
		Handle: int64(asset.Handle),
		State:  asset.Link.State().String(),
		Owner:  string(asset.Link.Owner()),
	}
}

func propertyOutput(def property.Definition) PropertyOutput {
	return PropertyOutput{
		Name:         def.Name,
		Type:         string(def.Type),
		Default:      def.Default,
		Editable:     def.EditableByAuthor,
		Interpolated: def.Interpolated,
	}
}

func ownershipOutput(asset *session.Asset) OwnershipOutput {
	auth := asset.Link.Authority()
	allowed := make([]string, 0, len(auth.Allowed()))
	for _, p := range auth.Allowed() {
		allowed = append(allowed, string(p))
	}
	return OwnershipOutput{
		Asset:         asset.ID,
		State:         asset.Link.State().String(),
		Owner:         string(asset.Link.Owner()),
		Policy:        auth.Policy().String(),
		Allowed:       allowed,
		Manipulating:  asset.Link.Manipulating(),
		PendingWrites: asset.Link.PendingWrites(),
	}
}
