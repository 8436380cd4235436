package validate

import (
	"context"
	"fmt"
	"sort"

	"stagesync/internal/authority"
	"stagesync/internal/config"
	"stagesync/internal/property"
	"stagesync/internal/registry"
	"stagesync/internal/roomstate"
	"stagesync/internal/store"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeUnknownAssetType  = "unknown_asset_type"
	codeUnknownProperty   = "unknown_property"
	codeInvalidValue      = "invalid_value"
	codeUnknownStage      = "unknown_stage"
	codeDuplicateAsset    = "duplicate_asset"
	codeNotAuthorEditable = "not_author_editable"
	codeEmptyAllowSet     = "empty_allow_set"
	codeInvalidPolicy     = "invalid_policy"
	codeOrphanedHandle    = "orphaned_handle"
)

type Issue struct {
	Severity Severity
	Code     string
	Message  string
	Asset    string
	Stage    string
	Property string
}

type Report struct {
	Issues []Issue
}

func (r *Report) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// RoomLister reads a room's object map.
type RoomLister interface {
	List(ctx context.Context) ([]store.Entry, error)
}

// Run checks a scenario against the asset types registered in reg. When
// room is not nil, handles in the room object map that no scenario asset
// claims are reported too.
func Run(ctx context.Context, reg *registry.Registry, sc *config.Scenario, room RoomLister) (*Report, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if sc == nil {
		return nil, fmt.Errorf("scenario is required")
	}

	issues := make([]Issue, 0)
	seen := make(map[string]struct{})
	for _, asset := range sc.Assets {
		if _, dup := seen[asset.ID]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeDuplicateAsset,
				Message:  fmt.Sprintf("asset %s is declared more than once", asset.ID),
				Asset:    asset.ID,
			})
			continue
		}
		seen[asset.ID] = struct{}{}

		defs, err := reg.Definitions(asset.Type)
		if err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeUnknownAssetType,
				Message:  fmt.Sprintf("unknown asset type: %s", asset.Type),
				Asset:    asset.ID,
			})
			continue
		}
		byName := make(map[string]property.Definition, len(defs))
		for _, def := range defs {
			byName[def.Name] = def
		}

		issues = append(issues, validateAuthority(asset)...)
		for _, name := range sortedKeys(asset.Values) {
			issues = append(issues, validateValue(asset.ID, "", name, asset.Values[name], byName)...)
		}
		for _, stage := range sortedKeys(asset.Overrides) {
			if !sc.HasStage(stage) {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Code:     codeUnknownStage,
					Message:  fmt.Sprintf("override for unknown stage: %s", stage),
					Asset:    asset.ID,
					Stage:    stage,
				})
				continue
			}
			for _, name := range sortedKeys(asset.Overrides[stage]) {
				issues = append(issues, validateValue(asset.ID, stage, name, asset.Overrides[stage][name], byName)...)
			}
		}
	}

	if room != nil {
		entries, err := room.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list room handles: %w", err)
		}
		for _, entry := range entries {
			assetID, ok := roomstate.AssetFromKey(entry.Key)
			if !ok {
				continue
			}
			if _, claimed := seen[assetID]; claimed {
				continue
			}
			issues = append(issues, Issue{
				Severity: SeverityWarn,
				Code:     codeOrphanedHandle,
				Message:  fmt.Sprintf("room handle %s belongs to no scenario asset", entry.Value),
				Asset:    assetID,
			})
		}
	}

	return &Report{Issues: issues}, nil
}

func validateAuthority(asset config.AssetSpec) []Issue {
	policy, err := authority.ParsePolicy(asset.Authority.Policy)
	if err != nil {
		return []Issue{{
			Severity: SeverityError,
			Code:     codeInvalidPolicy,
			Message:  err.Error(),
			Asset:    asset.ID,
		}}
	}
	if policy == authority.PolicyAllowSet && len(asset.Authority.Allow) == 0 {
		return []Issue{{
			Severity: SeverityWarn,
			Code:     codeEmptyAllowSet,
			Message:  "allow_set policy with no participants: only the session owner may edit",
			Asset:    asset.ID,
		}}
	}
	return nil
}

func validateValue(assetID, stage, name string, value any, defs map[string]property.Definition) []Issue {
	def, ok := defs[name]
	if !ok {
		return []Issue{{
			Severity: SeverityError,
			Code:     codeUnknownProperty,
			Message:  fmt.Sprintf("unknown property: %s", name),
			Asset:    assetID,
			Stage:    stage,
			Property: name,
		}}
	}

	var issues []Issue
	if _, err := property.Coerce(def.Type, value); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     codeInvalidValue,
			Message:  fmt.Sprintf("invalid %s value for %s: %v", def.Type, name, err),
			Asset:    assetID,
			Stage:    stage,
			Property: name,
		})
	}
	if !def.EditableByAuthor {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeNotAuthorEditable,
			Message:  fmt.Sprintf("property %s is not meant to be authored", name),
			Asset:    assetID,
			Stage:    stage,
			Property: name,
		})
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
