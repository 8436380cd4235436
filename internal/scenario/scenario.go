// Package scenario places the assets of an authored scenario into a live
// session.
package scenario

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"stagesync/internal/authority"
	"stagesync/internal/config"
	"stagesync/internal/mediator"
	"stagesync/internal/netid"
	"stagesync/internal/pipeline"
	"stagesync/internal/property"
	"stagesync/internal/session"
)

type Result struct {
	AssetsLoaded     int
	AssetsSkipped    int
	ValuesApplied    int
	OverridesApplied int
	Errors           []error
}

// Load instantiates every asset of sc in s. Stages the session lacks are
// added first. An asset that cannot be built is skipped and its error
// recorded; Load only fails when ctx is done.
func Load(ctx context.Context, sc *config.Scenario, s *session.Session) (*Result, error) {
	for _, stage := range sc.StageIDs() {
		if !slices.Contains(s.Stages(), stage) {
			s.AddStage(stage)
		}
	}

	result := &Result{}
	for _, spec := range sc.Assets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		auth, err := Authority(spec.Authority)
		if err != nil {
			result.AssetsSkipped++
			result.Errors = append(result.Errors, fmt.Errorf("asset %s: %w", spec.ID, err))
			continue
		}

		var values, overrides int
		seed := func(m *mediator.Mediator) error {
			var err error
			values, overrides, err = apply(m, spec)
			return err
		}
		if _, err := s.InstantiateSeeded(ctx, spec.Type, spec.ID, auth, seed); err != nil {
			result.AssetsSkipped++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.AssetsLoaded++
		result.ValuesApplied += values
		result.OverridesApplied += overrides
	}
	return result, nil
}

// Authority builds the authority an asset spec describes. An empty policy
// is open.
func Authority(spec config.AuthoritySpec) (*authority.Authority, error) {
	policy, err := authority.ParsePolicy(spec.Policy)
	if err != nil {
		return nil, err
	}
	allowed := make([]netid.Participant, len(spec.Allow))
	for i, p := range spec.Allow {
		allowed[i] = netid.Participant(p)
	}
	return authority.New(policy, allowed...), nil
}

func apply(m *mediator.Mediator, spec config.AssetSpec) (int, int, error) {
	values := 0
	for _, name := range sortedKeys(spec.Values) {
		if err := set(m, "", name, spec.Values[name]); err != nil {
			return 0, 0, err
		}
		values++
	}

	overrides := 0
	for _, stage := range sortedKeys(spec.Overrides) {
		if !slices.Contains(m.Stages(), property.StageID(stage)) {
			return 0, 0, fmt.Errorf("override for unknown stage %s", stage)
		}
		for _, name := range sortedKeys(spec.Overrides[stage]) {
			if err := set(m, property.StageID(stage), name, spec.Overrides[stage][name]); err != nil {
				return 0, 0, err
			}
			overrides++
		}
	}
	return values, overrides, nil
}

func set(m *mediator.Mediator, stage property.StageID, name string, value any) error {
	outcome, err := m.SetStageProperty(stage, name, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	if outcome.State == pipeline.StateRejected {
		return fmt.Errorf("setting %s: %w: %s", name, pipeline.ErrRejected, outcome.Reason)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
