package property

// Override is the per-stage entry of a staged property.
type Override[T any] struct {
	UseShared bool
	Local     T
}

// Staged is the runtime state of one property on one asset instance. Stage
// entries are kept in authored order and exist for every stage the owning
// scenario knows about, so reads never need defaulting logic.
type Staged[T any] struct {
	shared    T
	stages    []StageID
	overrides map[StageID]Override[T]
}

func NewStaged[T any](shared T, stages ...StageID) *Staged[T] {
	s := &Staged[T]{
		shared:    shared,
		overrides: make(map[StageID]Override[T], len(stages)),
	}
	for _, stage := range stages {
		s.AddStage(stage)
	}
	return s
}

func (s *Staged[T]) Shared() T {
	return s.shared
}

// Value resolves the property for stage. A stage without an entry reads the
// shared value only when useInitialFallback is set; otherwise ok is false.
func (s *Staged[T]) Value(stage StageID, useInitialFallback bool) (T, bool) {
	entry, ok := s.overrides[stage]
	if !ok {
		if useInitialFallback {
			return s.shared, true
		}
		var zero T
		return zero, false
	}
	if entry.UseShared {
		return s.shared, true
	}
	return entry.Local, true
}

// SetShared replaces the shared value. UseShared flags are left untouched.
func (s *Staged[T]) SetShared(value T) {
	s.shared = value
}

func (s *Staged[T]) SetStageOverride(stage StageID, value T) {
	if _, ok := s.overrides[stage]; !ok {
		s.stages = append(s.stages, stage)
	}
	s.overrides[stage] = Override[T]{UseShared: false, Local: value}
}

// UseShared drops the override for stage so it follows the shared value
// again. It reports whether the stage is known.
func (s *Staged[T]) UseShared(stage StageID) bool {
	entry, ok := s.overrides[stage]
	if !ok {
		return false
	}
	entry.UseShared = true
	var zero T
	entry.Local = zero
	s.overrides[stage] = entry
	return true
}

func (s *Staged[T]) Override(stage StageID) (Override[T], bool) {
	entry, ok := s.overrides[stage]
	return entry, ok
}

// AddStage appends an entry following the shared value. Adding a known
// stage is a no-op.
func (s *Staged[T]) AddStage(stage StageID) {
	if _, ok := s.overrides[stage]; ok {
		return
	}
	s.stages = append(s.stages, stage)
	s.overrides[stage] = Override[T]{UseShared: true}
}

func (s *Staged[T]) RemoveStage(stage StageID) {
	if _, ok := s.overrides[stage]; !ok {
		return
	}
	delete(s.overrides, stage)
	for i, id := range s.stages {
		if id == stage {
			s.stages = append(s.stages[:i], s.stages[i+1:]...)
			break
		}
	}
}

func (s *Staged[T]) Stages() []StageID {
	out := make([]StageID, len(s.stages))
	copy(out, s.stages)
	return out
}
