package perfcore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/quantflow/perfcore/config"
	"github.com/quantflow/perfcore/models"
	"github.com/quantflow/perfcore/utils"
)

// State is one version of the shared workflow state.
type State = map[string]any

// StateDiffEngine computes minimal key-level differences between state
// versions and applies them with minimal copying. It keeps a bounded
// snapshot history for diagnostics.
type StateDiffEngine struct {
	cfg config.StateConfig

	version        *atomic.Int64
	updates        *atomic.Int64
	arrayFastPaths *atomic.Int64
	lastDiffSize   *atomic.Int64

	mu        sync.Mutex
	snapshots []models.StateSnapshot

	tracer trace.Tracer
	logger *zap.Logger
}

// NewStateDiffEngine builds an engine with the given snapshot bound and
// diffing toggle. A nil logger defaults to no-op.
func NewStateDiffEngine(cfg config.StateConfig, logger *zap.Logger) (*StateDiffEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateDiffEngine{
		cfg:            cfg,
		version:        atomic.NewInt64(0),
		updates:        atomic.NewInt64(0),
		arrayFastPaths: atomic.NewInt64(0),
		lastDiffSize:   atomic.NewInt64(0),
		tracer:         otel.Tracer("perfcore/state"),
		logger:         logger,
	}, nil
}

// DiffStates walks the union of keys in both states and classifies each
// differing key as an addition, removal or modification. Equality is deep:
// slices compare positionally, nested maps recursively. Removed keys map to
// nil in Changed and are listed in Removals.
func (e *StateDiffEngine) DiffStates(oldState, newState State) *models.StateDiff {
	diff := &models.StateDiff{Changed: make(map[string]any)}

	for key, newVal := range newState {
		oldVal, ok := oldState[key]
		switch {
		case !ok:
			diff.Additions = append(diff.Additions, key)
			diff.Changed[key] = newVal
		case !deepEqual(oldVal, newVal):
			diff.Modifications = append(diff.Modifications, key)
			diff.Changed[key] = newVal
		}
	}
	for key := range oldState {
		if _, ok := newState[key]; !ok {
			diff.Removals = append(diff.Removals, key)
			diff.Changed[key] = nil
		}
	}

	sort.Strings(diff.Additions)
	sort.Strings(diff.Removals)
	sort.Strings(diff.Modifications)
	diff.Size = serializedSize(diff.Changed)
	return diff
}

// ApplyDiff returns a shallow copy of state with exactly the changed keys
// overwritten and the removed keys deleted. The input state is never
// mutated.
func (e *StateDiffEngine) ApplyDiff(state State, diff *models.StateDiff) State {
	out := make(State, len(state)+len(diff.Changed))
	for key, value := range state {
		out[key] = value
	}
	if diff == nil {
		return out
	}

	removed := make(map[string]struct{}, len(diff.Removals))
	for _, key := range diff.Removals {
		removed[key] = struct{}{}
	}

	for key, value := range diff.Changed {
		if _, gone := removed[key]; gone {
			delete(out, key)
			continue
		}
		out[key] = value
	}
	return out
}

// UpdateState merges a partial update into state using type-aware
// strategies and returns the new state together with the resulting diff.
// The prior state is never mutated.
//
// Strategies: a slice value that is a pure suffix extension of the existing
// slice is taken by reference instead of copied; nested maps are
// shallow-merged field by field; everything else is replaced outright.
func (e *StateDiffEngine) UpdateState(state State, partial State) (State, *models.StateDiff) {
	_, span := e.tracer.Start(context.Background(), "StateDiffEngine.UpdateState",
		trace.WithAttributes(attribute.Int("keys", len(partial))))
	defer span.End()

	newState := make(State, len(state)+len(partial))
	for key, value := range state {
		newState[key] = value
	}

	for key, value := range partial {
		oldVal, ok := state[key]
		if !ok {
			newState[key] = value
			continue
		}

		switch newTyped := value.(type) {
		case []any:
			if oldArr, isArr := oldVal.([]any); isArr && isSuffixExtension(oldArr, newTyped) {
				// Reuse the caller's extended slice instead of copying.
				newState[key] = newTyped
				e.arrayFastPaths.Inc()
				continue
			}
			newState[key] = value
		case State:
			if oldMap, isMap := oldVal.(State); isMap {
				merged := make(State, len(oldMap)+len(newTyped))
				for k, v := range oldMap {
					merged[k] = v
				}
				for k, v := range newTyped {
					merged[k] = v
				}
				newState[key] = merged
				continue
			}
			newState[key] = value
		default:
			newState[key] = value
		}
	}

	e.updates.Inc()

	var diff *models.StateDiff
	if e.cfg.EnableDiffing {
		diff = e.DiffStates(state, newState)
		e.lastDiffSize.Store(int64(diff.Size))
		e.recordSnapshot(newState)
	} else {
		diff = &models.StateDiff{Changed: map[string]any{}}
	}

	return newState, diff
}

// GetOptimizationStats snapshots engine bookkeeping, including the bounded
// snapshot history.
func (e *StateDiffEngine) GetOptimizationStats() models.StateStats {
	e.mu.Lock()
	snapshots := append([]models.StateSnapshot(nil), e.snapshots...)
	e.mu.Unlock()

	return models.StateStats{
		Updates:        e.updates.Load(),
		ArrayFastPaths: e.arrayFastPaths.Load(),
		Version:        e.version.Load(),
		LastDiffSize:   e.lastDiffSize.Load(),
		SnapshotCount:  len(snapshots),
		Snapshots:      snapshots,
	}
}

// recordSnapshot stores a version marker for the new state, evicting the
// oldest snapshot past the configured bound. The checksum is diagnostic
// only.
func (e *StateDiffEngine) recordSnapshot(state State) {
	data, err := json.Marshal(state)
	if err != nil {
		e.logger.Warn("failed to serialize state for snapshot", zap.Error(err))
		return
	}

	snapshot := models.StateSnapshot{
		Version:   e.version.Inc(),
		Checksum:  utils.Checksum(data),
		Size:      len(data),
		Timestamp: time.Now(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots = append(e.snapshots, snapshot)
	if len(e.snapshots) > e.cfg.MaxSnapshots {
		e.snapshots = e.snapshots[len(e.snapshots)-e.cfg.MaxSnapshots:]
	}
}

// deepEqual compares JSON-shaped values: maps recursively, slices
// positionally, scalars via reflect.
func deepEqual(a, b any) bool {
	switch at := a.(type) {
	case State:
		bt, ok := b.(State)
		if !ok || len(at) != len(bt) {
			return false
		}
		for key, av := range at {
			bv, ok := bt[key]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !deepEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// isSuffixExtension reports whether next begins with exactly the elements
// of prev, in order.
func isSuffixExtension(prev, next []any) bool {
	if len(next) < len(prev) {
		return false
	}
	for i := range prev {
		if !deepEqual(prev[i], next[i]) {
			return false
		}
	}
	return true
}

// serializedSize measures the JSON size of a change set; zero when the set
// cannot be serialized.
func serializedSize(m map[string]any) int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}
