package perfcore

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/perfcore/config"
)

func newTestStateEngine(t *testing.T) *StateDiffEngine {
	t.Helper()
	e, err := NewStateDiffEngine(config.DefaultStateConfig(), nil)
	require.NoError(t, err)
	return e
}

func TestDiffStatesClassification(t *testing.T) {
	e := newTestStateEngine(t)

	diff := e.DiffStates(
		State{"a": 1, "b": 2},
		State{"a": 1, "b": 3, "c": 4},
	)

	assert.Equal(t, []string{"b"}, diff.Modifications)
	assert.Equal(t, []string{"c"}, diff.Additions)
	assert.Empty(t, diff.Removals)
	assert.Equal(t, map[string]any{"b": 3, "c": 4}, diff.Changed)
	assert.Positive(t, diff.Size)
}

func TestDiffStatesRemovals(t *testing.T) {
	e := newTestStateEngine(t)

	diff := e.DiffStates(State{"a": 1, "b": 2}, State{"a": 1})

	assert.Equal(t, []string{"b"}, diff.Removals)
	assert.Contains(t, diff.Changed, "b")
	assert.Nil(t, diff.Changed["b"])
}

func TestDiffStatesDeepEquality(t *testing.T) {
	e := newTestStateEngine(t)

	oldState := State{
		"nested": State{"x": []any{1, 2}},
		"arr":    []any{"a", "b"},
	}
	newState := State{
		"nested": State{"x": []any{1, 2}},
		"arr":    []any{"a", "c"},
	}

	diff := e.DiffStates(oldState, newState)

	assert.Equal(t, []string{"arr"}, diff.Modifications)
	assert.Empty(t, diff.Additions)
}

func TestApplyDiffRoundTrip(t *testing.T) {
	e := newTestStateEngine(t)

	cases := []struct {
		name string
		a, b State
	}{
		{"disjoint", State{"x": 1}, State{"y": 2}},
		{"overlap", State{"a": 1, "b": 2}, State{"a": 1, "b": 3, "c": 4}},
		{"emptyTarget", State{"a": 1}, State{}},
		{"nested", State{"s": State{"k": 1}}, State{"s": State{"k": 2}, "t": []any{1.0}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			diff := e.DiffStates(tc.a, tc.b)
			got := e.ApplyDiff(tc.a, diff)
			if !cmp.Equal(tc.b, got) {
				t.Fatalf("round trip mismatch: %s", cmp.Diff(tc.b, got))
			}
		})
	}
}

func TestApplyDiffIdempotent(t *testing.T) {
	e := newTestStateEngine(t)

	a := State{"a": 1, "b": 2}
	b := State{"a": 1, "c": 3}
	diff := e.DiffStates(a, b)

	once := e.ApplyDiff(a, diff)
	twice := e.ApplyDiff(once, diff)
	assert.True(t, cmp.Equal(once, twice), cmp.Diff(once, twice))

	// Re-diffing the settled state yields nothing.
	assert.True(t, e.DiffStates(once, twice).Empty())
}

func TestApplyDiffDoesNotMutateInput(t *testing.T) {
	e := newTestStateEngine(t)

	original := State{"a": 1, "b": 2}
	diff := e.DiffStates(original, State{"a": 5})

	_ = e.ApplyDiff(original, diff)

	assert.Equal(t, State{"a": 1, "b": 2}, original)
}

func TestUpdateStateReplacesScalars(t *testing.T) {
	e := newTestStateEngine(t)

	prior := State{"count": 1, "label": "x"}
	next, diff := e.UpdateState(prior, State{"count": 2})

	assert.Equal(t, 2, next["count"])
	assert.Equal(t, "x", next["label"])
	assert.Equal(t, []string{"count"}, diff.Modifications)
	assert.Equal(t, State{"count": 1, "label": "x"}, prior, "prior state must not be mutated")
}

func TestUpdateStateArraySuffixExtensionReusesSlice(t *testing.T) {
	e := newTestStateEngine(t)

	history := []any{"step1", "step2"}
	extended := []any{"step1", "step2", "step3"}

	prior := State{"history": history}
	next, _ := e.UpdateState(prior, State{"history": extended})

	got, ok := next["history"].([]any)
	require.True(t, ok)
	assert.Equal(t, reflect.ValueOf(extended).Pointer(), reflect.ValueOf(got).Pointer(),
		"suffix extension reuses the new slice instead of copying")
	assert.EqualValues(t, 1, e.GetOptimizationStats().ArrayFastPaths)

	// The prior state still holds the short slice.
	assert.Len(t, prior["history"], 2)
}

func TestUpdateStateArrayReplacementWhenNotSuffix(t *testing.T) {
	e := newTestStateEngine(t)

	prior := State{"history": []any{"a", "b"}}
	next, diff := e.UpdateState(prior, State{"history": []any{"z"}})

	assert.Equal(t, []any{"z"}, next["history"])
	assert.Equal(t, []string{"history"}, diff.Modifications)
	assert.EqualValues(t, 0, e.GetOptimizationStats().ArrayFastPaths)
}

func TestUpdateStateShallowMergesNestedMaps(t *testing.T) {
	e := newTestStateEngine(t)

	prior := State{"agent": State{"name": "risk", "score": 1}}
	next, _ := e.UpdateState(prior, State{"agent": State{"score": 9}})

	merged, ok := next["agent"].(State)
	require.True(t, ok)
	assert.Equal(t, "risk", merged["name"])
	assert.Equal(t, 9, merged["score"])

	// The prior nested map is untouched.
	assert.Equal(t, 1, prior["agent"].(State)["score"])
}

func TestUpdateStateRecordsBoundedSnapshots(t *testing.T) {
	cfg := config.DefaultStateConfig()
	cfg.MaxSnapshots = 3
	e, err := NewStateDiffEngine(cfg, nil)
	require.NoError(t, err)

	state := State{}
	for i := 0; i < 10; i++ {
		state, _ = e.UpdateState(state, State{"i": i})
	}

	stats := e.GetOptimizationStats()
	assert.EqualValues(t, 10, stats.Updates)
	assert.Equal(t, 3, stats.SnapshotCount)
	assert.EqualValues(t, 10, stats.Version)
	// Oldest snapshots were evicted: versions 8, 9, 10 remain.
	assert.EqualValues(t, 8, stats.Snapshots[0].Version)
	assert.EqualValues(t, 10, stats.Snapshots[2].Version)
	for _, snap := range stats.Snapshots {
		assert.NotZero(t, snap.Checksum)
		assert.Positive(t, snap.Size)
	}
}

func TestUpdateStateDiffingDisabled(t *testing.T) {
	cfg := config.DefaultStateConfig()
	cfg.EnableDiffing = false
	e, err := NewStateDiffEngine(cfg, nil)
	require.NoError(t, err)

	next, diff := e.UpdateState(State{"a": 1}, State{"a": 2})
	assert.Equal(t, 2, next["a"])
	assert.True(t, diff.Empty())

	// No diff also means no snapshot history.
	stats := e.GetOptimizationStats()
	assert.EqualValues(t, 1, stats.Updates)
	assert.Equal(t, 0, stats.SnapshotCount)
	assert.EqualValues(t, 0, stats.Version)
}
