package morph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/model"
)

func testProject() model.Project {
	return model.Project{
		Parameters: []model.Parameter{{Name: "a", CC: 10}, {Name: "b", CC: 20}, {Name: "c", CC: 30}},
		Banks: []model.Bank{{Name: "bank0", Snaps: []model.Snap{
			{Name: "snap0", Values: []uint8{0, 0, 0}},
			{Name: "snap1", Values: []uint8{127, 0, 64}},
		}}},
	}
}

// drainMorph runs a short-duration morph to completion against a standalone
// bus/model pair (no tempo clock subscriber, so it falls back to 120 BPM
// unquantized per spec.md §4.6 step 4-5) and returns every CCValueChanged
// and the terminal MorphCompleted/MorphProgressed events observed.
func drainMorph(t *testing.T, durationBars int) (ccEvents []bus.CCValueChanged, progressEvents []bus.MorphProgressed, completed bool) {
	t.Helper()
	b := bus.New(bus.WithCapacity(4096))
	m := model.New(testProject())
	e := New(b, m, nil, nil)

	sub := b.Subscribe("observer")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	b.Publish(bus.MorphInitiated{BankID: 0, FromSnap: 0, ToSnap: 1, DurationBars: durationBars, Curve: bus.Linear, Quantize: false})

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch v := ev.(type) {
		case bus.CCValueChanged:
			ccEvents = append(ccEvents, v)
		case bus.MorphProgressed:
			progressEvents = append(progressEvents, v)
		case bus.MorphCompleted:
			completed = true
			return
		}
	}
}

func TestMorphSkipsUnchangedParameters(t *testing.T) {
	ccEvents, _, completed := drainMorph(t, 1)
	require.True(t, completed)

	for _, e := range ccEvents {
		assert.NotEqual(t, 1, e.ParamID, "param 1 (b) is unchanged (0 -> 0) and must never be published")
	}
}

func TestMorphFinalValueEqualsTarget(t *testing.T) {
	ccEvents, _, completed := drainMorph(t, 1)
	require.True(t, completed)
	require.NotEmpty(t, ccEvents)

	lastForParam := map[int]uint8{}
	for _, e := range ccEvents {
		lastForParam[e.ParamID] = e.Value
	}
	assert.Equal(t, uint8(127), lastForParam[0])
	assert.Equal(t, uint8(64), lastForParam[2])
}

func TestMorphProgressIsMonotonicNonDecreasing(t *testing.T) {
	_, progress, completed := drainMorph(t, 1)
	require.True(t, completed)
	require.NotEmpty(t, progress)

	last := -1.0
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.Progress, last)
		last = p.Progress
	}
	assert.Equal(t, 1.0, progress[len(progress)-1].Progress)
}

func TestCancelledMorphStopsWithoutFinalizing(t *testing.T) {
	b := bus.New(bus.WithCapacity(4096))
	m := model.New(testProject())
	e := New(b, m, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	b.Publish(bus.MorphInitiated{BankID: 0, FromSnap: 0, ToSnap: 1, DurationBars: 8, Curve: bus.Linear, Quantize: false})

	require.Eventually(t, func() bool { return m.HasActiveMorph() }, time.Second, time.Millisecond)

	m.CancelMorph() // simulate the router's plain-select cancellation path

	require.Eventually(t, func() bool { return !m.HasActiveMorph() }, time.Second, time.Millisecond)
	// Give the running tick loop a chance to observe the stale generation
	// and return; CurrentSnap must not have been advanced to the morph
	// target, since only FinalizeMorph (never reached here) does that.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, m.Snapshot().CurrentSnap)
}

func TestCurveBoundaries(t *testing.T) {
	for _, c := range []model.Curve{model.Linear, model.Exponential, model.Logarithmic, model.SCurve} {
		assert.InDelta(t, 0, curveValue(c, 0), 1e-9)
		assert.InDelta(t, 1, curveValue(c, 1), 1e-9)
	}
}
