package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject() Project {
	return Project{
		ProjectName: "test",
		Parameters: []Parameter{
			{Name: "cutoff", CC: 10},
			{Name: "resonance", CC: 20},
			{Name: "drive", CC: 30},
		},
		Banks: []Bank{
			{Name: "bank0", Snaps: []Snap{
				{Name: "snap0", Values: []uint8{5, 50, 100}},
				{Name: "snap1", Values: []uint8{127, 127, 127}},
				{}, // empty slot
			}},
		},
	}
}

func TestSelectSnapPadsAndEmitsValues(t *testing.T) {
	m := New(testProject())
	values, err := m.SelectSnap(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{5, 50, 100}, values)
}

func TestSelectSnapOutOfRange(t *testing.T) {
	m := New(testProject())
	_, err := m.SelectSnap(0, 99)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "snap_id", ve.Field)
}

func TestEmptySnapIsNotSelectableConceptually(t *testing.T) {
	m := New(testProject())
	snap := m.Snapshot().Banks[0].Snaps[2]
	assert.True(t, snap.Empty())
}

func TestAddParameterPadsAllSnaps(t *testing.T) {
	m := New(testProject())
	idx := m.AddParameter(Parameter{Name: "new", CC: 40})
	assert.Equal(t, 3, idx)

	snap := m.Snapshot().Banks[0].Snaps[0]
	require.Len(t, snap.Values, 4)
	assert.Equal(t, MidPoint, snap.Values[3])

	empty := m.Snapshot().Banks[0].Snaps[2]
	require.Len(t, empty.Values, 4)
}

func TestStartMorphSnapshotsIndependentCopies(t *testing.T) {
	m := New(testProject())
	am, params, gen, err := m.StartMorph(0, 0, 1, 2, Linear)
	require.NoError(t, err)
	assert.Equal(t, []uint8{5, 50, 100}, am.FromValues)
	assert.Equal(t, []uint8{127, 127, 127}, am.ToValues)
	assert.Len(t, params, 3)
	assert.True(t, gen > 0)
	assert.True(t, m.HasActiveMorph())

	// Mutating the returned slice must not alias model state.
	am.FromValues[0] = 255
	snapshot := m.Snapshot()
	assert.Equal(t, uint8(5), snapshot.ActiveMorph.FromValues[0])
}

func TestUpdateMorphProgressRejectsStaleGeneration(t *testing.T) {
	m := New(testProject())
	_, _, gen, err := m.StartMorph(0, 0, 1, 2, Linear)
	require.NoError(t, err)

	m.CancelMorph()

	ok := m.UpdateMorphProgress(gen, 0.5, []uint8{10, 10, 10})
	assert.False(t, ok)
}

func TestFinalizeMorphPersistsAndClears(t *testing.T) {
	m := New(testProject())
	_, _, gen, err := m.StartMorph(0, 0, 1, 2, Linear)
	require.NoError(t, err)

	applied, err := m.FinalizeMorph(gen, 0, 1, []uint8{127, 127, 127})
	require.NoError(t, err)
	assert.True(t, applied)

	snap := m.Snapshot()
	assert.False(t, snap.ActiveMorph != nil)
	assert.Equal(t, 1, snap.CurrentSnap)
	assert.Equal(t, []uint8{127, 127, 127}, snap.Banks[0].Snaps[1].Values)
}

func TestFinalizeMorphNoopsOnStaleGeneration(t *testing.T) {
	m := New(testProject())
	_, _, gen, err := m.StartMorph(0, 0, 1, 2, Linear)
	require.NoError(t, err)

	m.CancelMorph()

	applied, err := m.FinalizeMorph(gen, 0, 1, []uint8{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, []uint8{127, 127, 127}, m.Snapshot().Banks[0].Snaps[1].Values)
}

func TestSelectBankClampsCurrentSnap(t *testing.T) {
	proj := testProject()
	proj.Banks = append(proj.Banks, Bank{Name: "bank1", Snaps: []Snap{{Name: "only", Values: []uint8{1, 1, 1}}}})
	m := New(proj)
	_, err := m.SelectSnap(0, 1)
	require.NoError(t, err)

	err = m.SelectBank(1)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Snapshot().CurrentSnap)
}

func TestModifierHeldAndReleased(t *testing.T) {
	m := New(testProject())
	m.SetActiveModifier(2, 4)
	assert.Equal(t, 2, m.Snapshot().ActiveModifier)
	assert.Equal(t, 4, m.Snapshot().MorphDurationBars)

	cleared := m.ClearActiveModifierIfMatches(3)
	assert.False(t, cleared)
	assert.Equal(t, 2, m.Snapshot().ActiveModifier)

	cleared = m.ClearActiveModifierIfMatches(2)
	assert.True(t, cleared)
	assert.Equal(t, NoModifier, m.Snapshot().ActiveModifier)
}

func TestApplyAIValuesClampsAndPads(t *testing.T) {
	m := New(testProject())
	err := m.ApplyAIValues(0, 2, []uint8{200, 10})
	require.NoError(t, err)
	snap := m.Snapshot().Banks[0].Snaps[2]
	assert.Equal(t, []uint8{127, 10, MidPoint}, snap.Values)
}
