package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/grid"
	"snapblaster-core/internal/midiio"
	"snapblaster-core/internal/model"
)

type fakeController struct {
	leds    map[int]grid.RGB
	flushed int
}

func newFakeController() *fakeController { return &fakeController{leds: make(map[int]grid.RGB)} }

func (f *fakeController) HandleNoteInput(note, velocity uint8) {}
func (f *fakeController) SetLED(pad int, color grid.RGB)       { f.leds[pad] = color }
func (f *fakeController) SetProgressLED(pad int, progress float64) {
	f.leds[pad] = grid.MorphGradient(progress)
}
func (f *fakeController) SetMorphTargetLED(pad int)      { f.leds[pad] = grid.Purple }
func (f *fakeController) SetActiveModifierLED(pad int)   { f.leds[pad] = grid.Green }
func (f *fakeController) ClearLEDs()                     { f.leds = make(map[int]grid.RGB) }
func (f *fakeController) RefreshState()                  { f.flushed++ }
func (f *fakeController) SendCC(ch, cc, value uint8) error { return nil }
func (f *fakeController) Name() string                   { return "fake" }

type fakeCCPort struct {
	sends []ccSend
}

type ccSend struct{ cc, value uint8 }

func (f *fakeCCPort) SendCC(channel, cc, value uint8) error {
	f.sends = append(f.sends, ccSend{cc, value})
	return nil
}

func testProject() model.Project {
	return model.Project{
		Parameters: []model.Parameter{{Name: "a", CC: 10}, {Name: "b", CC: 20}, {Name: "c", CC: 30}},
		Banks: []model.Bank{{Name: "bank0", Snaps: []model.Snap{
			{Name: "snap0", Values: []uint8{5, 50, 100}},
			{Name: "snap1", Values: []uint8{127, 127, 127}},
			{Name: "snap2", Values: []uint8{64, 64, 64}},
		}}},
	}
}

func newTestRouter() (*Router, *bus.Bus, *model.Model, *fakeController, *fakeCCPort) {
	b := bus.New()
	m := model.New(testProject())
	ctrl := newFakeController()
	port := &fakeCCPort{}
	sink := midiio.NewOutputSink(port, time.Millisecond, nil)
	return New(b, m, ctrl, sink, nil), b, m, ctrl, port
}

func TestPlainSnapSelectEmitsCCsInOrder(t *testing.T) {
	r, b, _, _, port := newTestRouter()
	sub := b.Subscribe("test")
	go r.Run(context.Background())

	b.Publish(bus.PadPressed{Pad: 8, Velocity: 100})

	var sawSnapSelected bool
	for i := 0; i < 4; i++ {
		ev, _, ok := sub.Recv(context.Background())
		require.True(t, ok)
		if sel, match := ev.(bus.SnapSelected); match {
			assert.Equal(t, 0, sel.BankID)
			assert.Equal(t, 0, sel.SnapID)
			sawSnapSelected = true
			break
		}
	}
	assert.True(t, sawSnapSelected)

	require.Eventually(t, func() bool { return len(port.sends) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []ccSend{{10, 5}, {20, 50}, {30, 100}}, port.sends)
}

func TestModifierThenSnapInitiatesMorph(t *testing.T) {
	r, b, m, _, _ := newTestRouter()
	sub := b.Subscribe("test")
	go r.Run(context.Background())

	b.Publish(bus.PadPressed{Pad: 1, Velocity: 100}) // modifier pad 1 -> 2 bars
	b.Publish(bus.PadPressed{Pad: 9, Velocity: 100})  // snap 1

	var initiated *bus.MorphInitiated
	for i := 0; i < 6 && initiated == nil; i++ {
		ev, _, ok := sub.Recv(context.Background())
		require.True(t, ok)
		if mi, match := ev.(bus.MorphInitiated); match {
			initiated = &mi
		}
	}
	require.NotNil(t, initiated)
	assert.Equal(t, 0, initiated.FromSnap)
	assert.Equal(t, 1, initiated.ToSnap)
	assert.Equal(t, 2, initiated.DurationBars)
	assert.Equal(t, bus.Linear, initiated.Curve)
	assert.True(t, initiated.Quantize)

	assert.Equal(t, 2, m.Snapshot().MorphDurationBars)
}

func TestPlainPressCancelsActiveMorph(t *testing.T) {
	r, b, m, _, _ := newTestRouter()
	sub := b.Subscribe("test")
	go r.Run(context.Background())

	_, _, _, err := m.StartMorph(0, 0, 1, 2, model.Linear)
	require.NoError(t, err)
	require.True(t, m.HasActiveMorph())

	b.Publish(bus.PadPressed{Pad: 10, Velocity: 100}) // snap 2, plain press

	var sawCompleted, sawSelected bool
	for i := 0; i < 6 && !(sawCompleted && sawSelected); i++ {
		ev, _, ok := sub.Recv(context.Background())
		require.True(t, ok)
		switch v := ev.(type) {
		case bus.MorphCompleted:
			sawCompleted = true
		case bus.SnapSelected:
			if v.SnapID == 2 {
				sawSelected = true
			}
		}
	}
	assert.True(t, sawCompleted)
	assert.True(t, sawSelected)
	assert.False(t, m.HasActiveMorph())
}

func TestModifierReleaseOnlyClearsMatchingPad(t *testing.T) {
	r, b, m, _, _ := newTestRouter()
	go r.Run(context.Background())

	b.Publish(bus.PadPressed{Pad: 2, Velocity: 100})
	require.Eventually(t, func() bool { return m.Snapshot().ActiveModifier == 2 }, time.Second, time.Millisecond)

	b.Publish(bus.PadReleased{Pad: 3})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, m.Snapshot().ActiveModifier)

	b.Publish(bus.PadReleased{Pad: 2})
	require.Eventually(t, func() bool { return m.Snapshot().ActiveModifier == model.NoModifier }, time.Second, time.Millisecond)
}

func TestBankRowSelectsBank(t *testing.T) {
	proj := testProject()
	proj.Banks = append(proj.Banks, model.Bank{Name: "bank1", Snaps: []model.Snap{{Name: "only", Values: []uint8{1, 1, 1}}}})
	b := bus.New()
	m := model.New(proj)
	ctrl := newFakeController()
	sink := midiio.NewOutputSink(&fakeCCPort{}, time.Millisecond, nil)
	r := New(b, m, ctrl, sink, nil)
	sub := b.Subscribe("test")
	go r.Run(context.Background())

	b.Publish(bus.PadPressed{Pad: 6, Velocity: 100}) // bank row pad -> bank 1

	var sawBankSelected bool
	for i := 0; i < 4 && !sawBankSelected; i++ {
		ev, _, ok := sub.Recv(context.Background())
		require.True(t, ok)
		if sel, match := ev.(bus.BankSelected); match {
			assert.Equal(t, 1, sel.BankID)
			sawBankSelected = true
		}
	}
	assert.True(t, sawBankSelected)
	assert.Equal(t, 1, m.Snapshot().CurrentBank)
}
