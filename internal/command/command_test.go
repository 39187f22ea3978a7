package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/midiio"
	"snapblaster-core/internal/model"
)

type fakeCCPort struct {
	mu    sync.Mutex
	sends []ccSend
}

type ccSend struct{ cc, value uint8 }

func (f *fakeCCPort) SendCC(channel, cc, value uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, ccSend{cc, value})
	return nil
}

func (f *fakeCCPort) snapshot() []ccSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ccSend(nil), f.sends...)
}

func testProject() model.Project {
	return model.Project{
		Parameters: []model.Parameter{{Name: "a", CC: 10}, {Name: "b", CC: 20}, {Name: "c", CC: 30}},
		Banks: []model.Bank{{Name: "bank0", Snaps: []model.Snap{
			{Name: "snap0", Values: []uint8{5, 50, 100}},
			{Name: "snap1", Values: []uint8{127, 127, 127}},
		}}},
	}
}

func newTestConsumer() (*Consumer, *bus.Bus, *model.Model, *fakeCCPort) {
	b := bus.New()
	m := model.New(testProject())
	port := &fakeCCPort{}
	sink := midiio.NewOutputSink(port, time.Millisecond, nil)
	return New(b, m, sink, nil), b, m, port
}

func TestParameterEditedWritesCurrentSnapAndEmitsOneCC(t *testing.T) {
	c, b, m, port := newTestConsumer()
	go c.Run(context.Background())

	b.Publish(bus.ParameterEdited{ParamID: 1, Value: 42})

	require.Eventually(t, func() bool { return len(port.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []ccSend{{20, 42}}, port.snapshot())
	assert.Equal(t, uint8(42), m.Snapshot().Banks[0].Snaps[0].Values[1])
}

func TestUIIssuedSnapSelectedAppliesAndEmitsFullSet(t *testing.T) {
	c, b, m, port := newTestConsumer()
	go c.Run(context.Background())

	b.Publish(bus.SnapSelected{BankID: 0, SnapID: 1})

	require.Eventually(t, func() bool { return len(port.snapshot()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []ccSend{{10, 127}, {20, 127}, {30, 127}}, port.snapshot())
	assert.Equal(t, 1, m.Snapshot().CurrentSnap)
}

func TestSnapSelectedNotificationMatchingCurrentStateIsSkipped(t *testing.T) {
	c, b, m, port := newTestConsumer()
	go c.Run(context.Background())

	// Simulate the router having already applied this selection itself
	// (spec.md's event table: "SnapSelected | bank_id, snap_id | router /
	// UI") before publishing its post-hoc notification.
	_, err := m.SelectSnap(0, 0)
	require.NoError(t, err)
	b.Publish(bus.SnapSelected{BankID: 0, SnapID: 0})

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, port.snapshot(), "a notification of an already-applied selection must not re-emit CC")
}

func TestAIGenerationCompletedWritesTargetedSnapWithoutSelectingOrEmitting(t *testing.T) {
	c, b, m, port := newTestConsumer()
	go c.Run(context.Background())

	b.Publish(bus.AIGenerationCompleted{BankID: 0, SnapID: 1, Values: []uint8{1, 2, 3}})

	require.Eventually(t, func() bool {
		return m.Snapshot().Banks[0].Snaps[1].Values[0] == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []uint8{1, 2, 3}, m.Snapshot().Banks[0].Snaps[1].Values)
	assert.Equal(t, 0, m.Snapshot().CurrentSnap, "AI-generated values must not select the snap")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, port.snapshot(), "AI-generated values must not emit CC on their own")
}
