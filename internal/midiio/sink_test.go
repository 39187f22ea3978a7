package midiio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/model"
)

type fakeCCPort struct {
	mu    sync.Mutex
	sends []ccSend
}

type ccSend struct {
	channel, cc, value uint8
}

func (f *fakeCCPort) SendCC(channel, cc, value uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, ccSend{channel, cc, value})
	return nil
}

func (f *fakeCCPort) snapshot() []ccSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ccSend(nil), f.sends...)
}

func TestSendDedupsIdenticalValues(t *testing.T) {
	port := &fakeCCPort{}
	sink := NewOutputSink(port, time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, sink.Send(ctx, 10, 64))
	require.NoError(t, sink.Send(ctx, 10, 64))
	require.NoError(t, sink.Send(ctx, 10, 65))

	assert.Equal(t, []ccSend{{0, 10, 64}, {0, 10, 65}}, port.snapshot())
}

func TestSendForceBypassesDedupButUpdatesLastSent(t *testing.T) {
	port := &fakeCCPort{}
	sink := NewOutputSink(port, time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, sink.Send(ctx, 10, 64))
	require.NoError(t, sink.SendForce(ctx, 10, 64)) // re-sent even though unchanged
	require.NoError(t, sink.Send(ctx, 10, 64))       // now deduped against SendForce's write

	assert.Equal(t, []ccSend{{0, 10, 64}, {0, 10, 64}}, port.snapshot())
}

func TestRunSubscriberResolvesParamIDToCC(t *testing.T) {
	b := bus.New()
	port := &fakeCCPort{}
	sink := NewOutputSink(port, time.Millisecond, nil)
	m := model.New(model.Project{
		Parameters: []model.Parameter{{Name: "cutoff", CC: 74}, {Name: "res", CC: 71}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go sink.RunSubscriber(ctx, b, m)
	defer cancel()

	// Give the subscriber time to register before publishing.
	time.Sleep(10 * time.Millisecond)
	b.Publish(bus.CCValueChanged{ParamID: 1, Value: 90})

	assert.Eventually(t, func() bool {
		return len(port.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ccSend{{0, 71, 90}}, port.snapshot())
}
