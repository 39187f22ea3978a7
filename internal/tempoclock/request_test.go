package tempoclock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"snapblaster-core/internal/bus"
)

func TestRequestTempoFallsBackOnTimeout(t *testing.T) {
	b := bus.New()
	bpm, ok := RequestTempo(context.Background(), b)
	assert.False(t, ok)
	assert.Equal(t, FallbackBPM, bpm)
}

func TestRequestTempoReceivesReply(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("responder")
	go func() {
		ev, _, ok := sub.Recv(context.Background())
		if !ok {
			return
		}
		if _, match := ev.(bus.RequestLinkTempo); match {
			b.Publish(bus.LinkTempoChanged{BPM: 128})
		}
	}()

	bpm, ok := RequestTempo(context.Background(), b)
	assert.True(t, ok)
	assert.Equal(t, 128.0, bpm)
}

func TestRequestNextBarTimeFallsBackOnTimeout(t *testing.T) {
	b := bus.New()
	_, ok := RequestNextBarTime(context.Background(), b)
	assert.False(t, ok)
}

func TestLinkClientAnswersRequests(t *testing.T) {
	b := bus.New()
	link := NewLinkClient(b, nil, 140, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go link.Run(ctx)

	// Give the responder goroutine time to subscribe.
	time.Sleep(20 * time.Millisecond)

	bpm, ok := RequestTempo(context.Background(), b)
	assert.True(t, ok)
	assert.Equal(t, 140.0, bpm)

	peers, enabled, ok := RequestLinkStatus(context.Background(), b)
	assert.True(t, ok)
	assert.Equal(t, 0, peers)
	assert.True(t, enabled)
}
