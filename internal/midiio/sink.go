package midiio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/model"
)

// DefaultPacing is the minimum spacing between consecutive CC writes
// (spec.md §4.5: "a small inter-message spacing, e.g., 2 ms, to avoid
// buffer saturation").
const DefaultPacing = 2 * time.Millisecond

// CCPort is the hardware-facing side an OutputSink writes through.
type CCPort interface {
	SendCC(channel, cc, value uint8) error
}

// OutputSink is the single merge point for outbound CC traffic from both
// the router (direct snap-select emission) and the morph engine (via the
// CCValueChanged bus subscription), per spec.md §5: "The outbound MIDI sink
// coalesces CC writes from both the router ... and the morph engine ...; it
// guarantees per-cc monotonic visibility." Pacing is a golang.org/x/time/rate
// limiter rather than a bare time.Sleep loop.
type OutputSink struct {
	port    CCPort
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	lastSent map[uint8]uint8
}

// NewOutputSink constructs a sink pacing writes no faster than pace apart.
func NewOutputSink(port CCPort, pace time.Duration, logger *slog.Logger) *OutputSink {
	if pace <= 0 {
		pace = DefaultPacing
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputSink{
		port:     port,
		limiter:  rate.NewLimiter(rate.Every(pace), 1),
		logger:   logger,
		lastSent: make(map[uint8]uint8),
	}
}

// Send writes cc/value, skipping the write if it is identical to the last
// value sent for that cc (spec.md §4.6 step 7: "This dedup step is required
// to avoid wire flooding"). The dedup is specified only for the morph tick
// loop's per-tick writes; callers that must emit a full, unconditional CC
// set — a snap select, per spec.md §4.5/§6/§8 ("Selecting snap X then snap Y
// then snap X emits the CC set of X twice") — use SendForce instead.
func (s *OutputSink) Send(ctx context.Context, cc, value uint8) error {
	s.mu.Lock()
	if last, ok := s.lastSent[cc]; ok && last == value {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.write(ctx, cc, value)
}

// SendForce writes cc/value unconditionally, bypassing the dedup check, then
// records it as the last-sent value so a subsequent morph tick still dedups
// against what actually went out on the wire.
func (s *OutputSink) SendForce(ctx context.Context, cc, value uint8) error {
	return s.write(ctx, cc, value)
}

func (s *OutputSink) write(ctx context.Context, cc, value uint8) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := s.port.SendCC(0, cc, value); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSent[cc] = value
	s.mu.Unlock()
	return nil
}

// RunSubscriber consumes CCValueChanged events published by the morph
// engine and writes them through Send, resolving each paramID to its CC
// number via m. It terminates when ctx is cancelled or Shutdown is
// observed (spec.md §5).
func (s *OutputSink) RunSubscriber(ctx context.Context, b *bus.Bus, m *model.Model) {
	sub := b.Subscribe("midiio-output-sink")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch e := ev.(type) {
		case bus.CCValueChanged:
			params := m.Snapshot().Parameters
			if e.ParamID < 0 || e.ParamID >= len(params) {
				continue
			}
			if err := s.Send(ctx, params[e.ParamID].CC, e.Value); err != nil {
				s.logger.Warn("midiio_cc_send_failed",
					slog.Int("param_id", e.ParamID), slog.String("error", err.Error()))
			}
		case bus.Shutdown:
			return
		}
	}
}
