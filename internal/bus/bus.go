// Package bus implements the event bus described in spec.md §4.1: a
// single-writer-many-reader broadcast of bounded capacity that is lossy to
// subscribers which fall behind. Grounded on the teacher's internal/web.Hub
// broadcast-to-many-clients loop, generalized from "one JSON message to N
// websocket clients" to "one typed event to N in-process subscribers" with
// an explicit lag signal instead of disconnecting the slow reader.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the default per-subscriber, per-lane buffer depth
// (spec.md §4.1: "bounded capacity (default 1000)").
const DefaultCapacity = 1000

type envelope struct {
	event Event
}

// Subscription is a single subscriber's view of the bus. The zero value is
// not usable; obtain one via Bus.Subscribe.
type Subscription struct {
	bus    *Bus
	high   chan envelope
	low    chan envelope
	lagged atomic.Uint64
	name   string
}

// Recv blocks until an event is available, the context is cancelled, or the
// subscription is closed. High-priority events are always observed before
// low-priority ones that were queued earlier, per spec.md §4.1. The returned
// lagged count is the number of events dropped since the previous Recv
// because this subscriber fell behind; the core never aliases event deltas
// so this is purely informational (see spec.md §9, "event-loss tolerance").
func (s *Subscription) Recv(ctx context.Context) (event Event, lagged uint64, ok bool) {
	// Drain any pending high-priority event first without blocking.
	select {
	case env := <-s.high:
		return env.event, s.lagged.Swap(0), true
	default:
	}

	select {
	case <-ctx.Done():
		return nil, 0, false
	case env := <-s.high:
		return env.event, s.lagged.Swap(0), true
	case env := <-s.low:
		return env.event, s.lagged.Swap(0), true
	}
}

// Close unsubscribes; further Publish calls will not block on this subscriber.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus broadcasts events to every live Subscription.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	capacity int
	logger   *slog.Logger
	onDrop   func(subscriberName string)
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(b *Bus) { b.capacity = n }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithDropHook registers a callback invoked whenever a subscriber's lane
// overflows and an event is dropped for it — cmd/snapblaster-core wires the
// telemetry package's BusSubscriberLag prometheus counter here.
func WithDropHook(fn func(subscriberName string)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New creates a Bus ready to accept subscribers and publishers.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[*Subscription]struct{}),
		capacity: DefaultCapacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber. name is used only for logging.
func (b *Bus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		bus:  b,
		high: make(chan envelope, b.capacity),
		low:  make(chan envelope, b.capacity),
		name: name,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish is fire-and-forget (spec.md §4.1: "try_publish ... logs when
// receiver-count is zero"). It never blocks: a subscriber lane that is full
// has its oldest event dropped in favor of the new one, preserving "drops
// the oldest, resumes from the newest retained event" semantics.
func (b *Bus) Publish(event Event) (receivers int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.subs) == 0 {
		b.logger.Debug("bus_publish_no_subscribers", slog.String("event", eventName(event)))
		return 0
	}

	lane := func(s *Subscription) chan envelope {
		if event.Priority() == High {
			return s.high
		}
		return s.low
	}

	env := envelope{event: event}
	for sub := range b.subs {
		ch := lane(sub)
		select {
		case ch <- env:
		default:
			// Lane full: drop the oldest retained event, then enqueue the new one.
			select {
			case <-ch:
			default:
			}
			sub.lagged.Add(1)
			select {
			case ch <- env:
			default:
			}
			if b.onDrop != nil {
				b.onDrop(sub.name)
			}
			b.logger.Warn("bus_subscriber_lagged",
				slog.String("subscriber", sub.name),
				slog.String("event", eventName(event)))
		}
	}
	return len(b.subs)
}

func eventName(e Event) string {
	switch e.(type) {
	case PadPressed:
		return "PadPressed"
	case PadReleased:
		return "PadReleased"
	case BankSelected:
		return "BankSelected"
	case SnapSelected:
		return "SnapSelected"
	case ParameterEdited:
		return "ParameterEdited"
	case CCValueChanged:
		return "CCValueChanged"
	case GenerateAIValues:
		return "GenerateAIValues"
	case AIGenerationCompleted:
		return "AIGenerationCompleted"
	case AIGenerationFailed:
		return "AIGenerationFailed"
	case MorphInitiated:
		return "MorphInitiated"
	case MorphProgressed:
		return "MorphProgressed"
	case MorphCompleted:
		return "MorphCompleted"
	case BeatOccurred:
		return "BeatOccurred"
	case BarOccurred:
		return "BarOccurred"
	case LinkStatusChanged:
		return "LinkStatusChanged"
	case LinkTempoChanged:
		return "LinkTempoChanged"
	case LinkTransportChanged:
		return "LinkTransportChanged"
	case RequestLinkStatus:
		return "RequestLinkStatus"
	case RequestLinkTempo:
		return "RequestLinkTempo"
	case RequestNextBarTime:
		return "RequestNextBarTime"
	case NextBarTime:
		return "NextBarTime"
	case RequestUpdateLEDs:
		return "RequestUpdateLEDs"
	case ProjectLoaded:
		return "ProjectLoaded"
	case ProjectSaved:
		return "ProjectSaved"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// SubscriberCount reports the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
