// Package tempoclock implements the Tempo Clock Interface of spec.md §4.4: a
// bus-mediated request/response protocol with a bounded timeout, plus a
// reference free-running provider (LinkClient) for when no external tempo
// source is connected. Grounded on original_source's link.rs
// (LinkSynchronizer), translated from its tokio event-loop subscriber into a
// bus.Subscription consumer.
package tempoclock

import (
	"context"
	"time"

	"snapblaster-core/internal/bus"
)

// RequestTimeout bounds every tempo-clock round trip (spec.md §4.4: "within
// a bounded timeout (≤200 ms)").
const RequestTimeout = 200 * time.Millisecond

// FallbackBPM and FallbackQuantize are substituted on timeout (spec.md §4.4,
// §7 "Transient clock").
const (
	FallbackBPM      = 120.0
	FallbackQuantize = false
)

// RequestTempo asks the bus for the current tempo and waits up to
// RequestTimeout for a LinkTempoChanged reply. On timeout it returns
// FallbackBPM and ok=false.
func RequestTempo(ctx context.Context, b *bus.Bus) (bpm float64, ok bool) {
	v, ok := requestResponse(ctx, b, "tempoclock-request-tempo", bus.RequestLinkTempo{}, func(ev bus.Event) (float64, bool) {
		t, match := ev.(bus.LinkTempoChanged)
		return t.BPM, match
	})
	if !ok {
		return FallbackBPM, false
	}
	return v, true
}

// RequestLinkStatus asks whether a tempo source is connected and how many
// peers it reports, waiting up to RequestTimeout for LinkStatusChanged.
func RequestLinkStatus(ctx context.Context, b *bus.Bus) (peers int, enabled bool, ok bool) {
	type status struct {
		peers   int
		enabled bool
	}
	v, ok := requestResponse(ctx, b, "tempoclock-request-status", bus.RequestLinkStatus{}, func(ev bus.Event) (status, bool) {
		s, match := ev.(bus.LinkStatusChanged)
		return status{s.PeersConnected, s.Enabled}, match
	})
	if !ok {
		return 0, false, false
	}
	return v.peers, v.enabled, true
}

// RequestNextBarTime asks how many milliseconds remain until the next bar
// boundary, waiting up to RequestTimeout for NextBarTime. On timeout it
// returns ok=false, meaning the caller should skip quantization (spec.md
// §4.6 step 4).
func RequestNextBarTime(ctx context.Context, b *bus.Bus) (waitMS int64, ok bool) {
	return requestResponse(ctx, b, "tempoclock-request-next-bar", bus.RequestNextBarTime{}, func(ev bus.Event) (int64, bool) {
		n, match := ev.(bus.NextBarTime)
		return n.WaitMS, match
	})
}

// requestResponse subscribes under a fresh, short-lived name, publishes req,
// and blocks until match recognizes a reply or RequestTimeout elapses,
// whichever comes first; a reply lost to subscriber lag ends in the
// timeout. Events that don't match
// are silently discarded; this subscription exists only for this one round
// trip.
func requestResponse[T any](ctx context.Context, b *bus.Bus, name string, req bus.Event, match func(bus.Event) (T, bool)) (T, bool) {
	sub := b.Subscribe(name)
	defer sub.Close()

	deadline, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	b.Publish(req)

	for {
		ev, _, ok := sub.Recv(deadline)
		if !ok {
			var zero T
			return zero, false
		}
		if v, matched := match(ev); matched {
			return v, true
		}
	}
}
