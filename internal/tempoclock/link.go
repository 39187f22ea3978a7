package tempoclock

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"snapblaster-core/internal/bus"
)

// PeerProber reports how many tempo-source peers are reachable. Real peer
// discovery (network multicast, a hardware sync box) lives behind this
// interface; NoopProber is used when nothing is configured.
type PeerProber interface {
	Probe(ctx context.Context) (peers int, err error)
}

// NoopProber always reports zero peers without error: a standalone session
// with no external tempo source (spec.md §4.4 "On timeout the morph engine
// falls back to 120 BPM").
type NoopProber struct{}

func (NoopProber) Probe(context.Context) (int, error) { return 0, nil }

// LinkClient is a free-running tempo provider: it owns a wall-clock-derived
// beat/bar position at a settable BPM and answers the bus's Request* events,
// the same role original_source's LinkSynchronizer plays against a real
// Ableton Link session (link.rs). Peer discovery is retried with
// exponential backoff (at most 3 retries per check) and a failed check keeps
// the last known peer count. The retries run inside Run's loop, so beat and
// bar events pause while a probe is being retried.
type LinkClient struct {
	bus    *bus.Bus
	prober PeerProber
	logger *slog.Logger

	bpm            float64
	beatsPerBar    float64
	start          time.Time
	lastBeat       int64
	lastBar        int64
	peersConnected int
}

// NewLinkClient constructs a LinkClient at the given starting tempo.
func NewLinkClient(b *bus.Bus, prober PeerProber, bpm float64, logger *slog.Logger) *LinkClient {
	if prober == nil {
		prober = NoopProber{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bpm <= 0 {
		bpm = FallbackBPM
	}
	return &LinkClient{
		bus:         b,
		prober:      prober,
		logger:      logger,
		bpm:         bpm,
		beatsPerBar: 4,
	}
}

// SetTempo changes the running tempo; the next tick publishes
// LinkTempoChanged.
func (l *LinkClient) SetTempo(bpm float64) { l.bpm = bpm }

func (l *LinkClient) beatPosition(now time.Time) float64 {
	elapsed := now.Sub(l.start).Seconds()
	return elapsed * (l.bpm / 60)
}

// Run drives the beat/bar ticker and answers request events until ctx is
// cancelled or a Shutdown event is observed (spec.md §5 "every long-running
// subscriber must observe it and terminate").
func (l *LinkClient) Run(ctx context.Context) {
	l.start = time.Now()
	sub := l.bus.Subscribe("tempoclock-link")
	defer sub.Close()

	l.bus.Publish(bus.LinkStatusChanged{PeersConnected: l.peersConnected, Enabled: true})

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	peerCheck := time.NewTicker(time.Second)
	defer peerCheck.Stop()

	respCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.serveRequests(respCtx, sub)

	lastTempo := l.bpm
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.bpm != lastTempo {
				lastTempo = l.bpm
				l.bus.Publish(bus.LinkTempoChanged{BPM: l.bpm})
			}
			now := time.Now()
			pos := l.beatPosition(now)
			phase := posMod(pos, l.beatsPerBar)
			beat := int64(pos)
			if beat != l.lastBeat {
				l.lastBeat = beat
				l.bus.Publish(bus.BeatOccurred{Beat: beat, Phase: phase})
				bar := int64(pos / l.beatsPerBar)
				if bar != l.lastBar {
					l.lastBar = bar
					l.bus.Publish(bus.BarOccurred{Bar: bar, Phase: phase})
				}
			}
		case <-peerCheck.C:
			l.checkPeers(ctx)
		}
	}
}

func (l *LinkClient) checkPeers(ctx context.Context) {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	var peers int
	err := backoff.Retry(func() error {
		p, err := l.prober.Probe(ctx)
		if err != nil {
			return err
		}
		peers = p
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		l.logger.Warn("tempoclock_peer_probe_failed", slog.String("error", err.Error()))
		return
	}
	if peers != l.peersConnected {
		l.peersConnected = peers
		l.bus.Publish(bus.LinkStatusChanged{PeersConnected: peers, Enabled: true})
	}
}

// serveRequests answers RequestLinkStatus/RequestLinkTempo/RequestNextBarTime
// on the same bus Subscribe any consumer would use (spec.md §4.4).
func (l *LinkClient) serveRequests(ctx context.Context, sub *bus.Subscription) {
	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch ev.(type) {
		case bus.RequestLinkStatus:
			l.bus.Publish(bus.LinkStatusChanged{PeersConnected: l.peersConnected, Enabled: true})
		case bus.RequestLinkTempo:
			l.bus.Publish(bus.LinkTempoChanged{BPM: l.bpm})
		case bus.RequestNextBarTime:
			now := time.Now()
			pos := l.beatPosition(now)
			beatInBar := posMod(pos, l.beatsPerBar)
			var beatsToNextBar float64
			if beatInBar > 0.01 {
				beatsToNextBar = l.beatsPerBar - beatInBar
			}
			secsToNextBar := beatsToNextBar / (l.bpm / 60)
			l.bus.Publish(bus.NextBarTime{WaitMS: int64(secsToNextBar * 1000)})
		}
	}
}

func posMod(v, m float64) float64 {
	r := v - float64(int64(v/m))*m
	if r < 0 {
		r += m
	}
	return r
}
