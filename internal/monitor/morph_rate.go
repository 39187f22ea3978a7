package monitor

import (
	"context"

	"snapblaster-core/internal/bus"
)

// MorphTickWatcher feeds a RateMonitor from the event bus, giving
// diagnostics a live MorphProgressed-events-per-second figure to compare
// against the expected ~30Hz tick rate.
type MorphTickWatcher struct {
	Rate *RateMonitor
}

func NewMorphTickWatcher() *MorphTickWatcher {
	return &MorphTickWatcher{Rate: NewRateMonitor()}
}

// Run subscribes to the bus and records one event per MorphProgressed
// observed, until ctx is cancelled or a Shutdown event arrives.
func (w *MorphTickWatcher) Run(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe("morph-tick-watcher")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch ev.(type) {
		case bus.MorphProgressed:
			w.Rate.Record(1)
		case bus.Shutdown:
			return
		}
	}
}
