// Command chaos floods a standalone bus/router/model with random pad
// presses and releases at high frequency, exercising the same "lagging
// subscriber" path spec.md §8's lag-recovery property describes. Grounded on
// the teacher's tools/chaos/main.go (ticker-driven random-action injector
// against Anvil), rehomed from transaction flooding to pad-press flooding.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/grid"
	"snapblaster-core/internal/midiio"
	"snapblaster-core/internal/model"
	"snapblaster-core/internal/morph"
	"snapblaster-core/internal/router"
	"snapblaster-core/internal/tempoclock"
)

type discardCCPort struct{}

func (discardCCPort) SendCC(channel, cc, value uint8) error { return nil }

func chaosProject() model.Project {
	params := make([]model.Parameter, 16)
	for i := range params {
		params[i] = model.Parameter{Name: "p", CC: uint8(10 + i)}
	}
	snaps := make([]model.Snap, 56) // fills the full snap grid (pads 8-63)
	for i := range snaps {
		values := make([]uint8, len(params))
		for j := range values {
			values[j] = uint8(rand.Intn(128))
		}
		snaps[i] = model.Snap{Name: "s", Values: values}
	}
	return model.Project{Parameters: params, Banks: []model.Bank{{Name: "chaos", Snaps: snaps}}}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(bus.WithCapacity(64)) // deliberately small, to provoke lag
	m := model.New(chaosProject())
	controller := grid.NewGenericController(b, grid.NopPort{}, logger)
	sink := midiio.NewOutputSink(discardCCPort{}, time.Millisecond, logger)
	go sink.RunSubscriber(ctx, b, m)

	link := tempoclock.NewLinkClient(b, tempoclock.NoopProber{}, 120, logger)
	go link.Run(ctx)

	rt := router.New(b, m, controller, sink, logger)
	go rt.Run(ctx)

	morphEngine := morph.New(b, m, controller, logger)
	go morphEngine.Run(ctx)

	fmt.Println("chaos injector active: flooding pad presses every 10ms")
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Publish(bus.Shutdown{})
			return
		case <-ticker.C:
			pad := rand.Intn(64)
			if rand.Intn(2) == 0 {
				b.Publish(bus.PadPressed{Pad: pad, Velocity: 64 + rand.Intn(64)})
			} else {
				b.Publish(bus.PadReleased{Pad: pad})
			}
		}
	}
}
