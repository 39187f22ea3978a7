// Command demo drives the engine headlessly, with no physical controller or
// MIDI hardware attached: it fabricates pad presses on a timer and prints
// outbound CC writes to stdout. Useful for exercising the router/morph/tempo
// pipeline end to end during development.
package main

import (
	"context"
	"fmt"
	"log/slog"
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

type loggingCCPort struct {
	logger *slog.Logger
}

func (p loggingCCPort) SendCC(channel, cc, value uint8) error {
	fmt.Printf("CC ch=%d cc=%d value=%d\n", channel, cc, value)
	return nil
}

func demoProject() model.Project {
	params := []model.Parameter{{Name: "filter", CC: 74}, {Name: "resonance", CC: 71}, {Name: "volume", CC: 7}}
	snapValues := [][]uint8{
		{0, 0, 64},
		{127, 40, 100},
		{64, 64, 64},
	}
	snaps := make([]model.Snap, len(snapValues))
	for i, v := range snapValues {
		snaps[i] = model.Snap{Name: fmt.Sprintf("snap-%d", i), Values: v}
	}
	return model.Project{
		ControllerID: "Generic",
		Parameters:   params,
		Banks:        []model.Bank{{Name: "demo-bank", Snaps: snaps}},
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New()
	m := model.New(demoProject())
	controller := grid.NewGenericController(b, grid.NopPort{}, logger)
	sink := midiio.NewOutputSink(loggingCCPort{logger: logger}, 2*time.Millisecond, logger)
	go sink.RunSubscriber(ctx, b, m)

	link := tempoclock.NewLinkClient(b, tempoclock.NoopProber{}, 120, logger)
	go link.Run(ctx)

	rt := router.New(b, m, controller, sink, logger)
	go rt.Run(ctx)

	morphEngine := morph.New(b, m, controller, logger)
	go morphEngine.Run(ctx)

	go fabricatePresses(ctx, b)

	<-ctx.Done()
	b.Publish(bus.Shutdown{})
	time.Sleep(100 * time.Millisecond)
}

// fabricatePresses presses snap 0, waits, holds the shortest modifier and
// presses snap 1 (initiating a morph), then releases the modifier and
// presses snap 0 again (cancelling the morph if it is still running).
func fabricatePresses(ctx context.Context, b *bus.Bus) {
	press := func(pad int) {
		b.Publish(bus.PadPressed{Pad: pad, Velocity: 100})
		b.Publish(bus.PadReleased{Pad: pad, Velocity: 0})
	}

	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	press(8) // snap 0

	select {
	case <-time.After(1 * time.Second):
	case <-ctx.Done():
		return
	}
	b.Publish(bus.PadPressed{Pad: 0, Velocity: 100}) // hold modifier (1 bar)
	press(9)                                         // snap 1, initiates morph

	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return
	}
	b.Publish(bus.PadReleased{Pad: 0, Velocity: 0})
	press(8) // back to snap 0, cancels any in-flight morph
}
