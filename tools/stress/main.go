// Command stress repeatedly triggers morphs back-to-back and prints the
// observed MorphProgressed rate once a second, for comparison against
// spec.md §8's [0.8, 1.2] * 30Hz tolerance band; it does not check the rate
// itself. Grounded on the
// teacher's tools/stress/main.go (ticker + atomic counter + periodic TPS
// print), rehomed from block-processing throughput to morph-tick throughput.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
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

func stressProject() model.Project {
	params := []model.Parameter{{Name: "a", CC: 10}, {Name: "b", CC: 20}}
	return model.Project{Parameters: params, Banks: []model.Bank{{Name: "s", Snaps: []model.Snap{
		{Name: "lo", Values: []uint8{0, 0}},
		{Name: "hi", Values: []uint8{127, 127}},
	}}}}
}

func main() {
	fmt.Println("morph-tick stress test: target ~30Hz per in-flight morph")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	b := bus.New(bus.WithCapacity(4096))
	m := model.New(stressProject())
	controller := grid.NewGenericController(b, grid.NopPort{}, logger)
	sink := midiio.NewOutputSink(discardCCPort{}, time.Millisecond, logger)
	go sink.RunSubscriber(ctx, b, m)

	link := tempoclock.NewLinkClient(b, tempoclock.NoopProber{}, 120, logger)
	go link.Run(ctx)

	rt := router.New(b, m, controller, sink, logger)
	go rt.Run(ctx)

	morphEngine := morph.New(b, m, controller, logger)
	go morphEngine.Run(ctx)

	var ticks atomic.Int64
	sub := b.Subscribe("stress-observer")
	defer sub.Close()
	go func() {
		for {
			ev, _, ok := sub.Recv(ctx)
			if !ok {
				return
			}
			if _, isProgress := ev.(bus.MorphProgressed); isProgress {
				ticks.Add(1)
			}
		}
	}()

	startTime := time.Now()
	go func() {
		reportTicker := time.NewTicker(1 * time.Second)
		defer reportTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-reportTicker.C:
				elapsed := time.Since(startTime).Seconds()
				rate := float64(ticks.Load()) / elapsed
				fmt.Printf("elapsed=%.1fs ticks=%d rate=%.1f/s\n", elapsed, ticks.Load(), rate)
			}
		}
	}()

	// Fire a new 1-bar morph back to back for the whole run.
	for ctx.Err() == nil {
		b.Publish(bus.PadPressed{Pad: 0, Velocity: 100})
		b.Publish(bus.PadPressed{Pad: 9, Velocity: 100})
		b.Publish(bus.PadReleased{Pad: 0})
		time.Sleep(300 * time.Millisecond)
		b.Publish(bus.PadPressed{Pad: 8, Velocity: 100}) // select snap 0, cancels morph
		time.Sleep(300 * time.Millisecond)
	}

	<-ctx.Done()
	b.Publish(bus.Shutdown{})
	elapsed := time.Since(startTime).Seconds()
	fmt.Printf("done: elapsed=%.1fs total_ticks=%d avg_rate=%.1f/s\n", elapsed, ticks.Load(), float64(ticks.Load())/elapsed)
}
