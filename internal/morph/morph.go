// Package morph implements the Morph Engine of spec.md §4.6: a single
// in-flight interpolation task between two snaps, preemptible by a new
// MorphInitiated or by the model's active morph being cleared out from
// under it. Grounded on the teacher's internal/engine state-machine pattern
// (state_manager_core.go/state_manager_transition.go: an owned handle plus
// a single goroutine driving transitions) and on original_source's
// morph.rs for the curve set and per-tick interpolation shape.
package morph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/grid"
	"snapblaster-core/internal/model"
	"snapblaster-core/internal/tempoclock"
)

// TickInterval is the morph interpolation period: 30 Hz (spec.md §4.6
// step 6). Go's time.Ticker drops ticks its receiver hasn't drained instead
// of queuing them, which is exactly the "skip missed ticks" policy the
// spec calls for — no extra bookkeeping needed to avoid catch-up bursts.
const TickInterval = time.Second / 30

// Engine owns the single in-flight morph task handle (spec.md §4.6).
type Engine struct {
	bus        *bus.Bus
	model      *model.Model
	controller grid.Controller // optional: live per-tick progress LEDs
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a morph Engine. controller may be nil, in which case the
// live progress LED overlay is skipped (spec.md §7 "LED refresh silently
// skipped if no output is connected").
func New(b *bus.Bus, m *model.Model, controller grid.Controller, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{bus: b, model: m, controller: controller, logger: logger}
}

// Run consumes MorphInitiated until ctx is cancelled or Shutdown is
// observed, at which point any in-flight task is aborted too (spec.md §4.6
// "On Shutdown, the task is aborted and the engine exits").
func (e *Engine) Run(ctx context.Context) {
	sub := e.bus.Subscribe("morph-engine")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			e.preempt()
			return
		}
		switch mi := ev.(type) {
		case bus.MorphInitiated:
			e.start(ctx, mi)
		case bus.Shutdown:
			e.preempt()
			return
		}
	}
}

// preempt aborts the current task handle, if any (spec.md §4.6 step 1).
func (e *Engine) preempt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) start(parent context.Context, mi bus.MorphInitiated) {
	e.preempt()

	taskCtx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go e.run(taskCtx, mi)
}

func (e *Engine) run(ctx context.Context, mi bus.MorphInitiated) {
	curve := toModelCurve(mi.Curve)
	am, params, gen, err := e.model.StartMorph(mi.BankID, mi.FromSnap, mi.ToSnap, mi.DurationBars, curve)
	if err != nil {
		e.logger.Warn("morph_start_rejected", slog.String("error", err.Error()))
		return
	}

	if mi.Quantize {
		if !e.waitForBar(ctx) {
			return
		}
	}

	bpm, _ := tempoclock.RequestTempo(ctx, e.bus)
	if ctx.Err() != nil {
		return
	}

	totalSecs := float64(mi.DurationBars*4) / (bpm / 60)
	totalDuration := time.Duration(totalSecs * float64(time.Second))

	lastSent := append([]uint8(nil), am.FromValues...)
	start := time.Now()
	targetPad := mi.ToSnap + 8

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed >= totalDuration {
				e.finalize(ctx, gen, mi, am, params, lastSent)
				return
			}
			progress := elapsed.Seconds() / totalSecs
			curved := curveValue(curve, progress)
			current := make([]uint8, len(params))
			for i := range params {
				from := float64(am.FromValues[i])
				to := float64(am.ToValues[i])
				current[i] = clampRound(from + (to-from)*curved)
			}

			if !e.model.UpdateMorphProgress(gen, progress, current) {
				// Superseded or cancelled out from under us: the caller
				// (router, on a plain snap select) already published
				// MorphCompleted. Stop silently.
				return
			}

			for i, v := range current {
				if v != lastSent[i] {
					e.bus.Publish(bus.CCValueChanged{ParamID: i, Value: v})
					lastSent[i] = v
				}
			}
			e.bus.Publish(bus.MorphProgressed{Progress: progress, CurrentValues: current})
			if e.controller != nil {
				e.controller.SetProgressLED(targetPad, progress)
				e.controller.RefreshState()
			}
		}
	}
}

// waitForBar implements step 4: quantize only if the tempo clock reports
// peers connected and answers within the request timeout; otherwise skip
// quantization entirely rather than blocking the morph. LinkClient always
// answers Enabled:true even with zero peers (it is a free-running virtual
// clock, not a real network Link session), so peers connected — not
// enabled — is the gate spec.md §4.6 step 4 names.
func (e *Engine) waitForBar(ctx context.Context) bool {
	peers, _, ok := tempoclock.RequestLinkStatus(ctx, e.bus)
	if !ok || peers <= 0 {
		return true
	}
	waitMS, ok := tempoclock.RequestNextBarTime(ctx, e.bus)
	if !ok || waitMS <= 0 {
		return true
	}
	select {
	case <-time.After(time.Duration(waitMS) * time.Millisecond):
		return true
	case <-ctx.Done():
		return false
	}
}

// finalize implements step 8: persist to_values, clear ActiveMorph, and only
// then — gated on the same generation the model write just checked — publish
// any still-pending CC values and announce completion. Without the gate, a
// cancel racing the final tick (the router calling model.CancelMorph and
// publishing MorphCompleted, in the same window as this goroutine's last
// ticker fire) would still see this call publish a second MorphCompleted and
// the to_values CCValueChanged, even though the model write itself was
// correctly a no-op.
func (e *Engine) finalize(ctx context.Context, gen uint64, mi bus.MorphInitiated, am model.ActiveMorph, params []model.Parameter, lastSent []uint8) {
	applied, err := e.model.FinalizeMorph(gen, mi.BankID, mi.ToSnap, am.ToValues)
	if err != nil {
		e.logger.Warn("morph_finalize_failed", slog.String("error", err.Error()))
		return
	}
	if !applied {
		return
	}

	for i, v := range am.ToValues {
		if v != lastSent[i] {
			e.bus.Publish(bus.CCValueChanged{ParamID: i, Value: v})
			lastSent[i] = v
		}
	}
	e.bus.Publish(bus.MorphProgressed{Progress: 1.0, CurrentValues: am.ToValues})
	e.bus.Publish(bus.MorphCompleted{})
	if e.controller != nil {
		e.controller.RefreshState()
	}
}
