// Package router implements the Input Router of spec.md §4.5: it consumes
// PadPressed/PadReleased, partitions the 8x8 grid into modifier, bank, and
// snap regions, and drives both the model and the grid controller's LED
// feedback. Grounded on original_source's service.rs/manager.rs dispatch
// pattern (a single event loop matching on pad region) and on the teacher's
// orchestrator_loop.go single-select-over-channels shape.
package router

import (
	"context"
	"log/slog"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/grid"
	"snapblaster-core/internal/midiio"
	"snapblaster-core/internal/model"
)

// ModifierDurations maps modifier pad index (0..4) to the morph duration,
// in bars, it selects (spec.md §4.5).
var ModifierDurations = [5]int{1, 2, 4, 8, 16}

// Router owns no state of its own: every decision re-reads the model, so a
// bus lag never causes semantic drift (spec.md §9 "Event-loss tolerance").
type Router struct {
	bus        *bus.Bus
	model      *model.Model
	controller grid.Controller
	sink       *midiio.OutputSink
	logger     *slog.Logger
}

// New constructs a Router. sink may be nil if no outbound CC port is
// connected (spec.md §7: degrades to a silent outbound path).
func New(b *bus.Bus, m *model.Model, controller grid.Controller, sink *midiio.OutputSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{bus: b, model: m, controller: controller, sink: sink, logger: logger}
}

// Run consumes PadPressed/PadReleased/RequestUpdateLEDs until ctx is
// cancelled or Shutdown is observed.
func (r *Router) Run(ctx context.Context) {
	sub := r.bus.Subscribe("router")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch e := ev.(type) {
		case bus.PadPressed:
			r.handlePress(ctx, e.Pad)
		case bus.PadReleased:
			r.handleRelease(e.Pad)
		case bus.RequestUpdateLEDs:
			r.refreshLEDs()
		case bus.Shutdown:
			return
		}
	}
}

func (r *Router) handlePress(ctx context.Context, pad int) {
	switch {
	case pad >= 0 && pad <= 4:
		r.model.SetActiveModifier(pad, ModifierDurations[pad])
	case pad >= 5 && pad <= 7:
		bankID := pad - 5
		if err := r.model.SelectBank(bankID); err == nil {
			r.bus.Publish(bus.BankSelected{BankID: bankID})
		}
	case pad >= 8 && pad <= 63:
		r.handleSnapPress(ctx, pad-8)
	default:
		r.logger.Warn("router_pad_out_of_range", slog.Int("pad", pad))
		return
	}
	r.bus.Publish(bus.RequestUpdateLEDs{})
}

func (r *Router) handleSnapPress(ctx context.Context, snapID int) {
	if r.model.HasActiveMorph() {
		r.model.CancelMorph()
		r.bus.Publish(bus.MorphCompleted{})
	}

	state := r.model.Snapshot()
	if state.CurrentBank < 0 || state.CurrentBank >= len(state.Banks) {
		return
	}
	bank := state.Banks[state.CurrentBank]
	if snapID < 0 || snapID >= len(bank.Snaps) || bank.Snaps[snapID].Empty() {
		return
	}

	if state.ActiveModifier != model.NoModifier && snapID != state.CurrentSnap {
		r.bus.Publish(bus.MorphInitiated{
			BankID:       state.CurrentBank,
			FromSnap:     state.CurrentSnap,
			ToSnap:       snapID,
			DurationBars: state.MorphDurationBars,
			Curve:        bus.Linear,
			Quantize:     true,
		})
		return
	}

	values, err := r.model.SelectSnap(state.CurrentBank, snapID)
	if err != nil {
		r.logger.Warn("router_select_snap_failed", slog.String("error", err.Error()))
		return
	}
	r.emitSnap(ctx, values)
	r.bus.Publish(bus.SnapSelected{BankID: state.CurrentBank, SnapID: snapID})
}

func (r *Router) handleRelease(pad int) {
	if pad < 0 || pad > 4 {
		return
	}
	if r.model.ClearActiveModifierIfMatches(pad) {
		r.bus.Publish(bus.RequestUpdateLEDs{})
	}
}

// emitSnap writes every parameter's value for a selected snap through the
// shared OutputSink, paced but never deduped: a snap select must emit the
// full CC set every time, even if some values are unchanged from what's
// currently selected (spec.md §4.5, §6, §8).
func (r *Router) emitSnap(ctx context.Context, values []uint8) {
	if r.sink == nil {
		return
	}
	params := r.model.Snapshot().Parameters
	for i, v := range values {
		if i >= len(params) {
			break
		}
		if err := r.sink.SendForce(ctx, params[i].CC, v); err != nil {
			r.logger.Warn("router_cc_emit_failed", slog.Int("param_id", i), slog.String("error", err.Error()))
		}
	}
}

// refreshLEDs recomputes the entire grid from the model and flushes it,
// never from accumulated deltas (spec.md §9, testable property #6).
func (r *Router) refreshLEDs() {
	if r.controller == nil {
		return
	}
	state := r.model.Snapshot()
	r.controller.ClearLEDs()

	for pad := 0; pad <= 4; pad++ {
		if state.ActiveModifier == pad {
			r.controller.SetActiveModifierLED(pad)
		} else {
			r.controller.SetLED(pad, grid.Red)
		}
	}

	for pad := 5; pad <= 7; pad++ {
		bankID := pad - 5
		if bankID == state.CurrentBank {
			r.controller.SetLED(pad, grid.Green)
		} else {
			r.controller.SetLED(pad, grid.Red)
		}
	}

	if state.CurrentBank >= 0 && state.CurrentBank < len(state.Banks) {
		bank := state.Banks[state.CurrentBank]
		for snapID, snap := range bank.Snaps {
			pad := snapID + 8
			if pad > 63 {
				break
			}
			switch {
			case state.ActiveMorph != nil && snapID == state.ActiveMorph.ToSnap:
				r.controller.SetMorphTargetLED(pad)
			case snapID == state.CurrentSnap:
				r.controller.SetLED(pad, grid.Green)
			case snap.Empty():
				r.controller.SetLED(pad, grid.DimGray)
			default:
				r.controller.SetLED(pad, grid.Yellow)
			}
		}
	}

	r.controller.RefreshState()
}
