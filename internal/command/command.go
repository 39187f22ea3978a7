// Package command consumes the UI collaborator's command events off the
// bus: ParameterEdited, a UI-issued SnapSelected, and AIGenerationCompleted
// (spec.md §6 "Command surface (consumed from the UI collaborator)... Each
// command is an event published onto the bus"). Grounded on
// original_source's src-tauri/src/midi/service.rs MidiService event loop,
// which is the original's single consumer of exactly these three event
// kinds from its Tauri command handlers.
package command

import (
	"context"
	"log/slog"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/midiio"
	"snapblaster-core/internal/model"
)

// Consumer applies UI-originated commands to the model and emits the
// resulting CC traffic. It holds no state of its own, the same ownership
// discipline as the router (spec.md §9 "Event-loss tolerance").
type Consumer struct {
	bus    *bus.Bus
	model  *model.Model
	sink   *midiio.OutputSink
	logger *slog.Logger
}

// New constructs a Consumer. sink may be nil if no outbound CC port is
// connected.
func New(b *bus.Bus, m *model.Model, sink *midiio.OutputSink, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{bus: b, model: m, sink: sink, logger: logger}
}

// Run consumes ParameterEdited/SnapSelected/AIGenerationCompleted until ctx
// is cancelled or Shutdown is observed.
func (c *Consumer) Run(ctx context.Context) {
	sub := c.bus.Subscribe("command-consumer")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch e := ev.(type) {
		case bus.ParameterEdited:
			c.handleParameterEdited(ctx, e)
		case bus.SnapSelected:
			c.handleSnapSelected(ctx, e)
		case bus.AIGenerationCompleted:
			c.handleAIGenerationCompleted(e)
		case bus.Shutdown:
			return
		}
	}
}

// handleParameterEdited writes the edited value into the currently selected
// snap and emits its single CC (service.rs's `Event::ParameterEdited` arm).
func (c *Consumer) handleParameterEdited(ctx context.Context, e bus.ParameterEdited) {
	cc, err := c.model.SetParameterValue(e.ParamID, e.Value)
	if err != nil {
		c.logger.Warn("command_parameter_edit_failed", slog.Int("param_id", e.ParamID), slog.String("error", err.Error()))
		return
	}
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(ctx, cc, e.Value); err != nil {
		c.logger.Warn("command_cc_emit_failed", slog.Int("param_id", e.ParamID), slog.String("error", err.Error()))
	}
}

// handleSnapSelected applies a UI-issued selection (service.rs's
// `Event::SnapSelected` arm: update current_bank/current_snap, send every
// CC, refresh LEDs). SnapSelected is also published by the router itself as
// a post-hoc notification once it has already applied a pad-driven
// selection (spec.md's event table: "SnapSelected | bank_id, snap_id |
// router / UI"); since both share the same event shape, a selection that
// already matches the current model state is treated as that notification
// and skipped here, so a plain pad press never causes a second, redundant
// full CC re-emission.
func (c *Consumer) handleSnapSelected(ctx context.Context, e bus.SnapSelected) {
	state := c.model.Snapshot()
	if state.CurrentBank == e.BankID && state.CurrentSnap == e.SnapID {
		return
	}

	values, err := c.model.SelectSnap(e.BankID, e.SnapID)
	if err != nil {
		c.logger.Warn("command_snap_select_failed", slog.String("error", err.Error()))
		return
	}
	if c.sink != nil {
		params := c.model.Snapshot().Parameters
		for i, v := range values {
			if i >= len(params) {
				break
			}
			if err := c.sink.SendForce(ctx, params[i].CC, v); err != nil {
				c.logger.Warn("command_cc_emit_failed", slog.Int("param_id", i), slog.String("error", err.Error()))
			}
		}
	}
	c.bus.Publish(bus.RequestUpdateLEDs{})
}

// handleAIGenerationCompleted writes AI-generated values into the targeted
// snap (SPEC_FULL.md "AI-generation event shape": "the core's job is solely
// to relay these on the bus and, on AIGenerationCompleted, write values
// into the targeted snap under the model write lock"). It does not select
// the snap or emit CC: the AI service may generate into a snap the operator
// isn't currently viewing.
func (c *Consumer) handleAIGenerationCompleted(e bus.AIGenerationCompleted) {
	if err := c.model.ApplyAIValues(e.BankID, e.SnapID, e.Values); err != nil {
		c.logger.Warn("command_ai_apply_failed", slog.String("error", err.Error()))
	}
}
