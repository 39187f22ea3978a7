package grid

import (
	"fmt"
	"log/slog"

	"snapblaster-core/internal/bus"
)

// LaunchpadXController adapts a Novation Launchpad X running in Programmer
// Layout: pads are addressed as notes 11..88 in a 10s-stride 8x8 grid (no
// notes at the multiples of 10), row 0 at the bottom of the physical device.
// Grounded on original_source's LaunchpadX stub (launchpad_x.rs), which left
// the wire format as a comment ("would use SysEx or note messages with
// velocity for color"); this fills that in with the documented Programmer
// Layout note scheme and reuses GenericController's buffering/coalescing.
type LaunchpadXController struct {
	*GenericController
}

// NewLaunchpadXController wires a Launchpad X on top of port, publishing
// pad events onto b.
func NewLaunchpadXController(b *bus.Bus, port Port, logger *slog.Logger) *LaunchpadXController {
	return &LaunchpadXController{GenericController: NewGenericController(b, port, logger)}
}

// launchpadXNote maps a canonical pad (row-major, top-left = 0, rows 0-7
// top-to-bottom) to the Programmer Layout note for physical row
// (7-row)+1..(7-row)+8, i.e. device row 1 (bottom) is canonical row 7.
func launchpadXNote(pad int) (uint8, error) {
	row, col, err := PadToRowCol(pad)
	if err != nil {
		return 0, err
	}
	deviceRow := 7 - row // device rows count bottom-up, 0-indexed here
	note := 11 + deviceRow*10 + col
	return uint8(note), nil
}

func launchpadXPad(note uint8) (int, bool) {
	if note < 11 || note > 88 {
		return 0, false
	}
	deviceRow := int(note-11) / 10
	col := int(note-11) % 10
	if col > 7 || deviceRow > 7 {
		return 0, false
	}
	row := 7 - deviceRow
	return row*8 + col, true
}

func (l *LaunchpadXController) HandleNoteInput(note, velocity uint8) {
	pad, ok := launchpadXPad(note)
	if !ok {
		l.logger.Warn("grid_note_out_of_range", slog.Int("note", int(note)))
		return
	}
	if velocity > 0 {
		l.bus.Publish(bus.PadPressed{Pad: pad, Velocity: int(velocity)})
	} else {
		l.bus.Publish(bus.PadReleased{Pad: pad})
	}
}

func (l *LaunchpadXController) padToNote(pad int) uint8 {
	note, err := launchpadXNote(pad)
	if err != nil {
		return 0
	}
	return note
}

// RefreshState overrides the generic flush to translate canonical pads to
// Launchpad X device notes before writing.
func (l *LaunchpadXController) RefreshState() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for pad := 0; pad < 64; pad++ {
		if l.pending[pad] == l.applied[pad] {
			continue
		}
		note := l.padToNote(pad)
		velocity := colorToVelocity(l.pending[pad])
		if err := l.port.SendNoteOn(note, velocity); err != nil {
			l.logger.Warn("grid_led_write_failed", slog.Int("pad", pad), slog.String("error", err.Error()))
			continue
		}
		l.applied[pad] = l.pending[pad]
	}
}

func (l *LaunchpadXController) Name() string { return "Launchpad X" }

// New constructs a Controller by device name, mirroring original_source's
// create_controller factory (controller.rs) over the closed variant set.
func New(name string, b *bus.Bus, port Port, logger *slog.Logger) (Controller, error) {
	switch name {
	case "", "Generic", "Generic Controller":
		return NewGenericController(b, port, logger), nil
	case "Launchpad X":
		return NewLaunchpadXController(b, port, logger), nil
	default:
		return nil, fmt.Errorf("unsupported controller: %s", name)
	}
}
