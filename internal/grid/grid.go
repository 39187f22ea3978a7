// Package grid implements the Grid Controller Abstraction of spec.md §4.3: a
// capability exposing note input, LED buffering/coalescing, and CC
// pass-through over a closed set of concrete hardware variants. Grounded on
// original_source's midi::controller::MidiGridController trait (generic.rs,
// launchpad_x.rs), translated from a Rust trait object to a Go interface per
// spec.md §9 ("a capability/trait is preferred over inheritance").
package grid

import (
	"fmt"

	"snapblaster-core/internal/bus"
)

// RGB is a controller LED color (spec.md §4.3).
type RGB struct {
	R, G, B uint8
}

// Reserved palette the router relies on (spec.md §4.3).
var (
	Red     = RGB{R: 127}
	Green   = RGB{G: 127}
	Yellow  = RGB{R: 127, G: 127}
	Purple  = RGB{R: 96, B: 96}
	DimGray = RGB{R: 16, G: 16, B: 16}
	Off     = RGB{}
)

// MorphGradient interpolates from blue (progress 0) to green (progress 1)
// for the morph-progress LED on the morph target pad (spec.md §4.3
// "BLUE→GREEN gradient").
func MorphGradient(progress float64) RGB {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return RGB{
		G: uint8(127 * progress),
		B: uint8(127 * (1 - progress)),
	}
}

// Controller is the closed capability set of spec.md §4.3. Implementations
// translate device-specific note numbers and LED wire formats; callers only
// ever see canonical pad indices 0..63, row-major, top-left = 0.
type Controller interface {
	// HandleNoteInput translates a raw note-on/off into a canonical pad
	// index and publishes PadPressed (velocity > 0) or PadReleased
	// (velocity == 0, or any note-off) onto the bus.
	HandleNoteInput(note, velocity uint8)

	SetLED(pad int, color RGB)
	SetProgressLED(pad int, progress float64)
	SetMorphTargetLED(pad int)
	SetActiveModifierLED(pad int)
	ClearLEDs()

	// RefreshState flushes the buffered LED writes to hardware, coalescing
	// unchanged pads to bound wire traffic (spec.md §4.3).
	RefreshState()

	// SendCC is an optional pass-through; most devices route CC output
	// through a separate outbound MIDI port instead (spec.md §4.3).
	SendCC(channel, cc, value uint8) error

	Name() string
}

// Port is the hardware-facing side a Controller writes LEDs and CC through.
// midiio implements this against a real MIDI output; tests and the headless
// demo use an in-memory fake.
type Port interface {
	SendNoteOn(note, velocity uint8) error
	SendCC(channel, cc, value uint8) error
}

// NopPort discards every write; used when no hardware output is connected
// (spec.md §7: "LED refresh silently skipped if no output is connected").
type NopPort struct{}

func (NopPort) SendNoteOn(note, velocity uint8) error      { return nil }
func (NopPort) SendCC(channel, cc, value uint8) error { return nil }

// PadToRowCol maps a canonical pad index to its row/col in the 8x8 grid,
// row 0 at the top (spec.md §4.4: "row 0 = modifiers+banks, rows 1-7 =
// snaps").
func PadToRowCol(pad int) (row, col int, err error) {
	if pad < 0 || pad > 63 {
		return 0, 0, fmt.Errorf("pad %d out of range 0..63", pad)
	}
	return pad / 8, pad % 8, nil
}
