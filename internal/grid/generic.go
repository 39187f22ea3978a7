package grid

import (
	"log/slog"
	"sync"

	"snapblaster-core/internal/bus"
)

// GenericController is a device-agnostic Controller: a 64-pad virtual LED
// buffer plus identity note-to-pad translation. Used standalone for the
// headless demo and as the embedded base every concrete variant below
// builds on, grounded on original_source's GenericController ("used when no
// hardware is available or when the specific controller could not be
// initialized").
type GenericController struct {
	mu      sync.Mutex
	bus     *bus.Bus
	port    Port
	pending [64]RGB
	applied [64]RGB
	logger  *slog.Logger
}

// NewGenericController constructs a GenericController publishing pad events
// onto b and flushing LED writes through port (NopPort{} if none is wired).
func NewGenericController(b *bus.Bus, port Port, logger *slog.Logger) *GenericController {
	if port == nil {
		port = NopPort{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenericController{bus: b, port: port, logger: logger}
}

// translatePad maps a raw note number to a canonical pad index. The generic
// controller assumes the device already reports canonical pad numbers.
func (g *GenericController) translatePad(note uint8) int {
	return int(note)
}

func (g *GenericController) HandleNoteInput(note, velocity uint8) {
	pad := g.translatePad(note)
	if pad < 0 || pad > 63 {
		g.logger.Warn("grid_note_out_of_range", slog.Int("note", int(note)))
		return
	}
	if velocity > 0 {
		g.bus.Publish(bus.PadPressed{Pad: pad, Velocity: int(velocity)})
	} else {
		g.bus.Publish(bus.PadReleased{Pad: pad})
	}
}

func (g *GenericController) SetLED(pad int, color RGB) {
	if pad < 0 || pad > 63 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[pad] = color
}

func (g *GenericController) SetProgressLED(pad int, progress float64) {
	g.SetLED(pad, MorphGradient(progress))
}

func (g *GenericController) SetMorphTargetLED(pad int) {
	g.SetLED(pad, Purple)
}

func (g *GenericController) SetActiveModifierLED(pad int) {
	g.SetLED(pad, Green)
}

func (g *GenericController) ClearLEDs() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = [64]RGB{}
}

// RefreshState flushes only pads whose buffered color differs from the last
// applied color, bounding wire traffic per spec.md §4.3 ("Coalescing
// identical writes is required").
func (g *GenericController) RefreshState() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for pad := 0; pad < 64; pad++ {
		if g.pending[pad] == g.applied[pad] {
			continue
		}
		note := g.padToNote(pad)
		velocity := colorToVelocity(g.pending[pad])
		if err := g.port.SendNoteOn(note, velocity); err != nil {
			g.logger.Warn("grid_led_write_failed", slog.Int("pad", pad), slog.String("error", err.Error()))
			continue
		}
		g.applied[pad] = g.pending[pad]
	}
}

func (g *GenericController) padToNote(pad int) uint8 {
	return uint8(pad)
}

// colorToVelocity folds an RGB triple into the single-byte velocity most
// grid controllers use to select a palette color on a note-on LED write.
func colorToVelocity(c RGB) uint8 {
	switch c {
	case Off:
		return 0
	case Red:
		return 5
	case Green:
		return 21
	case Yellow:
		return 13
	case Purple:
		return 49
	case DimGray:
		return 1
	default:
		// Gradient colors: fold green/blue into the mid velocity range.
		return uint8(20 + c.G/8)
	}
}

func (g *GenericController) SendCC(channel, cc, value uint8) error {
	return g.port.SendCC(channel, cc, value)
}

func (g *GenericController) Name() string { return "Generic Controller" }

// LEDSnapshot returns a copy of the applied LED buffer, used by diagnostics
// and tests to assert on the device-visible state after RefreshState.
func (g *GenericController) LEDSnapshot() [64]RGB {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applied
}
