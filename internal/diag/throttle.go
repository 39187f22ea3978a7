package diag

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ThrottledHub wraps Hub to coalesce the 30Hz stream of morph_progressed
// events down to a dashboard-friendly ~5fps, while every other event type
// (pad presses, selections, morph start/stop, link status) still broadcasts
// immediately. Grounded on the teacher's ThrottledHub (internal/web's
// hub_throttle.go), which applied the same pattern to high-frequency
// block/transfer events.
type ThrottledHub struct {
	*Hub

	throttleInterval time.Duration
	pendingMu        sync.Mutex
	pending          map[string]Event

	droppedEvents uint64
}

// immediateTypes bypasses coalescing entirely.
var immediateTypes = map[string]bool{
	"pad_pressed":      true,
	"bank_selected":    true,
	"snap_selected":    true,
	"morph_initiated":  true,
	"morph_completed":  true,
	"link_status":      true,
}

func NewThrottledHub(logger *slog.Logger, throttleInterval time.Duration) *ThrottledHub {
	if throttleInterval <= 0 || throttleInterval > 200*time.Millisecond {
		throttleInterval = 200 * time.Millisecond // 5fps ceiling, matches 30Hz tick / 6
	}
	return &ThrottledHub{
		Hub:              NewHub(logger),
		throttleInterval: throttleInterval,
		pending:          make(map[string]Event),
	}
}

// RunWithThrottling runs the base Hub's dispatch loop plus a periodic
// flush of the coalesced buffer.
func (h *ThrottledHub) RunWithThrottling(ctx context.Context) {
	ticker := time.NewTicker(h.throttleInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.flush()
			}
		}
	}()

	h.Hub.Run(ctx)
}

// Broadcast either forwards event immediately or buffers it, keeping only
// the latest event per type until the next flush. This shadows the
// embedded Hub.Broadcast so RunBusBridge can treat both Hub and
// ThrottledHub as a Broadcaster.
func (h *ThrottledHub) Broadcast(event Event) {
	if immediateTypes[event.Type] {
		h.Hub.Broadcast(event)
		return
	}

	h.pendingMu.Lock()
	h.pending[event.Type] = event
	h.pendingMu.Unlock()
}

func (h *ThrottledHub) flush() {
	h.pendingMu.Lock()
	if len(h.pending) == 0 {
		h.pendingMu.Unlock()
		return
	}
	batch := h.pending
	h.pending = make(map[string]Event)
	h.pendingMu.Unlock()

	for _, event := range batch {
		h.Hub.Broadcast(event)
	}
}
