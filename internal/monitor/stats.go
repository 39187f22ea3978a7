// Package monitor tracks the live event rate of the engine's 30Hz morph
// tick loop, the counterpart to spec.md §8's testable property that a morph
// of duration D seconds emits MorphProgressed events within [0.8, 1.2] of
// 30*D. Grounded on the teacher's TPSMonitor (stats.go): same 5-bucket
// sliding window, applied to MorphProgressed instead of processed
// transactions.
package monitor

import (
	"sync"
	"time"
)

// RateMonitor implements a 5-second sliding window for deterministic
// events-per-second calculation.
type RateMonitor struct {
	buckets    [5]int
	currentPos int
	lastTick   time.Time
	mu         sync.Mutex
}

func NewRateMonitor() *RateMonitor {
	return &RateMonitor{
		lastTick: time.Now(),
	}
}

// Record increments the count for the current second bucket.
func (m *RateMonitor) Record(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := int(now.Sub(m.lastTick).Seconds())
	if elapsed >= 1 {
		if elapsed >= 5 {
			for i := range m.buckets {
				m.buckets[i] = 0
			}
			m.currentPos = 0
		} else {
			for i := 0; i < elapsed; i++ {
				m.currentPos = (m.currentPos + 1) % 5
				m.buckets[m.currentPos] = 0
			}
		}
		m.lastTick = now
	}
	m.buckets[m.currentPos] += count
}

// Rate returns the average events-per-second over the 5-second window.
func (m *RateMonitor) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastTick) > 5*time.Second {
		return 0.0
	}

	sum := 0
	for _, b := range m.buckets {
		sum += b
	}
	return float64(sum) / 5.0
}
