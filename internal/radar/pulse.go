package radar

import (
	"math"
	"time"

	"smartcrowd.klederson.com/internal/config"
)

// Pulse manages the ring that expands from the wearer's position.
type Pulse struct {
	Radius    float64 // Current ring radius in meters
	StartTime time.Time
}

// NewPulse creates a pulse starting at the wearer.
func NewPulse() *Pulse {
	return &Pulse{StartTime: time.Now()}
}

// Update advances the ring based on elapsed time.
func (p *Pulse) Update() {
	p.UpdateAt(time.Now())
}

// UpdateAt advances the ring as of now. The ring grows to PulseRange once
// every PulsePeriod and then starts over.
func (p *Pulse) UpdateAt(now time.Time) {
	period := config.PulsePeriod.Seconds()
	elapsed := now.Sub(p.StartTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	p.Radius = math.Mod(elapsed, period) / period * config.PulseRange
}

// Intensity returns the glow intensity [0, 1] for a cell dist meters from
// the wearer. The ring has a trailing glow of PulseWidth meters inside it.
// A nil pulse never glows.
func (p *Pulse) Intensity(dist float64) float64 {
	if p == nil {
		return 0
	}
	behind := p.Radius - dist
	if behind < 0 || behind > config.PulseWidth {
		return 0
	}

	// Linear falloff: 1.0 at ring head → 0.0 at trail end
	return 1.0 - behind/config.PulseWidth
}
