// Package broadcaster implements the keyboard-side advertiser: status
// sampling, delta accumulation and the cadence loops that keep the legacy
// and periodic advertisements on air.
package broadcaster

import (
	"sync"
	"time"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// Accumulator sums pointer motion and scroll ticks between dynamic
// emissions and tracks the idle clock. Input handlers feed it from their
// own goroutines; the advertiser drains it once per dynamic cadence.
type Accumulator struct {
	mu           sync.Mutex
	dx, dy       int
	scrollV      int
	scrollH      int
	buttons      uint8
	lastActivity time.Time

	now func() time.Time
}

// NewAccumulator constructs an accumulator with the idle clock at zero.
func NewAccumulator() *Accumulator {
	a := &Accumulator{now: time.Now}
	a.lastActivity = a.now()
	return a
}

// AddMotion records a pointer movement.
func (a *Accumulator) AddMotion(dx, dy int) {
	a.mu.Lock()
	a.dx += dx
	a.dy += dy
	a.lastActivity = a.now()
	a.mu.Unlock()
}

// AddScroll records scroll ticks.
func (a *Accumulator) AddScroll(v, h int) {
	a.mu.Lock()
	a.scrollV += v
	a.scrollH += h
	a.lastActivity = a.now()
	a.mu.Unlock()
}

// SetButtons records the current pointer button mask.
func (a *Accumulator) SetButtons(mask uint8) {
	a.mu.Lock()
	a.buttons = mask
	a.lastActivity = a.now()
	a.mu.Unlock()
}

// MarkActivity resets the idle clock without touching the deltas. Key
// events route here.
func (a *Accumulator) MarkActivity() {
	a.mu.Lock()
	a.lastActivity = a.now()
	a.mu.Unlock()
}

// Deltas is one drained accumulator snapshot, saturated to the wire ranges.
type Deltas struct {
	DX         int16
	DY         int16
	ScrollV    int8
	ScrollH    int8
	Buttons    uint8
	IdleQuanta uint8
}

// Take drains the accumulated deltas, saturating each to its wire range,
// and resets them. The idle clock and button mask persist across drains.
func (a *Accumulator) Take() Deltas {
	a.mu.Lock()
	defer a.mu.Unlock()

	idle := a.now().Sub(a.lastActivity)
	if idle < 0 {
		idle = 0
	}

	d := Deltas{
		DX:         prospector.SaturateI16(a.dx),
		DY:         prospector.SaturateI16(a.dy),
		ScrollV:    prospector.SaturateI8(a.scrollV),
		ScrollH:    prospector.SaturateI8(a.scrollH),
		Buttons:    a.buttons,
		IdleQuanta: prospector.IdleQuanta(uint32(idle / time.Second)),
	}
	a.dx, a.dy, a.scrollV, a.scrollH = 0, 0, 0, 0
	return d
}
