package broadcaster

import (
	"sync"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// StateSampler is a thread-safe status holder implementing Sampler. Input
// integrations (keymap hooks, battery polling, WPM counting) push changes
// through the setters; the advertiser reads a consistent snapshot per
// emission.
type StateSampler struct {
	mu         sync.Mutex
	status     prospector.Status
	indicators prospector.IndicatorFlags
	static     prospector.StaticFrame
}

// NewStateSampler seeds the holder with an initial status.
func NewStateSampler(initial prospector.Status) *StateSampler {
	return &StateSampler{status: initial}
}

// Sample returns the current status snapshot.
func (s *StateSampler) Sample() prospector.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Indicators returns the current lock-indicator state.
func (s *StateSampler) Indicators() prospector.IndicatorFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicators
}

// SampleStatic returns the slow-changing data snapshot.
func (s *StateSampler) SampleStatic() prospector.StaticFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.static
}

// SetLayer updates the active layer and its name.
func (s *StateSampler) SetLayer(layer uint8, name string) {
	s.mu.Lock()
	s.status.ActiveLayer = layer
	s.status.LayerName = name
	s.mu.Unlock()
}

// SetModifiers updates the modifier state.
func (s *StateSampler) SetModifiers(m prospector.ModifierFlags) {
	s.mu.Lock()
	s.status.Modifiers = m
	s.mu.Unlock()
}

// SetBattery updates the primary and peripheral battery levels.
func (s *StateSampler) SetBattery(primary uint8, peripheral [3]uint8) {
	s.mu.Lock()
	s.status.BatteryPrimary = primary
	s.status.BatteryPeripheral = peripheral
	s.mu.Unlock()
}

// SetWPM updates the words-per-minute estimate.
func (s *StateSampler) SetWPM(wpm uint8) {
	s.mu.Lock()
	s.status.WPM = wpm
	s.mu.Unlock()
}

// SetProfile updates the active radio profile and connection count.
func (s *StateSampler) SetProfile(profile, connections uint8) {
	s.mu.Lock()
	s.status.ActiveProfile = profile
	s.status.ConnectionCount = connections
	s.mu.Unlock()
}

// SetFlags replaces the status flag byte.
func (s *StateSampler) SetFlags(f prospector.StatusFlags) {
	s.mu.Lock()
	s.status.Flags = f
	s.mu.Unlock()
}

// SetIndicators replaces the lock-indicator state.
func (s *StateSampler) SetIndicators(f prospector.IndicatorFlags) {
	s.mu.Lock()
	s.indicators = f
	s.mu.Unlock()
}

// SetStatic replaces the slow-changing data. Callers follow up with
// MarkStaticDirty on the advertiser to emit it promptly.
func (s *StateSampler) SetStatic(f prospector.StaticFrame) {
	s.mu.Lock()
	s.static = f
	s.mu.Unlock()
}
