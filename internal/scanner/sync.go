package scanner

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// SyncState is the periodic-advertising subscription state for the selected
// device.
type SyncState int

const (
	// SyncNone: no device selected, or the selected device is legacy-only.
	SyncNone SyncState = iota
	// SyncSyncing: a periodic-sync attempt is in flight.
	SyncSyncing
	// SyncSynced: periodic payloads are flowing.
	SyncSynced
	// SyncFallback: sync attempts are exhausted; the device is still
	// tracked via legacy advertisements. Cosmetic only.
	SyncFallback
)

func (s SyncState) String() string {
	switch s {
	case SyncNone:
		return "none"
	case SyncSyncing:
		return "syncing"
	case SyncSynced:
		return "synced"
	case SyncFallback:
		return "fallback"
	default:
		return "invalid"
	}
}

// PeriodicSync is a live periodic-advertising subscription handle.
type PeriodicSync interface {
	Cancel()
}

// SyncCallbacks receive subscription lifecycle events and periodic payloads
// from the radio stack.
type SyncCallbacks struct {
	OnSynced     func()
	OnTerminated func()
	OnData       func(payload []byte)
}

// PeriodicSyncer is the radio capability the sync controller consumes.
type PeriodicSyncer interface {
	CreatePeriodicSync(addr prospector.Addr, sid uint8, skip uint16, timeout time.Duration, cb SyncCallbacks) (PeriodicSync, error)
}

// SyncParams bound the retry behaviour of the controller.
type SyncParams struct {
	SyncTimeout time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
}

// DefaultSyncParams are the production values.
var DefaultSyncParams = SyncParams{
	SyncTimeout: 10 * time.Second,
	RetryDelay:  3 * time.Second,
	MaxRetries:  1,
}

// SyncController drives the four-state periodic-sync machine for the
// currently-selected device. Every transition bumps a generation counter;
// radio callbacks and timers carry the generation they were armed under and
// are ignored once stale, so only the most recent event in a retry window
// is honored and reselecting cancels the old sync cleanly.
type SyncController struct {
	mu     sync.Mutex
	params SyncParams
	radio  PeriodicSyncer
	table  *Table

	state   SyncState
	gen     uint64
	retries int

	target prospector.Addr
	sid    uint8

	handle PeriodicSync
	timer  *time.Timer
}

// NewSyncController constructs a controller in SyncNone. radio may be nil
// when the stack cannot sync at all; selection of a periodic-capable device
// then lands in SyncFallback after the usual retries.
func NewSyncController(radio PeriodicSyncer, table *Table, params SyncParams) *SyncController {
	return &SyncController{params: params, radio: radio, table: table, state: SyncNone}
}

// State returns the current sync state.
func (c *SyncController) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectTarget reacts to the user focusing a device. Any in-flight sync is
// cancelled first; a periodic-capable target then starts a fresh attempt,
// while a legacy-only target leaves the controller in SyncNone.
func (c *SyncController) SelectTarget(addr prospector.Addr, hasPeriodic bool, sid uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()

	if !hasPeriodic {
		c.state = SyncNone
		return
	}

	c.target = addr
	c.sid = sid
	c.retries = 0
	c.state = SyncSyncing
	c.attemptLocked()
}

// Deselect drops any in-flight or established sync.
func (c *SyncController) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.state = SyncNone
}

// cancelLocked invalidates outstanding callbacks and releases the radio
// handle and timer.
func (c *SyncController) cancelLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}
}

// attemptLocked starts one sync attempt and arms the sync timeout.
func (c *SyncController) attemptLocked() {
	gen := c.gen

	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}

	if c.radio != nil {
		h, err := c.radio.CreatePeriodicSync(c.target, c.sid, 0, c.params.SyncTimeout, SyncCallbacks{
			OnSynced:     func() { c.onSynced(gen) },
			OnTerminated: func() { c.onTerminated(gen) },
			OnData:       func(p []byte) { c.onData(gen, p) },
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", c.target.String()).Msg("periodic sync create failed")
		} else {
			c.handle = h
		}
	}

	c.armTimerLocked(c.params.SyncTimeout)
}

// armTimerLocked schedules the failure path after d.
func (c *SyncController) armTimerLocked(d time.Duration) {
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() { c.onTimeout(gen) })
}

func (c *SyncController) onSynced(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != SyncSyncing {
		return
	}
	// The generation stays put: the live handle's term and data callbacks
	// remain valid while synced.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.retries = 0
	c.state = SyncSynced
	log.Info().Str("addr", c.target.String()).Msg("periodic sync established")
}

func (c *SyncController) onTerminated(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	switch c.state {
	case SyncSyncing:
		c.failLocked()
	case SyncSynced:
		// One immediate retry, then fallback.
		c.gen++
		c.retries = c.params.MaxRetries
		c.state = SyncSyncing
		c.attemptLocked()
		c.armTimerLocked(c.params.RetryDelay)
		log.Info().Str("addr", c.target.String()).Msg("periodic sync lost, retrying")
	}
}

func (c *SyncController) onTimeout(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != SyncSyncing {
		return
	}
	c.failLocked()
}

// failLocked is the shared failure path while SYNCING: bounded retry, then
// fallback to legacy tracking.
func (c *SyncController) failLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}

	if c.retries < c.params.MaxRetries {
		c.retries++
		gen := c.gen
		c.timer = time.AfterFunc(c.params.RetryDelay, func() { c.onRetry(gen) })
		return
	}

	c.state = SyncFallback
	log.Info().Str("addr", c.target.String()).Msg("periodic sync exhausted, legacy fallback")
}

func (c *SyncController) onRetry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != SyncSyncing {
		return
	}
	c.attemptLocked()
}

func (c *SyncController) onData(gen uint64, payload []byte) {
	c.mu.Lock()
	if gen != c.gen || c.state != SyncSynced || c.table == nil {
		c.mu.Unlock()
		return
	}
	addr := c.target
	c.mu.Unlock()

	p := prospector.ParseAdvertisement(payload, prospector.ChannelLegacyAll, nil)
	switch p.Kind {
	case prospector.KindDynamic:
		c.table.ApplyDynamic(addr, p.Dynamic)
	case prospector.KindStatic:
		c.table.ApplyStatic(addr, p.Static)
	default:
		// Raw periodic payloads may omit the TLV wrapper.
		if d, err := prospector.ParseDynamic(payload); err == nil {
			c.table.ApplyDynamic(addr, d)
		} else if s, err := prospector.ParseStatic(payload); err == nil {
			c.table.ApplyStatic(addr, s)
		}
	}
}
