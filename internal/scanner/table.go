// Package scanner implements the display-unit ingest engine: the device
// table, the radio-to-worker handoff queue, the liveness sweep, the
// periodic-sync controller and the listener fan-out.
package scanner

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// Lock acquisition bounds. A missed deadline drops the operation; the next
// advertisement retries it.
const (
	lockWaitWorker = 50 * time.Millisecond
	lockWaitUI     = 5 * time.Millisecond
)

// NoSelection is the selected-index value meaning no device is focused.
const NoSelection = -1

// Table is the fixed-capacity associative store of per-source state, keyed
// by radio address. The scanner worker is the sole writer; readers consume
// a lock-free published snapshot so the UI can never deadlock against the
// worker.
type Table struct {
	sem     chan struct{}
	entries []Entry

	selected atomic.Int32
	snapshot atomic.Value // []Entry

	timeout time.Duration
	now     func() time.Time

	sids *SIDCache
	bus  *EventBus

	nudge atomic.Bool
	// nudgeFn is the optional high-priority UI trigger. Injected at
	// construction; absent means the nudge flag alone is used. Must be
	// lock-free: it runs on the ingest path.
	nudgeFn func()

	slotWarned map[prospector.Addr]struct{}
	lockMisses atomic.Uint64
}

// NewTable constructs a table with capacity slots. A zero timeout disables
// the liveness sweep. nudgeFn may be nil.
func NewTable(capacity int, timeout time.Duration, sids *SIDCache, bus *EventBus, nudgeFn func()) *Table {
	t := &Table{
		sem:        make(chan struct{}, 1),
		entries:    make([]Entry, capacity),
		timeout:    timeout,
		now:        time.Now,
		sids:       sids,
		bus:        bus,
		nudgeFn:    nudgeFn,
		slotWarned: make(map[prospector.Addr]struct{}),
	}
	t.selected.Store(NoSelection)
	t.publish()
	return t
}

// lock acquires the table mutex within wait. It reports false on miss.
func (t *Table) lock(wait time.Duration) bool {
	select {
	case t.sem <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case t.sem <- struct{}{}:
		return true
	case <-timer.C:
		t.lockMisses.Add(1)
		return false
	}
}

func (t *Table) unlock() {
	t.publish()
	<-t.sem
}

// publish refreshes the lock-free read snapshot. Called with the mutex held
// (or during construction, before the table is shared).
func (t *Table) publish() {
	snap := make([]Entry, len(t.entries))
	copy(snap, t.entries)
	t.snapshot.Store(snap)
}

func (t *Table) view() []Entry {
	return t.snapshot.Load().([]Entry)
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int { return len(t.entries) }

// findLocked resolves an address to a slot index using the lookup keys in
// priority order: radio address, then keyboard_id+role for broadcasters
// that rotate addresses, then the first empty slot for insertion. isNew is
// true when an empty slot was allocated; idx is -1 when the table is full.
func (t *Table) findLocked(addr prospector.Addr, frame *prospector.LegacyFrame) (idx int, isNew bool) {
	for i := range t.entries {
		if t.entries[i].Active && t.entries[i].Addr == addr {
			return i, false
		}
	}
	if frame != nil && frame.KeyboardID != 0 {
		for i := range t.entries {
			if t.entries[i].Active &&
				t.entries[i].LastFrame.KeyboardID == frame.KeyboardID &&
				t.entries[i].LastFrame.Role == frame.Role {
				return i, false
			}
		}
	}
	// Inactive slot for the same address keeps its learned name.
	for i := range t.entries {
		if !t.entries[i].Active && t.entries[i].Addr == addr {
			return i, true
		}
	}
	for i := range t.entries {
		if !t.entries[i].Active && t.entries[i].Addr.IsZero() {
			return i, true
		}
	}
	for i := range t.entries {
		if !t.entries[i].Active {
			return i, true
		}
	}
	return -1, false
}

// UpdateFrame ingests one valid legacy frame. It implements the update
// operation of the device table: slot resolution, high-priority change
// detection, snapshot overwrite, periodic metadata reconciliation and the
// name placeholder rule.
func (t *Table) UpdateFrame(addr prospector.Addr, frame *prospector.LegacyFrame, rssi int8) {
	if !t.lock(lockWaitWorker) {
		log.Debug().Str("addr", addr.String()).Msg("device table contended, frame dropped")
		return
	}

	idx, isNew := t.findLocked(addr, frame)
	if idx < 0 {
		t.unlock()
		t.warnNoSlot(addr)
		return
	}

	e := &t.entries[idx]

	highPriority := isNew ||
		e.LastFrame.ActiveLayer != frame.ActiveLayer ||
		e.LastFrame.Modifiers != frame.Modifiers ||
		e.LastFrame.ActiveProfile != frame.ActiveProfile

	if isNew {
		prev := *e
		*e = Entry{}
		// Keep a name learned before the slot went inactive.
		if prev.Addr == addr {
			e.DisplayName = prev.DisplayName
		}
	}

	hadPeriodic := e.HasPeriodic
	wasActive := e.Active

	e.Active = true
	e.Addr = addr
	e.LastFrame = *frame
	e.RSSI = rssi
	e.LastSeen = t.now()
	e.HasPeriodic = frame.HasPeriodic()

	if !isNew && hadPeriodic != e.HasPeriodic {
		log.Info().
			Str("addr", addr.String()).
			Bool("has_periodic", e.HasPeriodic).
			Msg("periodic advertising support changed")
	}

	if sid, ok := t.sids.Get(addr); ok && (!e.HasSID || e.SID != sid) {
		e.SID = sid
		e.HasSID = true
	}

	e.setName("")

	snap := *e
	t.unlock()

	if highPriority {
		t.triggerNudge()
	}

	if isNew || !wasActive {
		t.bus.Publish(Event{Type: EventFound, Index: idx, Entry: snap})
	} else {
		t.bus.Publish(Event{Type: EventUpdated, Index: idx, Entry: snap})
	}
}

// UpdateName applies a scan-response name to the entry for addr. Names obey
// the monotonicity rule and never create entries on their own.
func (t *Table) UpdateName(addr prospector.Addr, name string) {
	if !t.lock(lockWaitWorker) {
		log.Debug().Str("addr", addr.String()).Msg("device table contended, name dropped")
		return
	}

	idx := -1
	for i := range t.entries {
		if t.entries[i].Active && t.entries[i].Addr == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.unlock()
		return
	}

	changed := t.entries[idx].setName(name)
	snap := t.entries[idx]
	t.unlock()

	if changed {
		t.bus.Publish(Event{Type: EventUpdated, Index: idx, Entry: snap})
	}
}

// ApplyDynamic folds a periodic dynamic payload into the entry for addr and
// refreshes its liveness, with the same high-priority conditions as legacy
// ingest. Used by the sync data path while SYNCED.
func (t *Table) ApplyDynamic(addr prospector.Addr, f *prospector.DynamicFrame) {
	if !t.lock(lockWaitWorker) {
		log.Debug().Str("addr", addr.String()).Msg("device table contended, dynamic dropped")
		return
	}

	idx := -1
	for i := range t.entries {
		if t.entries[i].Active && t.entries[i].Addr == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.unlock()
		return
	}

	e := &t.entries[idx]
	highPriority := e.LastFrame.ActiveLayer != f.ActiveLayer ||
		e.LastFrame.Modifiers != f.Modifiers ||
		e.LastFrame.ActiveProfile != f.Profile

	f.ApplyToLegacy(&e.LastFrame)
	e.LastSeen = t.now()

	snap := *e
	t.unlock()

	if highPriority {
		t.triggerNudge()
	}
	t.bus.Publish(Event{Type: EventUpdated, Index: idx, Entry: snap})
}

// ApplyStatic records the slow-changing fields of a periodic static payload:
// today that is the full keyboard name plus a liveness refresh.
func (t *Table) ApplyStatic(addr prospector.Addr, f *prospector.StaticFrame) {
	if !t.lock(lockWaitWorker) {
		return
	}

	idx := -1
	for i := range t.entries {
		if t.entries[i].Active && t.entries[i].Addr == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.unlock()
		return
	}

	e := &t.entries[idx]
	changed := e.setName(f.Name)
	e.LastSeen = t.now()
	snap := *e
	t.unlock()

	if changed {
		t.bus.Publish(Event{Type: EventUpdated, Index: idx, Entry: snap})
	}
}

// Sweep deactivates every entry not seen within the timeout. It runs on the
// worker, never from a timer context, so listener callbacks cannot re-enter
// the timer. A zero timeout disables aging entirely.
func (t *Table) Sweep() {
	if t.timeout == 0 {
		return
	}
	if !t.lock(lockWaitWorker) {
		return
	}

	var lost []Event
	deadline := t.now().Add(-t.timeout)
	for i := range t.entries {
		e := &t.entries[i]
		if e.Active && e.LastSeen.Before(deadline) {
			e.Active = false
			lost = append(lost, Event{Type: EventLost, Index: i, Entry: *e})
			log.Debug().
				Str("addr", e.Addr.String()).
				Str("name", e.DisplayName).
				Msg("keyboard timed out")
		}
	}
	if len(lost) > 0 {
		t.fixSelectionLocked()
	}
	t.unlock()

	for _, ev := range lost {
		t.bus.Publish(ev)
	}
}

// Reset deactivates every entry and clears the selection.
func (t *Table) Reset() {
	if !t.lock(lockWaitWorker) {
		return
	}
	for i := range t.entries {
		t.entries[i] = Entry{}
	}
	t.selected.Store(NoSelection)
	t.unlock()
}

// fixSelectionLocked restores the selection invariant: a selection always
// points at an active entry, advancing to the first active one or clearing.
func (t *Table) fixSelectionLocked() {
	sel := int(t.selected.Load())
	if sel == NoSelection {
		return
	}
	if sel >= 0 && sel < len(t.entries) && t.entries[sel].Active {
		return
	}
	for i := range t.entries {
		if t.entries[i].Active {
			t.selected.Store(int32(i))
			return
		}
	}
	t.selected.Store(NoSelection)
}

func (t *Table) warnNoSlot(addr prospector.Addr) {
	if !t.lock(lockWaitWorker) {
		return
	}
	_, seen := t.slotWarned[addr]
	if !seen {
		t.slotWarned[addr] = struct{}{}
	}
	t.unlock()
	if !seen {
		log.Warn().
			Str("addr", addr.String()).
			Int("capacity", len(t.entries)).
			Msg("device table full, advertisement dropped")
	}
}

func (t *Table) triggerNudge() {
	t.nudge.Store(true)
	if t.nudgeFn != nil {
		t.nudgeFn()
	}
}

// TakeNudge reads and clears the high-priority refresh flag. The UI polls
// this once per cycle; bursts coalesce into a single observation.
func (t *Table) TakeNudge() bool {
	return t.nudge.Swap(false)
}

// Entry returns a snapshot of the slot at index, or false when the index is
// out of range. Lock-free.
func (t *Table) Entry(index int) (Entry, bool) {
	snap := t.view()
	if index < 0 || index >= len(snap) {
		return Entry{}, false
	}
	return snap[index], true
}

// EntryByAddress returns the active entry for addr. Lock-free.
func (t *Table) EntryByAddress(addr prospector.Addr) (Entry, int, bool) {
	snap := t.view()
	for i := range snap {
		if snap[i].Active && snap[i].Addr == addr {
			return snap[i], i, true
		}
	}
	return Entry{}, NoSelection, false
}

// ActiveCount returns the number of live entries. Lock-free.
func (t *Table) ActiveCount() int {
	n := 0
	for _, e := range t.view() {
		if e.Active {
			n++
		}
	}
	return n
}

// PrimaryIndex returns the active entry with the most recent LastSeen, or
// NoSelection when the table is empty.
func (t *Table) PrimaryIndex() int {
	snap := t.view()
	best := NoSelection
	for i := range snap {
		if !snap[i].Active {
			continue
		}
		if best == NoSelection || snap[i].LastSeen.After(snap[best].LastSeen) {
			best = i
		}
	}
	return best
}

// SelectedIndex returns the focused entry index, or NoSelection.
func (t *Table) SelectedIndex() int { return int(t.selected.Load()) }

// Select focuses the entry at index. The target must be active; passing
// NoSelection clears the focus. Called from the UI thread with the short
// lock bound.
func (t *Table) Select(index int) error {
	if index == NoSelection {
		t.selected.Store(NoSelection)
		return nil
	}
	if !t.lock(lockWaitUI) {
		return fmt.Errorf("device table busy")
	}
	defer t.unlock()

	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("index %d out of range", index)
	}
	if !t.entries[index].Active {
		return fmt.Errorf("entry %d is not active", index)
	}
	t.selected.Store(int32(index))
	return nil
}

// LockMisses reports how many operations were dropped to lock contention.
func (t *Table) LockMisses() uint64 { return t.lockMisses.Load() }
