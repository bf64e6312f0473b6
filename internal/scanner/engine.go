package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// Engine owns the scanner-side singletons: device table, ingest queue, SID
// cache, sync controller and event bus. It is constructed once at startup
// and handed to the radio driver and the API layer; nothing reaches these
// through package globals.
type Engine struct {
	cfg config.ScannerConfig

	bus     *EventBus
	sids    *SIDCache
	table   *Table
	queue   *Queue
	recv    *Receiver
	worker  *Worker
	monitor *Monitor
	sync    *SyncController
}

// New assembles an engine from configuration. syncer may be nil when the
// radio stack cannot create periodic syncs; nudgeFn is the optional
// high-priority UI trigger and may also be nil.
func New(cfg config.ScannerConfig, syncer PeriodicSyncer, nudgeFn func()) *Engine {
	e := &Engine{cfg: cfg}
	e.bus = NewEventBus()
	e.sids = NewSIDCache()
	e.table = NewTable(cfg.MaxKeyboards, cfg.Timeout(), e.sids, e.bus, nudgeFn)
	e.queue = NewQueue()
	e.recv = NewReceiver(e.queue, e.sids, uint8(cfg.Channel), cfg.NameFixups)
	e.worker = NewWorker(e.queue, e.table)
	e.monitor = NewMonitor(e.queue, cfg.Timeout())
	e.sync = NewSyncController(syncer, e.table, DefaultSyncParams)
	return e
}

// Receiver returns the handler the radio driver feeds.
func (e *Engine) Receiver() *Receiver { return e.recv }

// Run starts the worker and the liveness monitor and blocks until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.monitor.Run(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// Entry returns a snapshot of the slot at index.
func (e *Engine) Entry(index int) (Entry, bool) { return e.table.Entry(index) }

// EntryByAddress returns the active entry for addr.
func (e *Engine) EntryByAddress(addr prospector.Addr) (Entry, int, bool) {
	return e.table.EntryByAddress(addr)
}

// ActiveCount returns the number of live entries.
func (e *Engine) ActiveCount() int { return e.table.ActiveCount() }

// PrimaryIndex returns the most recently seen active entry.
func (e *Engine) PrimaryIndex() int { return e.table.PrimaryIndex() }

// SelectedIndex returns the focused entry index, or NoSelection.
func (e *Engine) SelectedIndex() int { return e.table.SelectedIndex() }

// Select focuses the entry at index and drives the sync controller: a
// periodic-capable target starts a sync attempt when periodic sync is
// enabled, anything else lands in SyncNone.
func (e *Engine) Select(index int) error {
	if index == NoSelection {
		if err := e.table.Select(index); err != nil {
			return err
		}
		e.sync.Deselect()
		return nil
	}

	if err := e.table.Select(index); err != nil {
		return err
	}
	entry, ok := e.table.Entry(index)
	if !ok {
		return fmt.Errorf("entry %d vanished", index)
	}

	if e.cfg.PeriodicSync && entry.HasPeriodic {
		e.sync.SelectTarget(entry.Addr, true, entry.SID)
	} else {
		e.sync.SelectTarget(entry.Addr, false, 0)
	}
	return nil
}

// SyncState returns the periodic-sync state for the focused device.
func (e *Engine) SyncState() SyncState { return e.sync.State() }

// Subscribe registers a table-event listener.
func (e *Engine) Subscribe() (<-chan Event, func()) { return e.bus.Subscribe() }

// TakeNudge reads and clears the high-priority refresh flag.
func (e *Engine) TakeNudge() bool { return e.table.TakeNudge() }

// Capacity returns the table slot count.
func (e *Engine) Capacity() int { return e.table.Capacity() }

// QueueDropped reports messages lost to ingest-queue overflow.
func (e *Engine) QueueDropped() uint64 { return e.queue.Dropped() }

// Reset deactivates every entry and clears the selection.
func (e *Engine) Reset() {
	e.table.Reset()
	e.sync.Deselect()
}
