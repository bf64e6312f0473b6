package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// Worker is the single consumer of the ingest queue. All device-table
// writes funnel through it, which gives per-source ordering for free: the
// queue is FIFO and the worker is one goroutine.
type Worker struct {
	queue *Queue
	table *Table
}

// NewWorker constructs the queue consumer.
func NewWorker(queue *Queue, table *Table) *Worker {
	return &Worker{queue: queue, table: table}
}

// Run drains the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Msg("scanner worker started")
	for {
		msg, ok := w.queue.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		switch msg.Kind {
		case MsgSweep:
			w.table.Sweep()
		case MsgFrame:
			w.handle(msg.Ingest)
		}
	}
}

func (w *Worker) handle(in Ingest) {
	switch in.Parsed.Kind {
	case prospector.KindLegacy:
		w.table.UpdateFrame(in.Addr, in.Parsed.Legacy, in.RSSI)
		if in.Parsed.Name != "" {
			w.table.UpdateName(in.Addr, in.Parsed.Name)
		}
	case prospector.KindName:
		w.table.UpdateName(in.Addr, in.Parsed.Name)
	case prospector.KindDynamic:
		w.table.ApplyDynamic(in.Addr, in.Parsed.Dynamic)
	case prospector.KindStatic:
		w.table.ApplyStatic(in.Addr, in.Parsed.Static)
	}
}

// Monitor is the liveness work item: it reschedules itself at half the
// timeout and asks the worker to sweep, so entry deactivation happens on
// the worker, never in a timer context.
type Monitor struct {
	queue    *Queue
	interval time.Duration
}

// NewMonitor constructs the sweep scheduler. A zero timeout disables it.
func NewMonitor(queue *Queue, timeout time.Duration) *Monitor {
	var interval time.Duration
	if timeout > 0 {
		interval = timeout / 2
	}
	return &Monitor{queue: queue, interval: interval}
}

// Run enqueues sweep requests until the context is cancelled. With the
// sweep disabled it just waits for cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.queue.Push(Message{Kind: MsgSweep})
		}
	}
}
