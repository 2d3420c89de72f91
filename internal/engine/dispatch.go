// Package engine implements the conversation orchestration state machine.
//
// This file provides the per-sender serialization layer. Events are sharded
// onto a fixed set of workers by a hash of the canonical sender id: one
// worker drains its queue sequentially, so two events for the same sender
// can never interleave, while different senders proceed in parallel.
package engine

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// DefaultWorkerCount is the default number of dispatcher shards.
const DefaultWorkerCount = 16

// DefaultQueueDepth is the per-shard event queue depth.
const DefaultQueueDepth = 64

// Dispatcher routes inbound events to the engine with per-sender ordering.
type Dispatcher struct {
	engine *Engine
	queues []chan models.InboundEvent
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given number of worker shards.
// workers <= 0 selects the default.
func NewDispatcher(engine *Engine, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	queues := make([]chan models.InboundEvent, workers)
	for i := range queues {
		queues[i] = make(chan models.InboundEvent, DefaultQueueDepth)
	}
	return &Dispatcher{engine: engine, queues: queues}
}

// shardFor maps a sender to its worker shard.
func (d *Dispatcher) shardFor(senderID string) int {
	h := fnv.New32a()
	h.Write([]byte(models.CanonicalSenderID(senderID)))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Run consumes events until the source channel closes or the context is
// cancelled, then drains the shard queues and returns. Each shard worker
// applies its events strictly in arrival order.
func (d *Dispatcher) Run(ctx context.Context, events <-chan models.InboundEvent) {
	slog.Info("Dispatcher starting", "workers", len(d.queues))
	for i, queue := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, i, queue)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping due to context cancellation")
			d.drain()
			return
		case evt, ok := <-events:
			if !ok {
				slog.Info("Dispatcher event source closed")
				d.drain()
				return
			}
			shard := d.shardFor(evt.SenderID)
			select {
			case d.queues[shard] <- evt:
			case <-ctx.Done():
				slog.Warn("Dispatcher dropping event during shutdown", "sender", evt.SenderID)
				d.drain()
				return
			}
		}
	}
}

// drain closes all shard queues and waits for in-flight turns to finish.
func (d *Dispatcher) drain() {
	for _, queue := range d.queues {
		close(queue)
	}
	d.wg.Wait()
	slog.Info("Dispatcher drained")
}

// work is one shard worker: a single goroutine applying its senders' events
// sequentially.
func (d *Dispatcher) work(ctx context.Context, shard int, queue <-chan models.InboundEvent) {
	defer d.wg.Done()
	for evt := range queue {
		// Turns use an independent context so an engine turn in progress
		// survives dispatcher cancellation during drain.
		if err := d.engine.HandleEvent(context.WithoutCancel(ctx), evt); err != nil {
			slog.Error("Dispatcher turn failed", "error", err, "shard", shard, "sender", evt.SenderID, "kind", evt.Kind)
		}
	}
}
