// Package gateway decouples external event producers from the evaluation
// loop. Intake never blocks the producer: when the queue is full the oldest
// queued event is dropped and counted, trading completeness for liveness.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sentinelstack/guardian/internal/history"
	"github.com/sentinelstack/guardian/internal/metrics"
	"github.com/sentinelstack/guardian/internal/models"
)

type eventKind int

const (
	kindDiagnostic eventKind = iota
	kindActionPlan
)

type envelope struct {
	kind eventKind
	diag models.DiagnosticRecord
	plan models.ActionPlanRecord
}

// Gateway buffers pushed events and drains them into the history store on
// dedicated workers.
type Gateway struct {
	logger  *slog.Logger
	store   *history.Store
	queue   chan envelope
	workers int
	dropped atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a gateway with the given queue capacity and worker count.
func New(logger *slog.Logger, store *history.Store, queueCapacity, workers int) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &Gateway{
		logger:  logger,
		store:   store,
		queue:   make(chan envelope, queueCapacity),
		workers: workers,
	}
}

// OfferDiagnostic enqueues a diagnostic record.
func (g *Gateway) OfferDiagnostic(rec models.DiagnosticRecord) {
	g.enqueue(envelope{kind: kindDiagnostic, diag: rec})
}

// OfferActionPlan enqueues an action-plan record or status update.
func (g *Gateway) OfferActionPlan(rec models.ActionPlanRecord) {
	g.enqueue(envelope{kind: kindActionPlan, plan: rec})
}

// enqueue admits the event, evicting the oldest queued event when full.
func (g *Gateway) enqueue(env envelope) {
	for {
		select {
		case g.queue <- env:
			metrics.SetQueueDepth(len(g.queue))
			return
		default:
		}

		select {
		case <-g.queue:
			g.dropped.Add(1)
			metrics.IncDroppedEvent()
		default:
			// A worker drained the queue between our two selects; retry.
		}
	}
}

// Start launches the drain workers. Idempotent.
func (g *Gateway) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.running = true

	for i := 0; i < g.workers; i++ {
		g.wg.Add(1)
		go g.drain(workerCtx)
	}
	g.logger.Info("ingest gateway started", slog.Int("workers", g.workers), slog.Int("capacity", cap(g.queue)))
}

// Stop halts the drain workers after their current event. Idempotent.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.cancel()
	g.wg.Wait()
	g.running = false
	g.logger.Info("ingest gateway stopped", slog.Int64("dropped_events", g.dropped.Load()))
}

// Dropped reports how many events were discarded due to a full queue.
func (g *Gateway) Dropped() int64 {
	return g.dropped.Load()
}

// Depth reports the current queue length.
func (g *Gateway) Depth() int {
	return len(g.queue)
}

func (g *Gateway) drain(ctx context.Context) {
	defer g.wg.Done()

	for {
		select {
		case env := <-g.queue:
			g.deliver(env)
			metrics.SetQueueDepth(len(g.queue))
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) deliver(env envelope) {
	switch env.kind {
	case kindDiagnostic:
		g.store.IngestDiagnostic(env.diag)
	case kindActionPlan:
		g.store.IngestActionPlan(env.plan)
	}
}
