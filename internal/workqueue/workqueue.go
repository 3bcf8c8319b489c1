// Package workqueue implements the bulk-ingest work queue: a
// cluster-shared FIFO of pending bookIds, fed to a bounded worker pool per
// node, with shared benchmark stats and per-node progress counters.
//
// The FIFO is the bus's Kafka client (package bus) on a dedicated topic,
// reusing the at-least-once consumer shape package indexing already
// exercises rather than introducing a second queueing primitive for the
// same durable-pending-work problem. Status reports this node's own
// progress plus the run-wide stats; a cluster-wide view is the sum of each
// node's Status, left to the admin surface.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookcluster/internal/bus"
)

// Topic is the Kafka topic backing the bulk-ingest FIFO.
const Topic = "bulk.ingest"

// Status is the lifecycle state of a benchmark run.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Stats is the run-level state of one benchmark.
type Stats struct {
	BenchmarkID string
	StartTime   time.Time
	EndTime     time.Time
	TotalBooks  int
	Status      Status
}

// Progress is one node's processed/error counters for the current run.
type Progress struct {
	Processed int64
	Errors    int64
}

// busClient is the narrow slice of *bus.Bus the queue needs, declared
// locally (as indexing.BodyReader/Indexer do for their own dependencies)
// so a fake can stand in for the Kafka-backed bus in tests.
type busClient interface {
	Publish(ctx context.Context, topic string, msg any, idempotencyKey string, bookID int64, sourceNodeID string) error
	Subscribe(ctx context.Context, topic string, handler bus.Handler) error
}

// Fetcher retrieves a book's raw bytes given its id. Satisfied by a
// source.DocumentSource adapter.
type Fetcher interface {
	Fetch(ctx context.Context, bookID int64) ([]byte, error)
}

// Ingester applies raw bytes to the local datalake partition, returning an
// error only on genuine I/O failure (datalake.IngestResult's "available"/
// "downloaded" distinction doesn't matter to the work queue — either is a
// success). Satisfied by a thin adapter over *datalake.Partition.
type Ingester interface {
	Ingest(bookID int64, raw []byte) error
}

// bookMessagePayload is the bulk.ingest message body: just a bookId.
type bookMessagePayload struct {
	BookID int64 `json:"bookId"`
}

// Queue is the bulk-ingest work queue bound to one node's bus connection,
// fetcher, and ingester.
type Queue struct {
	nodeID  string
	busConn busClient
	fetch   Fetcher
	ingest  Ingester

	mu       sync.Mutex
	stats    Stats
	progress map[string]*Progress // nodeID -> counters, this run

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Queue for this node. busConn is typically *bus.Bus.
func New(nodeID string, busConn busClient, fetch Fetcher, ingest Ingester) *Queue {
	return &Queue{
		nodeID:   nodeID,
		busConn:  busConn,
		fetch:    fetch,
		ingest:   ingest,
		progress: make(map[string]*Progress),
	}
}

// Start clears prior run state and publishes n sequential bookIds (1..n)
// onto the FIFO. Runs over a curated known-valid id list instead go
// through StartWithIDs with a pre-resolved slice (the DocumentSource's
// catalog is the natural supplier).
func (q *Queue) Start(ctx context.Context, n int) error {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return q.StartWithIDs(ctx, ids)
}

// StartWithIDs clears prior run state and publishes the given bookIds.
func (q *Queue) StartWithIDs(ctx context.Context, ids []int64) error {
	q.mu.Lock()
	q.stats = Stats{
		BenchmarkID: uuid.NewString(),
		StartTime:   time.Now(),
		TotalBooks:  len(ids),
		Status:      StatusRunning,
	}
	q.progress = make(map[string]*Progress)
	q.mu.Unlock()

	for _, id := range ids {
		payload := bookMessagePayload{BookID: id}
		if err := q.busConn.Publish(ctx, Topic, payload, "", id, q.nodeID); err != nil {
			return fmt.Errorf("workqueue: enqueue book %d: %w", id, err)
		}
	}
	return nil
}

// StartWorkers spawns poolSize goroutines draining the FIFO. Each worker
// loops: block until the pump hands it a bookId or StopWorkers is called
// (there is no per-receive timeout), fetch the book's bytes, ingest
// locally, and bump this node's processed/error counter. The worker whose
// completion brings the processed+errored total up to TotalBooks marks the
// benchmark completed — a Kafka topic can't be observed "drained" the way
// a channel can, so completion is counted, not observed.
func (q *Queue) StartWorkers(ctx context.Context, poolSize int) {
	q.stopCh = make(chan struct{})
	jobs := make(chan int64)

	q.wg.Add(1)
	go q.pump(ctx, jobs)

	for i := 0; i < poolSize; i++ {
		q.wg.Add(1)
		go q.worker(ctx, jobs)
	}
}

// pump runs the bus consumer loop and fans individual bookIds out to the
// worker pool over jobs, respecting StopWorkers' cooperative stop signal.
func (q *Queue) pump(ctx context.Context, jobs chan<- int64) {
	defer q.wg.Done()
	defer close(jobs)

	err := q.busConn.Subscribe(ctx, Topic, func(hctx context.Context, msg bus.Message) error {
		select {
		case <-q.stopCh:
			return fmt.Errorf("workqueue: stopping, leave message for redelivery")
		default:
		}

		var payload bookMessagePayload
		if jsonErr := json.Unmarshal(msg.Payload, &payload); jsonErr != nil {
			return nil // malformed payload: ack and drop, matches bus's no-poison-pill policy
		}

		select {
		case jobs <- payload.BookID:
			return nil
		case <-q.stopCh:
			return fmt.Errorf("workqueue: stopping, leave message for redelivery")
		case <-hctx.Done():
			return hctx.Err()
		}
	})
	if err != nil && ctx.Err() == nil {
		// Subscribe returned for a reason other than our own stop/cancel;
		// nothing further to do here, StopWorkers' caller already observed ctx.
		_ = err
	}
}

func (q *Queue) worker(ctx context.Context, jobs <-chan int64) {
	defer q.wg.Done()

	for {
		select {
		case bookID, ok := <-jobs:
			if !ok {
				return
			}
			q.process(ctx, bookID)
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, bookID int64) {
	raw, err := q.fetch.Fetch(ctx, bookID)
	if err == nil {
		err = q.ingest.Ingest(bookID, raw)
	}

	q.mu.Lock()
	p, ok := q.progress[q.nodeID]
	if !ok {
		p = &Progress{}
		q.progress[q.nodeID] = p
	}
	if err != nil {
		p.Errors++
	} else {
		p.Processed++
	}
	var total int64
	for _, prog := range q.progress {
		total += prog.Processed + prog.Errors
	}
	complete := q.stats.Status == StatusRunning && q.stats.TotalBooks > 0 && total >= int64(q.stats.TotalBooks)
	if complete {
		q.stats.Status = StatusCompleted
		q.stats.EndTime = time.Now()
	}
	q.mu.Unlock()
}

// StopWorkers signals every worker to stop and waits up to 30s for them to
// drain in-flight work before returning.
func (q *Queue) StopWorkers(ctx context.Context) error {
	if q.stopCh == nil {
		return nil
	}
	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	drain, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	select {
	case <-done:
		return nil
	case <-drain.Done():
		return fmt.Errorf("workqueue: stop timed out waiting for workers to drain")
	}
}

// StatusSnapshot is the aggregated view Status returns.
type StatusSnapshot struct {
	Stats           Stats
	Progress        map[string]Progress
	TotalProcessed  int64
	TotalErrors     int64
	ThroughputPerSec float64 // totalProcessed * 1000 / elapsedMs
}

// Status reports the current run's stats and per-node progress, with
// throughput computed against elapsed wall time (EndTime if completed,
// otherwise now).
func (q *Queue) Status() StatusSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := StatusSnapshot{
		Stats:    q.stats,
		Progress: make(map[string]Progress, len(q.progress)),
	}
	for node, p := range q.progress {
		out.Progress[node] = *p
		out.TotalProcessed += p.Processed
		out.TotalErrors += p.Errors
	}

	if q.stats.StartTime.IsZero() {
		return out
	}
	end := q.stats.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	elapsedMs := end.Sub(q.stats.StartTime).Milliseconds()
	if elapsedMs > 0 {
		out.ThroughputPerSec = float64(out.TotalProcessed) * 1000 / float64(elapsedMs)
	}
	return out
}
