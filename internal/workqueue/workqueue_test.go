package workqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bookcluster/internal/bus"
)

// fakeBus is an in-process stand-in for *bus.Bus: Publish appends to an
// in-memory slice, Subscribe drains it and calls handler, matching the
// real bus's semantics closely enough to exercise Queue's worker-pool
// logic without a broker.
type fakeBus struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (f *fakeBus) Publish(ctx context.Context, topic string, msg any, idempotencyKey string, bookID int64, sourceNodeID string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, bus.Message{BookID: bookID, Payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, topic string, handler bus.Handler) error {
	for {
		f.mu.Lock()
		if len(f.msgs) == 0 {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
				continue
			}
		}
		msg := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()

		if err := handler(ctx, msg); err != nil {
			return nil
		}
	}
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, bookID int64) ([]byte, error) {
	return []byte("some book body"), nil
}

type countingIngester struct {
	mu    sync.Mutex
	calls []int64
}

func (c *countingIngester) Ingest(bookID int64, raw []byte) error {
	c.mu.Lock()
	c.calls = append(c.calls, bookID)
	c.mu.Unlock()
	return nil
}

func TestStartWithIDsPublishesEachBook(t *testing.T) {
	fb := &fakeBus{}
	q := New("node1", fb, fakeFetcher{}, &countingIngester{})

	require.NoError(t, q.StartWithIDs(context.Background(), []int64{1, 2, 3}))
	require.Len(t, fb.msgs, 3)

	snap := q.Status()
	require.Equal(t, 3, snap.Stats.TotalBooks)
	require.Equal(t, StatusRunning, snap.Stats.Status)
}

func TestWorkersDrainQueueAndMarkCompleted(t *testing.T) {
	fb := &fakeBus{}
	ingester := &countingIngester{}
	q := New("node1", fb, fakeFetcher{}, ingester)

	require.NoError(t, q.StartWithIDs(context.Background(), []int64{1, 2, 3}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q.StartWorkers(ctx, 2)

	require.Eventually(t, func() bool {
		return q.Status().Stats.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, q.StopWorkers(context.Background()))

	ingester.mu.Lock()
	defer ingester.mu.Unlock()
	require.Len(t, ingester.calls, 3)

	snap := q.Status()
	require.Equal(t, int64(3), snap.TotalProcessed)
	require.Equal(t, int64(0), snap.TotalErrors)
}

func TestStatusThroughputComputed(t *testing.T) {
	fb := &fakeBus{}
	ingester := &countingIngester{}
	q := New("node1", fb, fakeFetcher{}, ingester)

	require.NoError(t, q.StartWithIDs(context.Background(), []int64{1}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.StartWorkers(ctx, 1)

	require.Eventually(t, func() bool {
		return q.Status().Stats.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, q.StopWorkers(context.Background()))

	snap := q.Status()
	require.GreaterOrEqual(t, snap.ThroughputPerSec, 0.0)
}
