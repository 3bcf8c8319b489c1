package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"bookcluster/internal/bookerr"
	"bookcluster/internal/bus"
)

type fakeReader struct {
	bodies map[string][]byte
}

func (f *fakeReader) ReadBody(relPath string) ([]byte, error) {
	b, ok := f.bodies[relPath]
	if !ok {
		return nil, bookerr.ErrNotFound
	}
	return b, nil
}

type fakeIndexer struct {
	calls []map[string][]int
	err   error
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, bookID int64, idempotencyKey string, terms map[string][]int) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, terms)
	return nil
}

func envelope(t *testing.T, req bus.IndexRequestPayload, key string, bookID int64) bus.Message {
	t.Helper()
	p, err := json.Marshal(req)
	require.NoError(t, err)
	return bus.Message{IdempotencyKey: key, BookID: bookID, Payload: p}
}

func TestHandleIndexRequestTokenizesAndIndexes(t *testing.T) {
	reader := &fakeReader{bodies: map[string][]byte{"2024/01/1": []byte("whale whale sea")}}
	indexer := &fakeIndexer{}
	e := NewEngine(reader, indexer)

	msg := envelope(t, bus.IndexRequestPayload{BookID: 1, RelativePath: "2024/01/1", ContentHash: "abc"}, "1:abc", 1)
	require.NoError(t, e.HandleIndexRequest(context.Background(), msg))

	require.Len(t, indexer.calls, 1)
	require.Equal(t, []int{0, 1}, indexer.calls[0]["whale"])
	require.Equal(t, []int{2}, indexer.calls[0]["sea"])
}

func TestHandleIndexRequestMissingBodyAcksWithoutRetry(t *testing.T) {
	reader := &fakeReader{bodies: map[string][]byte{}}
	indexer := &fakeIndexer{}
	e := NewEngine(reader, indexer)

	msg := envelope(t, bus.IndexRequestPayload{BookID: 1, RelativePath: "missing", ContentHash: "abc"}, "1:abc", 1)
	require.NoError(t, e.HandleIndexRequest(context.Background(), msg))
	require.Empty(t, indexer.calls)
	require.Equal(t, int64(1), e.ErrorCount())
}

func TestHandleIndexRequestMalformedPayloadAcksWithoutRetry(t *testing.T) {
	e := NewEngine(&fakeReader{}, &fakeIndexer{})
	msg := bus.Message{IdempotencyKey: "1:x", BookID: 1, Payload: []byte("not json")}
	require.NoError(t, e.HandleIndexRequest(context.Background(), msg))
	require.Equal(t, int64(1), e.ErrorCount())
}

func TestHandleIndexRequestIndexerFailureIsRetryable(t *testing.T) {
	reader := &fakeReader{bodies: map[string][]byte{"p": []byte("whale")}}
	indexer := &fakeIndexer{err: errors.New("index rebalance in progress")}
	e := NewEngine(reader, indexer)

	msg := envelope(t, bus.IndexRequestPayload{BookID: 1, RelativePath: "p", ContentHash: "abc"}, "1:abc", 1)
	err := e.HandleIndexRequest(context.Background(), msg)
	require.Error(t, err)
	require.True(t, bookerr.Retryable(err))
}
