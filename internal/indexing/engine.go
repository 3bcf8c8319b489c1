// Package indexing is the indexing engine: it consumes index.request
// messages, reads the already-ingested body from the local datalake,
// tokenizes it, and writes the resulting postings into the distributed
// index, deduplicating redelivered requests via the index's own
// isProcessed/markProcessed map.
package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"bookcluster/internal/bookerr"
	"bookcluster/internal/bus"
	"bookcluster/internal/hashid"
)

// BodyReader loads a book's tokenizable body given its datalake-relative
// path. Satisfied by *datalake.Partition; declared locally so indexing
// doesn't need to depend on datalake's full surface, only this one method.
type BodyReader interface {
	ReadBody(relPath string) ([]byte, error)
}

// Indexer applies a document's term positions to the distributed index.
// Satisfied by *index.Cluster.
type Indexer interface {
	IndexDocument(ctx context.Context, bookID int64, idempotencyKey string, terms map[string][]int) error
}

// Engine wires a BodyReader and an Indexer together behind the bus.Handler
// signature: body read, tokenize, then Indexer.IndexDocument, which does the
// dedup check and marks the key processed. The body is read before the
// dedup check, so a duplicate whose body is missing counts as an error.
type Engine struct {
	reader    BodyReader
	indexer   Indexer
	stopWords map[string]struct{}
	logger    *slog.Logger

	errorsMu sync.Mutex
	errors   int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithStopWords installs a stop-word filter applied during tokenization.
func WithStopWords(words []string) Option {
	return func(e *Engine) {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		e.stopWords = set
	}
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an indexing Engine.
func NewEngine(reader BodyReader, indexer Indexer, opts ...Option) *Engine {
	e := &Engine{reader: reader, indexer: indexer, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ErrorCount returns the number of index.request messages that were acked
// but could not be processed (missing file, malformed payload), surfaced
// on the stats endpoint rather than silently dropped.
func (e *Engine) ErrorCount() int64 {
	e.errorsMu.Lock()
	defer e.errorsMu.Unlock()
	return e.errors
}

func (e *Engine) recordError() {
	e.errorsMu.Lock()
	e.errors++
	e.errorsMu.Unlock()
}

// HandleIndexRequest is the bus.Handler for index.request. A missing body
// file or malformed payload returns nil — an ack without a poison-pill
// retry, since redelivery would not help; a wrapped bookerr.ErrTransient
// leaves the message uncommitted so the broker redelivers it.
func (e *Engine) HandleIndexRequest(ctx context.Context, msg bus.Message) error {
	var req bus.IndexRequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		e.recordError()
		e.logger.Error("indexing: malformed index.request, acking without processing", "error", err)
		return nil
	}

	if req.BookID == 0 {
		req.BookID = msg.BookID
	}

	body, err := e.reader.ReadBody(req.RelativePath)
	if err != nil {
		if bookerr.Classify(err) == bookerr.KindNotFound {
			e.recordError()
			e.logger.Error("indexing: body missing, acking without processing",
				"bookId", req.BookID, "relPath", req.RelativePath)
			return nil
		}
		return fmt.Errorf("indexing: read body for book %d: %w", req.BookID, bookerr.ErrTransient)
	}

	tokens := Tokenize(body, e.stopWords)
	terms := TermPositions(tokens)

	idempotencyKey := msg.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = hashid.IdempotencyKey(req.BookID, req.ContentHash)
	}

	if err := e.indexer.IndexDocument(ctx, req.BookID, idempotencyKey, terms); err != nil {
		return fmt.Errorf("indexing: index document %d: %w", req.BookID, bookerr.ErrTransient)
	}

	return nil
}
