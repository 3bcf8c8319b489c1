// Package bus is the message-bus client: publish/subscribe over a
// Kafka-compatible broker with manual offset commits so delivery is
// at-least-once and redelivery is a no-op for an idempotent handler.
// Connect retries broker construction with exponential backoff so a node
// can start before its broker does.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"bookcluster/internal/hashid"
)

// Logical topics the book cluster's data plane exchanges events on.
const (
	IndexRequestTopic = "index.request"
	DocIngestedTopic  = "doc.ingested"
)

// Message is one bus message as handed to a Subscribe handler: the
// deserialized payload plus the header properties every message carries
// for dedup and tracing.
type Message struct {
	IdempotencyKey string
	BookID         int64
	SourceNodeID   string
	Payload        json.RawMessage
}

// Bus wraps a kgo.Client with the publish/subscribe shape the indexing
// engine and workqueue need; it never exposes kgo types to callers.
type Bus struct {
	client     *kgo.Client
	logger     *slog.Logger
	nodeID     string
	indexTopic string
}

// Config configures broker connection and reconnect behavior.
type Config struct {
	Brokers      []string
	ConsumeGroup string
	NodeID       string
	Logger       *slog.Logger

	// IndexTopic overrides the topic PublishIndexRequest publishes to;
	// empty selects IndexRequestTopic.
	IndexTopic string

	// MinBackoff/MaxBackoff bound the reconnect delay (defaults 1s/30s,
	// doubling each attempt).
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Connect builds a client, retrying with exponential backoff (capped at
// MaxBackoff) until ctx is canceled or the client is constructed. kgo
// itself handles reconnect to individual broker connections once
// established; this loop covers the case where no broker is reachable yet
// at startup.
func Connect(ctx context.Context, cfg Config) (*Bus, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.IndexTopic == "" {
		cfg.IndexTopic = IndexRequestTopic
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500 * time.Millisecond),
	}
	if cfg.ConsumeGroup != "" {
		opts = append(opts, kgo.ConsumerGroup(cfg.ConsumeGroup))
	}

	backoff := cfg.MinBackoff
	for attempt := 1; ; attempt++ {
		client, err := kgo.NewClient(opts...)
		if err == nil {
			return &Bus{
				client:     client,
				logger:     cfg.Logger.With("component", "bus"),
				nodeID:     cfg.NodeID,
				indexTopic: cfg.IndexTopic,
			}, nil
		}

		cfg.Logger.Warn("bus: broker connect failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bus: connect canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff, cfg.MaxBackoff)
	}
}

// nextBackoff doubles d, capped at max.
func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}

// Close releases the underlying client.
func (b *Bus) Close() {
	b.client.Close()
}

// wireEnvelope is the JSON wrapper every published message carries, giving
// every consumer the idempotency key, book id, and source node without
// relying on Kafka record headers (keeps the wire format broker-agnostic
// and trivially inspectable in tests).
type wireEnvelope struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	BookID         int64           `json:"bookId"`
	SourceNodeID   string          `json:"sourceNodeId"`
	Payload        json.RawMessage `json:"payload"`
}

// Publish marshals msg as the payload and publishes it to topic, tagged
// with the idempotency key, book ID, and source node required to dedupe
// and trace it downstream.
func (b *Bus) Publish(ctx context.Context, topic string, msg any, idempotencyKey string, bookID int64, sourceNodeID string) error {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	env, err := json.Marshal(wireEnvelope{
		IdempotencyKey: idempotencyKey,
		BookID:         bookID,
		SourceNodeID:   sourceNodeID,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	record := &kgo.Record{Topic: topic, Value: env, Key: []byte(idempotencyKey)}
	result := b.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("bus: produce to %s: %w", topic, err)
	}
	return nil
}

// IndexRequestPayload is the payload published on IndexRequestTopic after a
// successful local ingest.
type IndexRequestPayload struct {
	BookID       int64  `json:"bookId"`
	RelativePath string `json:"relPath"`
	ContentHash  string `json:"contentHash"`
}

// PublishIndexRequest satisfies datalake.Publisher: it announces a newly
// ingested book to the indexing pipeline, keyed so redelivery of the same
// (bookId, contentHash) pair is recognized as a duplicate by the indexer's
// isProcessed check.
func (b *Bus) PublishIndexRequest(bookID int64, relPath, contentHash string) error {
	key := hashid.IdempotencyKey(bookID, contentHash)
	payload := IndexRequestPayload{BookID: bookID, RelativePath: relPath, ContentHash: contentHash}
	return b.Publish(context.Background(), b.indexTopic, payload, key, bookID, b.nodeID)
}

// DocIngestedPayload announces a successfully indexed book, for any
// downstream consumer interested in completion (e.g. workqueue progress,
// a future notification fan-out) rather than the ingestion event itself.
type DocIngestedPayload struct {
	BookID int64 `json:"bookId"`
}

// PublishDocIngested announces that bookID has been fully indexed.
func (b *Bus) PublishDocIngested(ctx context.Context, bookID int64) error {
	key := fmt.Sprintf("%d:indexed", bookID)
	return b.Publish(ctx, DocIngestedTopic, DocIngestedPayload{BookID: bookID}, key, bookID, b.nodeID)
}

// Handler processes one Message. Returning nil commits its offset;
// returning an error leaves the offset uncommitted so the broker redelivers
// it (to this or another consumer in the group) — the handler must
// therefore be idempotent, keyed on Message.IdempotencyKey.
type Handler func(ctx context.Context, msg Message) error

// Subscribe runs handler over every record on topic until ctx is canceled:
// poll, dispatch, commit only after a nil return, otherwise skip the commit
// and move on (the record is redelivered on the next rebalance/restart).
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.client.AddConsumeTopics(topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := b.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				b.logger.Error("bus: fetch error", "topic", e.Topic, "partition", e.Partition, "error", e.Err)
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			var env wireEnvelope
			if err := json.Unmarshal(record.Value, &env); err != nil {
				b.logger.Error("bus: malformed envelope, dropping", "offset", record.Offset, "error", err)
				return
			}

			msg := Message{
				IdempotencyKey: env.IdempotencyKey,
				BookID:         env.BookID,
				SourceNodeID:   env.SourceNodeID,
				Payload:        env.Payload,
			}

			if err := handler(ctx, msg); err != nil {
				b.logger.Warn("bus: handler failed, leaving offset uncommitted",
					"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
				return
			}

			if err := b.client.CommitRecords(ctx, record); err != nil {
				b.logger.Warn("bus: commit failed", "topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
			}
		})
	}
}
