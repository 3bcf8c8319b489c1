// Package datalake is the local, per-node content-addressed store of book
// bytes: one append-only ingestion log plus a raw/header/body triple of
// files per book, laid out as YYYYMMDD/HH/<bookId>/.
package datalake

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"bookcluster/internal/bookerr"
	"bookcluster/internal/hashid"
	"bookcluster/internal/split"
)

// Status is the outcome of an Ingest call.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusAvailable  Status = "available"
	StatusError      Status = "error"
)

// IngestResult is returned by Ingest.
type IngestResult struct {
	Status          Status
	Path            string
	ReplicasWritten int
	Err             error
}

// Replicator sends a newly-ingested book's bytes to this node's peers. It is
// satisfied by cluster.Transport; defined here as a narrow interface so
// datalake has no import-time dependency on the cluster package.
type Replicator interface {
	Replicate(bookID int64, relPath string, raw, header, body []byte, contentHash string) (successCount int)
}

// Publisher announces a successfully ingested book to the indexing pipeline.
// Satisfied by bus.Bus.
type Publisher interface {
	PublishIndexRequest(bookID int64, relPath, contentHash string) error
}

// Clock abstracts wall-clock access so tests can pin the directory layout
// and log timestamps to a fixed instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Partition is one node's local slice of the datalake.
type Partition struct {
	root       string
	log        *ingestionLog
	replicator Replicator
	publisher  Publisher
	clock      Clock
}

// Option configures a Partition.
type Option func(*Partition)

// WithReplicator wires in the replication transport invoked after a
// successful local ingest.
func WithReplicator(r Replicator) Option {
	return func(p *Partition) { p.replicator = r }
}

// WithPublisher wires in the bus client used to announce index.request.
func WithPublisher(pub Publisher) Option {
	return func(p *Partition) { p.publisher = pub }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(p *Partition) { p.clock = c }
}

// Open creates or reopens the datalake partition rooted at dir.
func Open(dir string, opts ...Option) (*Partition, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create datalake root: %v", bookerr.ErrFatal, err)
	}
	log, err := newIngestionLog(filepath.Join(dir, "ingestions.log"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bookerr.ErrFatal, err)
	}
	p := &Partition{root: dir, log: log, clock: systemClock{}}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close releases the ingestion log file handle.
func (p *Partition) Close() error {
	return p.log.close()
}

// Ingest writes a new book's raw bytes to the local partition, splits out
// its header/body, appends the ingestion log entry, then best-effort
// replicates to peers and publishes an index.request. It is a no-op if
// bookID is already present locally.
func (p *Partition) Ingest(bookID int64, raw []byte) IngestResult {
	if entry, found, err := p.log.find(bookID); err != nil {
		return IngestResult{Status: StatusError, Err: err}
	} else if found {
		return IngestResult{Status: StatusAvailable, Path: entry.Path}
	}

	now := p.clock.Now()
	relPath := filepath.Join(now.Format("20060102"), now.Format("15"), fmt.Sprintf("%d", bookID))
	absPath := filepath.Join(p.root, relPath)

	header, body := split.Split(raw)

	if err := p.writeTriple(absPath, raw, header, body); err != nil {
		return IngestResult{Status: StatusError, Err: err}
	}

	if err := p.log.append(logEntry{
		Timestamp: now,
		BookID:    bookID,
		Path:      relPath,
		Bytes:     int64(len(raw)),
	}); err != nil {
		return IngestResult{Status: StatusError, Err: err}
	}

	result := IngestResult{Status: StatusDownloaded, Path: relPath}

	contentHash := hashid.Hash(raw)
	if p.replicator != nil {
		result.ReplicasWritten = p.replicator.Replicate(bookID, relPath, raw, header, body, contentHash)
	}
	if p.publisher != nil {
		// Best-effort: a publish error is discarded here and is not
		// reflected in the returned IngestResult.
		_ = p.publisher.PublishIndexRequest(bookID, relPath, contentHash)
	}

	return result
}

// Locate streams the ingestion log and returns the relative path of the
// first entry for bookID.
func (p *Partition) Locate(bookID int64) (string, bool, error) {
	entry, found, err := p.log.find(bookID)
	if err != nil {
		return "", false, err
	}
	return entry.Path, found, nil
}

// List returns the deduplicated, sorted set of bookIds known to this
// partition.
func (p *Partition) List() ([]int64, error) {
	entries, err := p.log.readAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		seen[e.BookID] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Stats reports aggregate partition size.
type Stats struct {
	BookCount  int
	TotalBytes int64
}

// Stats streams the log to compute book count and total ingested bytes.
func (p *Partition) Stats() (Stats, error) {
	entries, err := p.log.readAll()
	if err != nil {
		return Stats{}, err
	}
	seen := make(map[int64]struct{}, len(entries))
	var total int64
	for _, e := range entries {
		seen[e.BookID] = struct{}{}
		total += e.Bytes
	}
	return Stats{BookCount: len(seen), TotalBytes: total}, nil
}

// ReceiveReplica writes a replica pushed by a peer after verifying its hash.
// It never triggers onward replication or publishing, which would cause a
// replication storm.
func (p *Partition) ReceiveReplica(bookID int64, relPath string, raw, header, body []byte, expectedHash string) error {
	actual := hashid.Hash(raw)
	if actual != expectedHash {
		return fmt.Errorf("%w: expected %s got %s", bookerr.ErrHashMismatch, expectedHash, actual)
	}

	absPath := filepath.Join(p.root, relPath)
	if err := p.writeTriple(absPath, raw, header, body); err != nil {
		return err
	}

	return p.log.append(logEntry{
		Timestamp: p.clock.Now(),
		BookID:    bookID,
		Path:      relPath,
		Bytes:     int64(len(raw)),
	})
}

// ReadBody returns the body.txt bytes for a book already present locally,
// used by the indexing engine to load content to tokenize.
func (p *Partition) ReadBody(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.root, relPath, "body.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", bookerr.ErrNotFound, relPath)
		}
		return nil, err
	}
	return data, nil
}

func (p *Partition) writeTriple(absPath string, raw, header, body []byte) error {
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("create book dir: %w", err)
	}
	files := map[string][]byte{
		"raw.txt":    raw,
		"header.txt": header,
		"body.txt":   body,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(absPath, name), data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
