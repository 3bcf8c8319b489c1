package index

import (
	"sync"
)

// Local is the in-memory partition store one node holds: the subset of the
// term → posting-list map this node owns, plus the advisory lock table and
// the stats counters. It has no knowledge of cluster routing — Cluster
// (cluster.go) decides which terms belong here.
//
// State is guarded with narrowly-scoped locks rather than one global
// mutex, so unrelated terms never contend.
type Local struct {
	mu      sync.RWMutex
	entries map[string]entryValue

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	processedMu sync.Mutex
	processed   map[string]struct{}

	statsMu           sync.Mutex
	totalDocuments    map[int64]struct{}
	totalTerms        map[string]struct{}
	duplicatesSkipped int64

	backupMu     sync.Mutex
	backupClocks map[string]replicaClock

	ownMu     sync.Mutex
	ownClocks map[string]replicaClock
}

// replicaClock counts, per primary node, how many writes to one term that
// node has issued. A backup uses it to tell a replayed push (a retried RPC,
// a redelivery during partition handoff) from a push carrying writes it
// hasn't applied yet. Documents are not versioned with it: the datalake
// keys a book by bookId alone, so re-ingesting a known bookId with
// different bytes keeps the first copy. The clock exists only because two
// primaries can race on the same term mid-handoff.
type replicaClock map[string]uint64

// advances reports whether vc carries at least one write that seen does
// not already reflect. A push whose clock doesn't advance is a replay and
// must be dropped, or a retry would clobber a newer posting.
func (vc replicaClock) advances(seen replicaClock) bool {
	for node, writes := range vc {
		if writes > seen[node] {
			return true
		}
	}
	return false
}

// absorb folds other's per-primary write counts into vc, in place, keeping
// the higher count per node. After a racing handoff both primaries' writes
// end up reflected, so neither side's retry replays.
func (vc replicaClock) absorb(other replicaClock) {
	for node, writes := range other {
		if writes > vc[node] {
			vc[node] = writes
		}
	}
}

// NewLocal creates an empty local partition store.
func NewLocal() *Local {
	return &Local{
		entries:        make(map[string]entryValue),
		locks:          make(map[string]*sync.Mutex),
		processed:      make(map[string]struct{}),
		totalDocuments: make(map[int64]struct{}),
		totalTerms:     make(map[string]struct{}),
		backupClocks:   make(map[string]replicaClock),
		ownClocks:      make(map[string]replicaClock),
	}
}

// bumpOwnClock increments this primary's write counter for term and returns
// a snapshot of the resulting clock, to tag the push sent to backups.
func (l *Local) bumpOwnClock(term, selfID string) replicaClock {
	l.ownMu.Lock()
	defer l.ownMu.Unlock()
	vc, ok := l.ownClocks[term]
	if !ok {
		vc = replicaClock{}
		l.ownClocks[term] = vc
	}
	vc[selfID]++

	snap := make(replicaClock, len(vc))
	for node, writes := range vc {
		snap[node] = writes
	}
	return snap
}

// applyReplicaWrite applies an incoming backup-replica push for term,
// tagged with the sending primary's clock. A push that carries nothing
// this backup hasn't already applied — a retried RPC, a redelivery during
// partition handoff — is dropped; one that advances is applied and its
// counts absorbed, so a write from either of two racing primaries lands
// exactly once. The posting itself is last-writer-wins at the entry level,
// acceptable because indexDocument overwrites are keyed by bookID anyway.
func (l *Local) applyReplicaWrite(term string, p Posting, sender replicaClock) bool {
	l.backupMu.Lock()
	seen, ok := l.backupClocks[term]
	if !ok {
		seen = replicaClock{}
		l.backupClocks[term] = seen
	}
	if !sender.advances(seen) {
		l.backupMu.Unlock()
		return false
	}
	seen.absorb(sender)
	l.backupMu.Unlock()

	l.PutPosting(term, p)
	return true
}

// Lock acquires the per-term advisory lock for term, blocking until held.
// Callers use this to serialize read-modify-write cycles across concurrent
// indexers targeting the same term.
func (l *Local) Lock(term string) {
	l.termMutex(term).Lock()
}

// Unlock releases the per-term advisory lock for term.
func (l *Local) Unlock(term string) {
	l.termMutex(term).Unlock()
}

func (l *Local) termMutex(term string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[term]
	if !ok {
		m = &sync.Mutex{}
		l.locks[term] = m
	}
	return m
}

// Get returns the postings for one term, or nil if the term is unknown.
func (l *Local) Get(term string) []Posting {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.entries[term]
	if !ok {
		return nil
	}
	return v.postings()
}

// GetAll returns postings for each of terms, keyed by term. Terms with no
// entry are omitted from the result rather than present with a nil value.
func (l *Local) GetAll(terms []string) map[string][]Posting {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Posting, len(terms))
	for _, term := range terms {
		if v, ok := l.entries[term]; ok {
			out[term] = v.postings()
		}
	}
	return out
}

// PutPosting replaces bookID's posting for term (or removes it, if p is the
// zero value with nil Positions), creating the term's entry if needed.
// Expects the caller already holds the term's advisory lock when the write
// must be atomic with a prior read (indexDocument's read-modify-write).
func (l *Local) PutPosting(term string, p Posting) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.entries[term]
	if !ok {
		v = make(entryValue)
		l.entries[term] = v
		l.statsMu.Lock()
		l.totalTerms[term] = struct{}{}
		l.statsMu.Unlock()
	}
	if p.Positions == nil {
		delete(v, p.BookID)
		if len(v) == 0 {
			delete(l.entries, term)
		}
		return
	}
	v[p.BookID] = p
}

// RemovePosting deletes bookID's posting for term, if present.
func (l *Local) RemovePosting(term string, bookID int64) {
	l.PutPosting(term, Posting{BookID: bookID, Positions: nil})
}

// PutAll applies a batch of term→posting writes in one pass. Used by the
// cross-node RPC path so a remote request touching many terms is one call.
func (l *Local) PutAll(updates map[string]Posting) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for term, p := range updates {
		v, ok := l.entries[term]
		if !ok {
			if p.Positions == nil {
				continue
			}
			v = make(entryValue)
			l.entries[term] = v
			l.statsMu.Lock()
			l.totalTerms[term] = struct{}{}
			l.statsMu.Unlock()
		}
		if p.Positions == nil {
			delete(v, p.BookID)
			if len(v) == 0 {
				delete(l.entries, term)
			}
			continue
		}
		v[p.BookID] = p
	}
}

// Clear drops every entry this partition store holds. Used in tests and by
// a full reindex.
func (l *Local) Clear() {
	l.mu.Lock()
	l.entries = make(map[string]entryValue)
	l.mu.Unlock()

	l.statsMu.Lock()
	l.totalDocuments = make(map[int64]struct{})
	l.totalTerms = make(map[string]struct{})
	l.duplicatesSkipped = 0
	l.statsMu.Unlock()
}

// IsProcessed reports whether idempotencyKey has already been handled by
// IndexDocument, the dedup check that makes at-least-once redelivery safe.
func (l *Local) IsProcessed(idempotencyKey string) bool {
	l.processedMu.Lock()
	defer l.processedMu.Unlock()
	_, ok := l.processed[idempotencyKey]
	return ok
}

// MarkProcessed records idempotencyKey as handled.
func (l *Local) MarkProcessed(idempotencyKey string) {
	l.processedMu.Lock()
	defer l.processedMu.Unlock()
	l.processed[idempotencyKey] = struct{}{}
}

// Stats is a snapshot of this partition store's counters.
type Stats struct {
	TotalDocuments    int
	TotalTerms        int
	DuplicatesSkipped int64
}

// noteDuplicateSkipped counts an index request that was acked without
// reprocessing because its idempotency key was already marked.
func (l *Local) noteDuplicateSkipped() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.duplicatesSkipped++
}

// noteDocument records bookID as a currently-indexed document. The counter
// tracks distinct current documents, not cumulative operations — a reindex
// of an already-known book does not double count.
func (l *Local) noteDocument(bookID int64) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.totalDocuments[bookID] = struct{}{}
}

// forgetDocument removes bookID from the distinct-document set.
func (l *Local) forgetDocument(bookID int64) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	delete(l.totalDocuments, bookID)
}

// Stats returns this partition store's current counters.
func (l *Local) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return Stats{
		TotalDocuments:    len(l.totalDocuments),
		TotalTerms:        len(l.totalTerms),
		DuplicatesSkipped: l.duplicatesSkipped,
	}
}
