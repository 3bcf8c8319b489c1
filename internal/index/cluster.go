package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bookcluster/internal/bookerr"
	"bookcluster/internal/cluster"
)

// Cluster is the node-local entry point into the distributed inverted
// index. It owns this node's Local partition store and routes any term
// outside it to the node the membership ring names as primary, batching
// by destination node so a multi-term request costs one RPC per owning
// node rather than one per term.
type Cluster struct {
	selfID     string
	membership *cluster.Membership
	local      *Local
	backups    int // B: number of backup replicas per term, in addition to the primary
	httpClient *http.Client
}

// NewCluster creates a Cluster bound to this node's membership view.
// backups is the backup replica count per term partition.
func NewCluster(selfID string, m *cluster.Membership, backups int) *Cluster {
	return &Cluster{
		selfID:     selfID,
		membership: m,
		local:      NewLocal(),
		backups:    backups,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Local exposes the node-local partition store. The /internal/index RPC
// handlers do not go through it; they call ServeGetAll / ServePutAll below.
func (c *Cluster) Local() *Local {
	return c.local
}

func (c *Cluster) owners(term string) []*cluster.Node {
	return c.membership.TermOwners(term, 1+c.backups)
}

// Get returns term's postings, routing to the owning node if it isn't this
// one.
func (c *Cluster) Get(ctx context.Context, term string) ([]Posting, error) {
	res, err := c.GetAll(ctx, []string{term})
	if err != nil {
		return nil, err
	}
	return res[term], nil
}

// GetAll returns postings for every term in terms, grouped by owning node
// internally so remote terms cost one request per distinct owner.
func (c *Cluster) GetAll(ctx context.Context, terms []string) (map[string][]Posting, error) {
	byNode := make(map[string][]string) // nodeID -> terms it owns
	addr := make(map[string]string)
	for _, term := range terms {
		owners := c.owners(term)
		if len(owners) == 0 {
			continue
		}
		primary := owners[0]
		byNode[primary.ID] = append(byNode[primary.ID], term)
		addr[primary.ID] = primary.Address
	}

	out := make(map[string][]Posting, len(terms))
	for nodeID, nodeTerms := range byNode {
		if nodeID == c.selfID {
			for term, postings := range c.local.GetAll(nodeTerms) {
				out[term] = postings
			}
			continue
		}
		remote, err := c.fetchRemote(ctx, addr[nodeID], nodeTerms)
		if err != nil {
			return nil, fmt.Errorf("index: fetch from node %s: %w", nodeID, err)
		}
		for term, postings := range remote {
			out[term] = postings
		}
	}
	return out, nil
}

// PutAll applies a batch of term→posting writes, coalescing them per
// owning node so a document touching T terms owned by M nodes costs M
// RPCs, not T. A posting with nil Positions removes that bookId's entry
// for the term.
func (c *Cluster) PutAll(ctx context.Context, updates map[string]Posting) error {
	byNode := make(map[string]map[string]Posting) // nodeID -> its slice of updates
	addr := make(map[string]string)
	for term, p := range updates {
		owners := c.owners(term)
		if len(owners) == 0 {
			return bookerr.ErrTransient
		}
		primary := owners[0]
		group, ok := byNode[primary.ID]
		if !ok {
			group = make(map[string]Posting)
			byNode[primary.ID] = group
			addr[primary.ID] = primary.Address
		}
		group[term] = p
	}

	for nodeID, group := range byNode {
		if nodeID == c.selfID {
			if err := c.applyOwnedBatch(ctx, group); err != nil {
				return err
			}
			continue
		}
		if err := c.forwardPutAll(ctx, addr[nodeID], group); err != nil {
			return fmt.Errorf("index: forward batch to node %s: %w", nodeID, err)
		}
	}
	return nil
}

// IndexDocument installs one document's term→positions map, deduplicating
// on idempotencyKey against at-least-once redelivery. The entry value is a
// map keyed by bookId, so "remove the old posting, install the new one"
// is a single assignment per term and the batch needs no read-merge
// round-trip first.
func (c *Cluster) IndexDocument(ctx context.Context, bookID int64, idempotencyKey string, terms map[string][]int) error {
	if c.local.IsProcessed(idempotencyKey) {
		c.local.noteDuplicateSkipped()
		return nil
	}

	updates := make(map[string]Posting, len(terms))
	for term, positions := range terms {
		updates[term] = Posting{BookID: bookID, Positions: positions}
	}
	if err := c.PutAll(ctx, updates); err != nil {
		return fmt.Errorf("index: index document %d: %w", bookID, err)
	}

	if len(terms) > 0 {
		c.local.noteDocument(bookID)
	}
	c.local.MarkProcessed(idempotencyKey)
	return nil
}

// RemoveDocument deletes bookID's posting from each term in terms. Terms
// not listed are not scanned, so a posting under an unlisted term remains.
func (c *Cluster) RemoveDocument(ctx context.Context, bookID int64, terms []string) error {
	updates := make(map[string]Posting, len(terms))
	for _, term := range terms {
		updates[term] = Posting{BookID: bookID, Positions: nil}
	}
	if err := c.PutAll(ctx, updates); err != nil {
		return fmt.Errorf("index: remove document %d: %w", bookID, err)
	}
	c.local.forgetDocument(bookID)
	return nil
}

// applyOwnedBatch applies a batch of writes this node owns as primary.
// Each term's write happens under its advisory lock, serializing
// concurrent indexers on the same term; then the whole batch is pushed to
// each backup replica — one RPC per backup node, not per term. The batch
// does not succeed until every backup has acknowledged.
func (c *Cluster) applyOwnedBatch(ctx context.Context, updates map[string]Posting) error {
	type backupTarget struct {
		address string
		writes  []backupWrite
	}
	backupsByNode := make(map[string]*backupTarget)

	for term, p := range updates {
		owners := c.owners(term)
		if len(owners) == 0 || owners[0].ID != c.selfID {
			// Ownership moved mid-batch (rebalance); let the caller retry.
			return bookerr.ErrTransient
		}

		c.local.Lock(term)
		c.local.PutPosting(term, p)
		clock := c.local.bumpOwnClock(term, c.selfID)
		c.local.Unlock(term)

		for _, backup := range owners[1:] {
			t, ok := backupsByNode[backup.ID]
			if !ok {
				t = &backupTarget{address: backup.Address}
				backupsByNode[backup.ID] = t
			}
			t.writes = append(t.writes, backupWrite{
				Term: term, BookID: p.BookID, Positions: p.Positions, Clock: clock,
			})
		}
	}

	for nodeID, target := range backupsByNode {
		if err := c.pushBackups(ctx, target.address, target.writes); err != nil {
			return fmt.Errorf("index: push backups to %s: %w", nodeID, err)
		}
	}
	return nil
}

// Stats returns this node's local stats. TotalDocuments and
// DuplicatesSkipped count the IndexDocument calls made on this node;
// TotalTerms counts every term this node has held an entry for, as primary
// or as backup, so summing it across nodes counts a replicated term more
// than once.
func (c *Cluster) Stats() Stats {
	return c.local.Stats()
}

// --- wire types -------------------------------------------------------

type getAllRequest struct {
	Terms []string `json:"terms"`
}

type getAllResponse struct {
	Postings map[string][]Posting `json:"postings"`
}

type putAllUpdate struct {
	BookID    int64 `json:"bookId"`
	Positions []int `json:"positions"` // nil means "remove"
}

type putAllRequest struct {
	Updates map[string]putAllUpdate `json:"updates"` // term -> posting write
}

type backupWrite struct {
	Term      string            `json:"term"`
	BookID    int64             `json:"bookId"`
	Positions []int             `json:"positions"`
	Clock     map[string]uint64 `json:"clock"`
}

type pushBackupRequest struct {
	Writes []backupWrite `json:"writes"`
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// --- outbound RPC -------------------------------------------------------

func (c *Cluster) fetchRemote(ctx context.Context, address string, terms []string) (map[string][]Posting, error) {
	body, err := json.Marshal(getAllRequest{Terms: terms})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s/internal/index/get-all", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out getAllResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Postings, nil
}

func (c *Cluster) forwardPutAll(ctx context.Context, address string, updates map[string]Posting) error {
	wire := make(map[string]putAllUpdate, len(updates))
	for term, p := range updates {
		wire[term] = putAllUpdate{BookID: p.BookID, Positions: p.Positions}
	}
	body, err := json.Marshal(putAllRequest{Updates: wire})
	if err != nil {
		return err
	}
	return c.postOK(ctx, address, "/internal/index/put-all", body)
}

func (c *Cluster) pushBackups(ctx context.Context, address string, writes []backupWrite) error {
	body, err := json.Marshal(pushBackupRequest{Writes: writes})
	if err != nil {
		return err
	}
	return c.postOK(ctx, address, "/internal/index/push-backup", body)
}

func (c *Cluster) postOK(ctx context.Context, address, path string, body []byte) error {
	url := fmt.Sprintf("http://%s%s", address, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out okResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("index: remote error: %s", out.Error)
	}
	return nil
}

// --- inbound RPC handlers (registered by the api package) ---------------

// ServeGetAll handles the JSON body of POST /internal/index/get-all,
// returning this node's local postings for the requested terms.
func (c *Cluster) ServeGetAll(body []byte) ([]byte, error) {
	var req getAllRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return json.Marshal(getAllResponse{Postings: c.local.GetAll(req.Terms)})
}

// ServePutAll handles POST /internal/index/put-all: a write batch forwarded
// to this node because the ring names it primary for every term in it.
func (c *Cluster) ServePutAll(ctx context.Context, body []byte) ([]byte, error) {
	var req putAllRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	updates := make(map[string]Posting, len(req.Updates))
	for term, u := range req.Updates {
		updates[term] = Posting{BookID: u.BookID, Positions: u.Positions}
	}
	return okBody(c.applyOwnedBatch(ctx, updates))
}

// ServePushBackup handles POST /internal/index/push-backup: a batch of
// synchronous backup-replica writes from the terms' primary.
func (c *Cluster) ServePushBackup(body []byte) ([]byte, error) {
	var req pushBackupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	for _, w := range req.Writes {
		c.local.applyReplicaWrite(w.Term, Posting{BookID: w.BookID, Positions: w.Positions}, replicaClock(w.Clock))
	}
	return okBody(nil)
}

func okBody(err error) ([]byte, error) {
	if err != nil {
		return json.Marshal(okResponse{OK: false, Error: err.Error()})
	}
	return json.Marshal(okResponse{OK: true})
}
