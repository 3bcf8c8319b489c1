package cluster

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Transport implements the replication half of the distributed data plane:
// given a newly-ingested book, it sends the raw/header/body bytes and
// content hash to the N-1 peers the modular placement rule selects, and
// reports how many accepted it.
//
// Placement is a fixed modular slice of the peer list, not a
// consistent-hash walk (see Select below), and a peer failure is not
// retried here — a failed peer is counted; convergence happens later via
// the doc.ingested event driving the indexer (and any admin tool) to read
// from surviving replicas.
type Transport struct {
	selfID      string
	membership  *Membership
	replication int
	httpClient  *http.Client
}

// NewTransport creates a Transport bound to this node's membership view,
// replicating every ingested book to replication-1 peers.
func NewTransport(selfID string, m *Membership, replication int) *Transport {
	return &Transport{
		selfID:      selfID,
		membership:  m,
		replication: replication,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Select implements the modular placement rule: given a peer ring of
// size P (this node's peers, sorted, excluding self) and replication factor
// R, the replicas for bookID are the peers at ring indices
// (bookID mod P + i) mod P for i in [0, min(P, R-1)). This is a contiguous
// wrapping slice of the sorted peer list, not a consistent-hash walk — every
// node computes the same slice because Peers() is deterministically sorted.
func Select(peers []Node, bookID int64, replication int) []Node {
	p := len(peers)
	if p == 0 || replication <= 1 {
		return nil
	}
	count := replication - 1
	if count > p {
		count = p
	}
	start := int(((bookID % int64(p)) + int64(p)) % int64(p))

	out := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, peers[(start+i)%p])
	}
	return out
}

// PeerResponse is one peer's reply to a replicate request.
type PeerResponse struct {
	Success bool
	NodeID  string
	Message string
}

// replicatePayload is the wire body for POST /internal/replicate.
type replicatePayload struct {
	BookID        int64  `json:"bookId"`
	SourceNodeID  string `json:"sourceNodeId"`
	RelativePath  string `json:"relativePath"`
	RawContent    string `json:"rawContent"`
	HeaderContent string `json:"headerContent"`
	BodyContent   string `json:"bodyContent"`
	ContentHash   string `json:"contentHash"`
}

// replicateReply is the per-peer JSON response body.
type replicateReply struct {
	Success bool   `json:"success"`
	NodeID  string `json:"nodeId"`
	BookID  int64  `json:"bookId"`
	Message string `json:"message"`
}

// Replicate sends bookID's content to its N-1 replica peers and returns the
// count of peers that accepted it. It never blocks the caller beyond the
// per-peer timeout and never retries a failed peer. Satisfies
// datalake.Replicator.
func (t *Transport) Replicate(bookID int64, relPath string, raw, header, body []byte, contentHash string) int {
	targets := Select(t.membership.Peers(), bookID, t.replication)
	if len(targets) == 0 {
		return 0
	}

	payload := replicatePayload{
		BookID:        bookID,
		SourceNodeID:  t.selfID,
		RelativePath:  relPath,
		RawContent:    base64.StdEncoding.EncodeToString(raw),
		HeaderContent: base64.StdEncoding.EncodeToString(header),
		BodyContent:   base64.StdEncoding.EncodeToString(body),
		ContentHash:   contentHash,
	}

	results := make(chan PeerResponse, len(targets))
	for _, peer := range targets {
		go func(p Node) {
			results <- t.sendOne(p, payload)
		}(peer)
	}

	successes := 0
	for range targets {
		r := <-results
		if r.Success {
			successes++
		}
	}
	return successes
}

func (t *Transport) sendOne(peer Node, payload replicatePayload) PeerResponse {
	data, err := json.Marshal(payload)
	if err != nil {
		return PeerResponse{NodeID: peer.ID, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/internal/replicate", peer.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return PeerResponse{NodeID: peer.ID, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return PeerResponse{NodeID: peer.ID, Message: err.Error()}
	}
	defer resp.Body.Close()

	var reply replicateReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return PeerResponse{NodeID: peer.ID, Message: err.Error()}
	}
	return PeerResponse{Success: reply.Success, NodeID: reply.NodeID, Message: reply.Message}
}
