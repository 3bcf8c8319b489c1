// Package client is a thin Go SDK for talking to one bookcluster node over
// HTTP: ingest, search, cluster membership, and bulk-ingest control. It
// hides the JSON wire shapes cmd/bookctl and integration tests would
// otherwise hand-roll on every call.
//
// A Client talks to exactly one node. That node is responsible for
// replication, index routing, and forwarding — the SDK has no cluster-aware
// logic of its own.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bookcluster/internal/cluster"
	"bookcluster/internal/search"
	"bookcluster/internal/workqueue"
)

// Client is a connection to one bookcluster node.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client bound to baseURL (e.g. "http://localhost:8080").
// A zero timeout defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IngestResponse mirrors POST /ingest's response body.
type IngestResponse struct {
	Status          string `json:"status"`
	Path            string `json:"path"`
	ReplicasWritten int    `json:"replicasWritten"`
}

// Ingest submits a book's raw bytes for ingestion.
func (c *Client) Ingest(ctx context.Context, bookID int64, raw []byte) (*IngestResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"bookId": bookID,
		"raw":    base64.StdEncoding.EncodeToString(raw),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out IngestResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// SearchResponse mirrors GET /search's response body.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// SearchOptions narrows a Search call; zero values are omitted from the
// query string.
type SearchOptions struct {
	Mode     search.Mode
	Limit    int
	Author   string
	Language string
	Year     int
}

// Search runs a query against this node's search surface.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	if opts.Mode != "" {
		q.Set("mode", string(opts.Mode))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Author != "" {
		q.Set("author", opts.Author)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.Year != 0 {
		q.Set("year", strconv.Itoa(opts.Year))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out SearchResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// JoinCluster registers a node into the cluster's membership view.
func (c *Client) JoinCluster(ctx context.Context, nodeID, address string) error {
	body, _ := json.Marshal(cluster.Node{ID: nodeID, Address: address})
	return c.postOK(ctx, "/cluster/join", body)
}

// LeaveCluster removes a node from the cluster's membership view.
func (c *Client) LeaveCluster(ctx context.Context, nodeID string) error {
	body, _ := json.Marshal(map[string]string{"id": nodeID})
	return c.postOK(ctx, "/cluster/leave", body)
}

// NodesResponse mirrors GET /cluster/nodes's response body.
type NodesResponse struct {
	Nodes []cluster.Node `json:"nodes"`
}

// ListNodes returns every node this node's membership view knows about.
func (c *Client) ListNodes(ctx context.Context) (*NodesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cluster/nodes", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out NodesResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// BulkStart starts a bulk-ingest benchmark run of n sequential book IDs.
func (c *Client) BulkStart(ctx context.Context, n int) error {
	body, _ := json.Marshal(map[string]int{"n": n})
	return c.postOK(ctx, "/bulk/start", body)
}

// BulkStartWorkers spawns poolSize worker goroutines draining the bulk queue.
func (c *Client) BulkStartWorkers(ctx context.Context, poolSize int) error {
	body, _ := json.Marshal(map[string]int{"poolSize": poolSize})
	return c.postOK(ctx, "/bulk/workers/start", body)
}

// BulkStopWorkers signals the worker pool to drain and stop.
func (c *Client) BulkStopWorkers(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bulk/workers/stop", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// BulkStatus reports the current benchmark run's stats and per-node progress.
func (c *Client) BulkStatus(ctx context.Context) (*workqueue.StatusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bulk/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out workqueue.StatusSnapshot
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

func (c *Client) postOK(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// APIError carries the HTTP status and message from a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
