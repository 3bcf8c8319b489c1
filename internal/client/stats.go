package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// NodeStats mirrors GET /stats's response body: this node's datalake and
// index counters plus the indexing engine's acked-with-error count.
type NodeStats struct {
	Node     string `json:"node"`
	Datalake struct {
		BookCount  int   `json:"bookCount"`
		TotalBytes int64 `json:"totalBytes"`
	} `json:"datalake"`
	Index struct {
		TotalDocuments    int   `json:"totalDocuments"`
		TotalTerms        int   `json:"totalTerms"`
		DuplicatesSkipped int64 `json:"duplicatesSkipped"`
	} `json:"index"`
	IndexingErrors int64 `json:"indexingErrors"`
}

// Stats reports the node's datalake, index, and indexing-error counters.
func (c *Client) Stats(ctx context.Context) (*NodeStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
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
	var out NodeStats
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}
